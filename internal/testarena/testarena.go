// Package testarena hands tests a page-aligned slab of backing memory via
// a real anonymous mmap, rather than a plain make([]byte, n) slice (whose
// alignment the Go allocator gives no guarantee about), so PPA/VM tests can
// treat the arena's start address as frame 0 the same way a real kernel
// treats the start of its DRAM region.
package testarena

import "golang.org/x/sys/unix"

// Arena is a page-aligned byte slab backing one test's simulated physical
// memory, and the unmap needed to release it.
type Arena struct {
	bytes []byte
}

// New mmaps an anonymous, page-aligned region of n bytes. n is rounded up
// to a whole number of pages.
func New(n int, pageSize int) (*Arena, error) {
	if n <= 0 {
		n = pageSize
	}
	pages := (n + pageSize - 1) / pageSize
	b, err := unix.Mmap(-1, 0, pages*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Arena{bytes: b}, nil
}

// Bytes returns the arena's backing slice.
func (a *Arena) Bytes() []byte { return a.bytes }

// Close releases the arena's backing mapping.
func (a *Arena) Close() error {
	return unix.Munmap(a.bytes)
}
