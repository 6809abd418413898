// Package mem implements the Physical Page Allocator: a buddy allocator
// over a single contiguous DRAM region discovered at boot and handed in as
// [start,end). It hands out and reclaims 4 KiB frames, zeroing each frame
// when it is freed so a reused frame never carries a prior owner's bytes
// into a new mapping.
package mem

import "fmt"
import "sync"

/// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size in bytes of a single physical frame.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

/// PGMASK masks the frame number of an address.
const PGMASK Pa_t = ^PGOFFSET

/// MAXORDER bounds the largest block the buddy allocator will track: order o
/// covers 2^o frames, so MAXORDER=20 covers blocks up to 4GB.
const MAXORDER = 20

/// Pa_t is a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// blockstate_t tracks, per order, whether each block index at that order is
// on the free list (so Free can find a buddy in O(1) instead of scanning
// the free list).
type blockstate_t struct {
	free []bool
}

/// PPA_t is the physical page allocator: one buddy allocator over a single
/// contiguous region. Safe for concurrent use; all mutation happens under
/// one short-held mutex guarding the region's structural state, with no
/// per-hart fast path.
type PPA_t struct {
	sync.Mutex

	start   Pa_t /// first frame's physical address
	nframes int  /// total 4 KiB frames in the region
	// backing models physical DRAM content so frame-zeroing is observable;
	// a real kernel instead writes through the direct/scratch mapping.
	// Indexed by (pa-start).
	backing []byte

	freelist [MAXORDER + 1][]Pa_t
	state    [MAXORDER + 1]blockstate_t
}

var errOutOfMemory = fmt.Errorf("mem: out of memory")

/// ErrOutOfMemory is returned by Alloc when no block of the requested order
/// is available. Callers treat it as recoverable, never fatal.
func ErrOutOfMemory() error { return errOutOfMemory }

func order2frames(order int) int { return 1 << uint(order) }

// largest order whose block size divides eframes frames starting at offset
// zero and fits within the remaining region.
func maxOrderFor(offset, remaining int) int {
	order := 0
	for order < MAXORDER {
		sz := order2frames(order + 1)
		if offset%sz != 0 || sz > remaining {
			break
		}
		order++
	}
	return order
}

/// NewPPA seeds a buddy allocator from the half-open physical frame range
/// [start,end). start and end must be page aligned. The region is split
/// into the largest naturally aligned blocks that fit, same as §4.1.
func NewPPA(start, end Pa_t) *PPA_t {
	if start%Pa_t(PGSIZE) != 0 || end%Pa_t(PGSIZE) != 0 || end <= start {
		panic("mem: bad region")
	}
	nframes := int((end - start) / Pa_t(PGSIZE))
	p := &PPA_t{
		start:   start,
		nframes: nframes,
		backing: make([]byte, nframes*PGSIZE),
	}
	for o := 0; o <= MAXORDER; o++ {
		p.state[o].free = make([]bool, (nframes>>uint(o))+1)
	}

	off := 0
	for off < nframes {
		remaining := nframes - off
		order := maxOrderFor(off, remaining)
		p.pushFree(order, p.start+Pa_t(off*PGSIZE))
		off += order2frames(order)
	}
	return p
}

func (p *PPA_t) pushFree(order int, pa Pa_t) {
	p.freelist[order] = append(p.freelist[order], pa)
	idx := p.blockIndex(order, pa)
	p.state[order].free[idx] = true
}

func (p *PPA_t) blockIndex(order int, pa Pa_t) int {
	frameno := int((pa - p.start) / Pa_t(PGSIZE))
	return frameno >> uint(order)
}

// popLowest removes and returns the lowest-addressed free block at order,
// implementing "tie-break on split: always lower address" by construction
// (we always hand out the lower half and requeue the upper half, so the
// free list at any order is naturally populated low-address-first).
func (p *PPA_t) popLowest(order int) (Pa_t, bool) {
	fl := p.freelist[order]
	if len(fl) == 0 {
		return 0, false
	}
	lowi := 0
	for i := 1; i < len(fl); i++ {
		if fl[i] < fl[lowi] {
			lowi = i
		}
	}
	pa := fl[lowi]
	fl[lowi] = fl[len(fl)-1]
	p.freelist[order] = fl[:len(fl)-1]
	p.state[order].free[p.blockIndex(order, pa)] = false
	return pa, true
}

func (p *PPA_t) removeFree(order int, pa Pa_t) {
	fl := p.freelist[order]
	for i, e := range fl {
		if e == pa {
			fl[i] = fl[len(fl)-1]
			p.freelist[order] = fl[:len(fl)-1]
			break
		}
	}
	p.state[order].free[p.blockIndex(order, pa)] = false
}

/// Alloc hands out 2^order contiguous, naturally aligned frames, splitting
/// a larger free block on demand. It returns ErrOutOfMemory, never panics,
/// on exhaustion.
func (p *PPA_t) Alloc(order int) (Pa_t, error) {
	p.Lock()
	defer p.Unlock()
	return p.allocLocked(order)
}

func (p *PPA_t) allocLocked(order int) (Pa_t, error) {
	if order > MAXORDER {
		return 0, errOutOfMemory
	}
	if pa, ok := p.popLowest(order); ok {
		p.zero(pa, order)
		return pa, nil
	}
	parent, err := p.allocLocked(order + 1)
	if err != nil {
		return 0, err
	}
	half := Pa_t(order2frames(order) * PGSIZE)
	lo, hi := parent, parent+half
	p.pushFree(order, hi)
	return lo, nil
}

/// Free returns a 2^order block to the allocator, coalescing with its
/// buddy at every order where the buddy is also free, and zeroing the
/// block's bytes before it becomes visible to a future allocation (so a
/// frame never carries a prior owner's contents).
func (p *PPA_t) Free(pa Pa_t, order int) {
	p.Lock()
	defer p.Unlock()
	p.zero(pa, order)
	p.freeLocked(pa, order)
}

func (p *PPA_t) freeLocked(pa Pa_t, order int) {
	for order < MAXORDER {
		idx := p.blockIndex(order, pa)
		buddyIdx := idx ^ 1
		buddyPa := p.buddyAddr(order, pa)
		if !p.state[order].free[buddyIdx] {
			break
		}
		p.removeFree(order, buddyPa)
		if buddyPa < pa {
			pa = buddyPa
		}
		order++
	}
	p.pushFree(order, pa)
}

func (p *PPA_t) buddyAddr(order int, pa Pa_t) Pa_t {
	blocksize := Pa_t(order2frames(order) * PGSIZE)
	off := pa - p.start
	return p.start + (off ^ blocksize)
}

func (p *PPA_t) zero(pa Pa_t, order int) {
	off := int(pa - p.start)
	n := order2frames(order) * PGSIZE
	for i := off; i < off+n; i++ {
		p.backing[i] = 0
	}
}

/// Frame returns a byte slice view of the given single frame's content, for
/// kernel-internal access (the model's stand-in for a direct/scratch
/// mapping — see vm.WithOtherVms for the address-space-facing equivalent).
func (p *PPA_t) Frame(pa Pa_t) []byte {
	off := int(pa - p.start)
	return p.backing[off : off+PGSIZE]
}

/// Contains reports whether pa lies inside this allocator's managed region.
func (p *PPA_t) Contains(pa Pa_t) bool {
	return pa >= p.start && pa < p.start+Pa_t(p.nframes*PGSIZE)
}

/// Free4k is shorthand for Free(pa, 0), the common single-frame case used
/// throughout vm and ipc.
func (p *PPA_t) Free4k(pa Pa_t) { p.Free(pa, 0) }

/// Alloc4k is shorthand for Alloc(0), a single 4 KiB frame.
func (p *PPA_t) Alloc4k() (Pa_t, error) { return p.Alloc(0) }
