package vm

import "sync"
import "unsafe"

import "bounds"
import "defs"
import "mem"
import "res"

// flushVA is the platform TLB-invalidation routine (sfence.vma) installed
// through SetTLBFlush; nothing in this module installs one. Left nil
// (tests, early boot) it is a no-op, since nothing below the hardware
// boundary needs flushing in that setting.
var flushVA func(uintptr)

/// SetTLBFlush installs the platform TLB-invalidation routine.
func SetTLBFlush(f func(uintptr)) { flushVA = f }

func doFlush(va uintptr) {
	if flushVA != nil {
		flushVA(va)
	}
}

/// KernelHalf_t is the kernel's upper-half mapping. NewAS copies its
/// root-table entries into each new AS_t, and the lower-level tables those
/// entries point at are shared by reference, so a mapping added under an
/// existing root entry is visible in every address space and needs no TLB
/// shootdown beyond the single modified entry, since every kernel PTE
/// carries PTE_G. A root entry the kernel half gains after an address
/// space was created is not copied into that address space.
type KernelHalf_t struct {
	sync.Mutex
	root mem.Pa_t
	ppa  *mem.PPA_t
}

/// NewKernelHalf allocates the shared kernel root table.
func NewKernelHalf(ppa *mem.PPA_t) (*KernelHalf_t, defs.Err_t) {
	root, err := ppa.Alloc4k()
	if err != nil {
		return nil, defs.OUT_OF_MEMORY
	}
	return &KernelHalf_t{root: root, ppa: ppa}, defs.OK
}

func (kh *KernelHalf_t) table(pa mem.Pa_t) *Table_t {
	return (*Table_t)(unsafe.Pointer(&kh.ppa.Frame(pa)[0]))
}

/// Map installs a kernel-half mapping (see KernelHalf_t for which address
/// spaces see it). Only
/// called at boot time / by trusted kernel code; the syscall path never
/// edits satp or the kernel half.
func (kh *KernelHalf_t) Map(va uintptr, pa mem.Pa_t, perm defs.Permflag_t) defs.Err_t {
	kh.Lock()
	defer kh.Unlock()
	if va < USERMAX {
		panic("vm: kernel half map below USERMAX")
	}
	table, idx, err := walk(kh.ppa, kh.table(kh.root), va, true)
	if err != defs.OK {
		return err
	}
	if table[idx]&PTE_V != 0 {
		return defs.MEM_OVERLAP
	}
	table[idx] = mkpte(pa, permToPTE(perm)|PTE_G)
	return defs.OK
}

// rootEntriesView copies out the kernel half's root-level entries so a new
// address space can splice them into its own root table without holding
// this lock afterward.
func (kh *KernelHalf_t) rootEntriesView() [rootEntries - rootKernelBase]Pte_t {
	kh.Lock()
	defer kh.Unlock()
	root := kh.table(kh.root)
	var out [rootEntries - rootKernelBase]Pte_t
	copy(out[:], root[rootKernelBase:])
	return out
}

/// AS_t is one task's address space: its own lower-half page tables plus a
/// link to the shared kernel half. The mutex serializes structural edits
/// (map/unmap); pgfltaken is a lightweight "is this lock held for
/// page-table manipulation" marker used only for deadlock assertions.
type AS_t struct {
	sync.Mutex
	Root mem.Pa_t

	ppa *mem.PPA_t
	kh  *KernelHalf_t

	pgfltaken bool
}

/// NewAS creates an address space whose root holds a copy of the kernel
/// half's root entries as they are at this call.
func NewAS(ppa *mem.PPA_t, kh *KernelHalf_t) (*AS_t, defs.Err_t) {
	root, err := ppa.Alloc4k()
	if err != nil {
		return nil, defs.OUT_OF_MEMORY
	}
	as := &AS_t{Root: root, ppa: ppa, kh: kh}
	rt := as.table(as.Root)
	copy(rt[rootKernelBase:], kh.rootEntriesView()[:])
	return as, defs.OK
}

func (as *AS_t) table(pa mem.Pa_t) *Table_t {
	return (*Table_t)(unsafe.Pointer(&as.ppa.Frame(pa)[0]))
}

// satpModeSv39 is the mode field satp carries in its top 4 bits to select
// Sv39 paging.
const satpModeSv39 = uint64(8) << 60

/// Satp returns the satp CSR value that activates this address space:
/// Sv39 mode in the top bits, the root table's physical page number in the
/// low 44 bits.
func (as *AS_t) Satp() uint64 {
	return satpModeSv39 | uint64(as.Root)>>mem.PGSHIFT
}

/// Lock_pmap acquires the address space mutex and marks that page-table
/// manipulation is in progress.
func (as *AS_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex.
func (as *AS_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *AS_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pgfl lock must be held")
	}
}

// pteShareable is a software-defined bit (RSW field, bit 9) recording
// PERM_SHAREABLE; the hardware ignores it.
const pteShareable Pte_t = 1 << 9

func permToPTE(perm defs.Permflag_t) Pte_t {
	var f Pte_t = PTE_V | PTE_A | PTE_D
	if perm&defs.PERM_R != 0 {
		f |= PTE_R
	}
	if perm&defs.PERM_W != 0 {
		f |= PTE_W
	}
	if perm&defs.PERM_X != 0 {
		f |= PTE_X
	}
	if perm&defs.PERM_U != 0 {
		f |= PTE_U
	}
	if perm&defs.PERM_SHAREABLE != 0 {
		f |= pteShareable
	}
	return f
}

func pteToPerm(pte Pte_t) defs.Permflag_t {
	var p defs.Permflag_t
	if pte&PTE_R != 0 {
		p |= defs.PERM_R
	}
	if pte&PTE_W != 0 {
		p |= defs.PERM_W
	}
	if pte&PTE_X != 0 {
		p |= defs.PERM_X
	}
	if pte&PTE_U != 0 {
		p |= defs.PERM_U
	}
	if pte&pteShareable != 0 {
		p |= defs.PERM_SHAREABLE
	}
	return p
}

// walk descends the three Sv39 levels for va, allocating intermediate
// (level 2, level 1) tables on the way when create is true. It returns the
// level-0 (leaf) table and the index within it that names va's page.
func walk(ppa *mem.PPA_t, root *Table_t, va uintptr, create bool) (*Table_t, int, defs.Err_t) {
	table := root
	for level := 2; level > 0; level-- {
		idx := vpn(va, level)
		pte := table[idx]
		if pte&PTE_V == 0 {
			if !create {
				return nil, 0, defs.NOT_MAPPED
			}
			npa, err := ppa.Alloc4k()
			if err != nil {
				return nil, 0, defs.OUT_OF_MEMORY
			}
			table[idx] = mkpte(npa, PTE_V)
		}
		childPa := ppn2pa(table[idx])
		table = (*Table_t)(unsafe.Pointer(&ppa.Frame(childPa)[0]))
	}
	return table, vpn(va, 0), defs.OK
}

/// Map installs a single page mapping. It refuses any request overlapping
/// an existing mapping.
func (as *AS_t) Map(va uintptr, pa mem.Pa_t, perm defs.Permflag_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.mapLocked(va, pa, perm)
}

func (as *AS_t) mapLocked(va uintptr, pa mem.Pa_t, perm defs.Permflag_t) defs.Err_t {
	as.Lockassert_pmap()
	if va%uintptr(mem.PGSIZE) != 0 || uintptr(pa)%uintptr(mem.PGSIZE) != 0 {
		return defs.MEM_BAD_ALIGNMENT
	}
	if va >= USERMAX {
		return defs.MEM_INVALID_PROTECT
	}
	table, idx, err := walk(as.ppa, as.table(as.Root), va, true)
	if err != defs.OK {
		return err
	}
	if table[idx]&PTE_V != 0 {
		return defs.MEM_OVERLAP
	}
	table[idx] = mkpte(pa, permToPTE(perm))
	return defs.OK
}

/// MapRange installs count consecutive single-page mappings starting at va,
/// backed by the count consecutive frames starting at pa. If any page in
/// the range fails (overlap, alignment, OOM, or the trap's budget runs dry)
/// every page mapped so far by this call is rolled back, so no partial
/// mapping survives a failed multi-page request.
func (as *AS_t) MapRange(va uintptr, pa mem.Pa_t, count int, perm defs.Permflag_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	installed := 0
	rollback := func() {
		for j := 0; j < installed; j++ {
			as.unmapLocked(va + uintptr(j*mem.PGSIZE))
		}
	}
	for i := 0; i < count; i++ {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_AS_T_MAPRANGE)) {
			rollback()
			return defs.UNAVAILABLE
		}
		cva := va + uintptr(i*mem.PGSIZE)
		cpa := pa + mem.Pa_t(i*mem.PGSIZE)
		if err := as.mapLocked(cva, cpa, perm); err != defs.OK {
			rollback()
			return err
		}
		installed++
	}
	return defs.OK
}

/// Unmap removes a single mapping and flushes its TLB entry.
func (as *AS_t) Unmap(va uintptr) (mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.unmapLocked(va)
}

func (as *AS_t) unmapLocked(va uintptr) (mem.Pa_t, defs.Err_t) {
	as.Lockassert_pmap()
	table, idx, err := walk(as.ppa, as.table(as.Root), va, false)
	if err != defs.OK || table[idx]&PTE_V == 0 {
		return 0, defs.NOT_MAPPED
	}
	pa := ppn2pa(table[idx])
	table[idx] = 0
	doFlush(va)
	return pa, defs.OK
}

/// Translate resolves a virtual address to its backing physical frame.
func (as *AS_t) Translate(va uintptr) (mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	table, idx, err := walk(as.ppa, as.table(as.Root), va&^uintptr(mem.PGOFFSET), false)
	if err != defs.OK || table[idx]&PTE_V == 0 {
		return 0, defs.NOT_MAPPED
	}
	return ppn2pa(table[idx]) | mem.Pa_t(va&uintptr(mem.PGOFFSET)), defs.OK
}

/// GetFlags reports the permission bits currently installed at va.
func (as *AS_t) GetFlags(va uintptr) (defs.Permflag_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	table, idx, err := walk(as.ppa, as.table(as.Root), va&^uintptr(mem.PGOFFSET), false)
	if err != defs.OK || table[idx]&PTE_V == 0 {
		return 0, defs.NOT_MAPPED
	}
	return pteToPerm(table[idx]), defs.OK
}

/// SetFlags rewrites the permission bits at va, leaving the mapped frame
/// untouched.
func (as *AS_t) SetFlags(va uintptr, perm defs.Permflag_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	table, idx, err := walk(as.ppa, as.table(as.Root), va&^uintptr(mem.PGOFFSET), false)
	if err != defs.OK || table[idx]&PTE_V == 0 {
		return defs.NOT_MAPPED
	}
	pa := ppn2pa(table[idx])
	table[idx] = mkpte(pa, permToPTE(perm))
	doFlush(va)
	return defs.OK
}
