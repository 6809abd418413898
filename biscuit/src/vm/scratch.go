package vm

import "sync"

import "bounds"
import "defs"
import "mem"
import "res"

// Package vm models physical memory as one shared PPA_t whose Frame method
// any holder can call directly, so touching a foreign frame's bytes never
// strictly needs a page-table trick here. Scratch_t still reproduces the
// install/run/clear/flush shape a real scratch window forces on the
// caller: one mutex-guarded slot per hart catches the reentrant misuse a
// real implementation would deadlock or corrupt on, and the
// B_VM_T_WITHOTHERVMS budget charge mirrors the bounded-iteration
// discipline every other user-driven vm call site pays.

/// Scratch_t is one hart's scratch-window slot: a single PTE reserved in
/// this hart's own address space, used to touch one foreign physical frame
/// at a time without installing a mapping into the foreign task's page
/// tables and without switching satp.
type Scratch_t struct {
	sync.Mutex
	hartAS *AS_t
	slotVA uintptr
	inUse  bool
}

/// NewScratch reserves hart h's scratch slot in its kernel address space.
func NewScratch(hartAS *AS_t, hart int) *Scratch_t {
	return &Scratch_t{
		hartAS: hartAS,
		slotVA: SCRATCHBASE + uintptr(hart)*2*uintptr(mem.PGSIZE),
	}
}

/// WithOtherVms installs pa into this hart's scratch slot with the given
/// permissions, runs fn against a byte view of that frame, then clears the
/// slot and flushes its TLB entry before returning. Reentrant calls on the
/// same hart panic rather than silently aliasing two frames onto one slot.
func (s *Scratch_t) WithOtherVms(pa mem.Pa_t, perm defs.Permflag_t, fn func([]byte) defs.Err_t) defs.Err_t {
	s.Lock()
	if s.inUse {
		s.Unlock()
		panic("vm: scratch window reentrant use")
	}
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_WITHOTHERVMS)) {
		s.Unlock()
		return defs.UNAVAILABLE
	}
	s.inUse = true
	s.Unlock()
	defer func() {
		s.Lock()
		s.inUse = false
		s.Unlock()
	}()

	if err := s.hartAS.kh.Map(s.slotVA, pa, perm|defs.PERM_G); err != defs.OK {
		return err
	}
	defer func() {
		s.hartAS.kh.Lock()
		table, idx, werr := walk(s.hartAS.kh.ppa, s.hartAS.kh.table(s.hartAS.kh.root), s.slotVA, false)
		if werr == defs.OK {
			table[idx] = 0
		}
		s.hartAS.kh.Unlock()
		doFlush(s.slotVA)
	}()

	return fn(s.hartAS.ppa.Frame(pa))
}
