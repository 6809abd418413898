package vm

import "testing"

import "defs"
import "mem"

func mkas(t *testing.T, frames int) (*AS_t, *mem.PPA_t) {
	t.Helper()
	ppa := mem.NewPPA(0, mem.Pa_t(frames*mem.PGSIZE))
	kh, err := NewKernelHalf(ppa)
	if err != defs.OK {
		t.Fatalf("kernel half: %v", err)
	}
	as, err := NewAS(ppa, kh)
	if err != defs.OK {
		t.Fatalf("new as: %v", err)
	}
	return as, ppa
}

func TestSatpEncodesSv39ModeAndRootPPN(t *testing.T) {
	as, _ := mkas(t, 16)
	satp := as.Satp()
	if satp>>60 != 8 {
		t.Fatalf("expected Sv39 mode field 8, got %d", satp>>60)
	}
	if got := mem.Pa_t(satp&((1<<44)-1)) << mem.PGSHIFT; got != as.Root {
		t.Fatalf("expected satp PPN to decode back to root %#x, got %#x", as.Root, got)
	}
}

func TestMapTranslateRoundtrip(t *testing.T) {
	as, ppa := mkas(t, 16)
	pa, aerr := ppa.Alloc4k()
	if aerr != nil {
		t.Fatalf("alloc: %v", aerr)
	}
	va := USERMIN
	if err := as.Map(va, pa, defs.PERM_R|defs.PERM_W|defs.PERM_U); err != defs.OK {
		t.Fatalf("map: %v", err)
	}
	got, err := as.Translate(va + 0x10)
	if err != defs.OK {
		t.Fatalf("translate: %v", err)
	}
	if got != pa+0x10 {
		t.Fatalf("translate mismatch: got %#x want %#x", got, pa+0x10)
	}
}

func TestMapRejectsOverlap(t *testing.T) {
	as, ppa := mkas(t, 16)
	pa, _ := ppa.Alloc4k()
	pa2, _ := ppa.Alloc4k()
	va := USERMIN
	if err := as.Map(va, pa, defs.PERM_R|defs.PERM_U); err != defs.OK {
		t.Fatalf("first map: %v", err)
	}
	if err := as.Map(va, pa2, defs.PERM_R|defs.PERM_U); err != defs.MEM_OVERLAP {
		t.Fatalf("expected MEM_OVERLAP, got %v", err)
	}
}

func TestMapRejectsMisaligned(t *testing.T) {
	as, ppa := mkas(t, 4)
	pa, _ := ppa.Alloc4k()
	if err := as.Map(USERMIN+1, pa, defs.PERM_R|defs.PERM_U); err != defs.MEM_BAD_ALIGNMENT {
		t.Fatalf("expected MEM_BAD_ALIGNMENT, got %v", err)
	}
}

func TestUnmapThenTranslateFails(t *testing.T) {
	as, ppa := mkas(t, 4)
	pa, _ := ppa.Alloc4k()
	va := USERMIN
	as.Map(va, pa, defs.PERM_R|defs.PERM_U)
	got, err := as.Unmap(va)
	if err != defs.OK || got != pa {
		t.Fatalf("unmap: got %#x, %v", got, err)
	}
	if _, err := as.Translate(va); err != defs.NOT_MAPPED {
		t.Fatalf("expected NOT_MAPPED after unmap, got %v", err)
	}
}

// TestMapRangeRollsBackOnOverlap checks that a MapRange call that fails
// partway through leaves no mapping behind at all.
func TestMapRangeRollsBackOnOverlap(t *testing.T) {
	as, ppa := mkas(t, 16)
	base, _ := ppa.Alloc4k()
	base2, _ := ppa.Alloc(1) // two frames
	va := USERMIN

	// pre-existing mapping in the middle of the range we're about to request
	clashVa := va + uintptr(1*mem.PGSIZE)
	as.Map(clashVa, base, defs.PERM_R|defs.PERM_U)

	if err := as.MapRange(va, base2, 2, defs.PERM_R|defs.PERM_U); err != defs.MEM_OVERLAP {
		t.Fatalf("expected MEM_OVERLAP, got %v", err)
	}
	if _, err := as.Translate(va); err != defs.NOT_MAPPED {
		t.Fatalf("partial mapping survived rollback at va")
	}
	// the pre-existing clashing mapping must still be intact
	if _, err := as.Translate(clashVa); err != defs.OK {
		t.Fatalf("rollback destroyed an unrelated mapping: %v", err)
	}
}

func TestKernelHalfSharedAcrossAddressSpaces(t *testing.T) {
	ppa := mem.NewPPA(0, mem.Pa_t(32*mem.PGSIZE))
	kh, _ := NewKernelHalf(ppa)
	kpa, _ := ppa.Alloc4k()
	kva := USERMAX + uintptr(mem.PGSIZE)
	if err := kh.Map(kva, kpa, defs.PERM_R|defs.PERM_W); err != defs.OK {
		t.Fatalf("kernel map: %v", err)
	}

	as1, err := NewAS(ppa, kh)
	if err != defs.OK {
		t.Fatalf("as1: %v", err)
	}
	as2, err := NewAS(ppa, kh)
	if err != defs.OK {
		t.Fatalf("as2: %v", err)
	}
	for _, as := range []*AS_t{as1, as2} {
		got, err := as.Translate(kva)
		if err != defs.OK {
			t.Fatalf("translate kernel half: %v", err)
		}
		if got != kpa {
			t.Fatalf("kernel half mismatch: got %#x want %#x", got, kpa)
		}
	}
}

func TestWithOtherVmsReadsForeignFrame(t *testing.T) {
	ppa := mem.NewPPA(0, mem.Pa_t(8*mem.PGSIZE))
	kh, _ := NewKernelHalf(ppa)
	hartAS, _ := NewAS(ppa, kh)
	scratch := NewScratch(hartAS, 0)

	foreign, _ := ppa.Alloc4k()
	frame := ppa.Frame(foreign)
	frame[0] = 0x42

	var got byte
	err := scratch.WithOtherVms(foreign, defs.PERM_R, func(b []byte) defs.Err_t {
		got = b[0]
		return defs.OK
	})
	if err != defs.OK {
		t.Fatalf("with other vms: %v", err)
	}
	if got != 0x42 {
		t.Fatalf("got %#x want 0x42", got)
	}
}

func TestScratchWindowRejectsReentrance(t *testing.T) {
	ppa := mem.NewPPA(0, mem.Pa_t(8*mem.PGSIZE))
	kh, _ := NewKernelHalf(ppa)
	hartAS, _ := NewAS(ppa, kh)
	scratch := NewScratch(hartAS, 0)
	foreign, _ := ppa.Alloc4k()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on reentrant scratch use")
		}
	}()
	scratch.WithOtherVms(foreign, defs.PERM_R, func(b []byte) defs.Err_t {
		return scratch.WithOtherVms(foreign, defs.PERM_R, func(b []byte) defs.Err_t { return defs.OK })
	})
}

func TestUserbufRoundtrip(t *testing.T) {
	as, ppa := mkas(t, 8)
	pa, _ := ppa.Alloc4k()
	va := USERMIN
	as.Map(va, pa, defs.PERM_R|defs.PERM_W|defs.PERM_U)

	var ub Userbuf_t
	ub.Ub_init(as, va, mem.PGSIZE)
	src := []byte("hello, ferrule")
	n, err := ub.Uiowrite(src)
	if err != defs.OK || n != len(src) {
		t.Fatalf("uiowrite: n=%d err=%v", n, err)
	}

	var ub2 Userbuf_t
	ub2.Ub_init(as, va, len(src))
	dst := make([]byte, len(src))
	n, err = ub2.Uioread(dst)
	if err != defs.OK || n != len(src) {
		t.Fatalf("uioread: n=%d err=%v", n, err)
	}
	if string(dst) != string(src) {
		t.Fatalf("got %q want %q", dst, src)
	}
}

// TestFreeAllReclaimsFrames checks every frame owned solely by a destroyed
// address space returns to the allocator, while the shared kernel half
// survives untouched for the address spaces left behind.
func TestFreeAllReclaimsFrames(t *testing.T) {
	ppa := mem.NewPPA(0, mem.Pa_t(64*mem.PGSIZE))
	kh, _ := NewKernelHalf(ppa)
	kpa, _ := ppa.Alloc4k()
	kva := USERMAX + uintptr(mem.PGSIZE)
	kh.Map(kva, kpa, defs.PERM_R|defs.PERM_W)

	victim, _ := NewAS(ppa, kh)
	survivor, _ := NewAS(ppa, kh)

	pa, _ := ppa.Alloc4k()
	va := USERMIN
	victim.Map(va, pa, defs.PERM_R|defs.PERM_W|defs.PERM_U)

	victim.FreeAll()

	if _, err := survivor.Translate(kva); err != defs.OK {
		t.Fatalf("kernel half damaged by FreeAll on a sibling address space: %v", err)
	}

	// the freed frames must be allocatable again
	if _, aerr := ppa.Alloc4k(); aerr != nil {
		t.Fatalf("expected reclaimed frame to be allocatable, got: %v", aerr)
	}
}

func TestUserbufRejectsKernelPage(t *testing.T) {
	ppa := mem.NewPPA(0, mem.Pa_t(8*mem.PGSIZE))
	kh, _ := NewKernelHalf(ppa)
	as, err := NewAS(ppa, kh)
	if err != defs.OK {
		t.Fatalf("new as: %v", err)
	}
	kpa, _ := ppa.Alloc4k()
	kva := USERMAX + uintptr(mem.PGSIZE)
	kh.Map(kva, kpa, defs.PERM_R|defs.PERM_W)

	var ub Userbuf_t
	ub.Ub_init(as, kva, mem.PGSIZE)
	dst := make([]byte, 8)
	if _, err := ub.Uioread(dst); err != defs.NO_PERMISSION {
		t.Fatalf("expected NO_PERMISSION, got %v", err)
	}
}
