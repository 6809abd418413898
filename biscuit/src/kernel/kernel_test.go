package kernel

import "testing"

import "abiver"
import "mem"
import "trap"

func baseInfo() BootInfo {
	return BootInfo{
		DRAMStart: 0,
		DRAMEnd:   mem.Pa_t(256 * mem.PGSIZE),
		NumHarts:  2,
		InitEntry: 0x1000,
		InitStack: 0x7fff0000,
		InitABI:   abiver.Version,
	}
}

func TestBootAssemblesEveryComponent(t *testing.T) {
	k, err := Boot(baseInfo())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if k.PPA == nil || k.Tasks == nil || k.PLIC == nil || k.Router == nil || k.System == nil || k.Fatal == nil {
		t.Fatalf("boot left a nil component: %+v", k)
	}
	if k.System.PLIC != k.PLIC || k.System.Router != k.Router {
		t.Fatalf("sysent.System_t not wired to the same PLIC/Router as Kernel")
	}
	if len(k.Harts) != 2 {
		t.Fatalf("expected 2 harts, got %d", len(k.Harts))
	}
	if k.Init == nil {
		t.Fatalf("expected task zero to be created")
	}
	if k.System.Tasks != k.Tasks || k.System.PPA != k.PPA {
		t.Fatalf("sysent.System_t not wired to the same Tasks/PPA as Kernel")
	}
}

func TestBootRejectsIncompatibleABI(t *testing.T) {
	info := baseInfo()
	info.InitABI = "v2.0.0"
	if _, err := Boot(info); err == nil {
		t.Fatalf("expected a major-version ABI mismatch to fail boot")
	}
}

func TestBootRejectsMalformedABI(t *testing.T) {
	info := baseInfo()
	info.InitABI = "not-a-version"
	if _, err := Boot(info); err == nil {
		t.Fatalf("expected a malformed ABI string to fail boot")
	}
}

func TestBootRejectsMismatchedIRQSlices(t *testing.T) {
	info := baseInfo()
	info.IRQSources = []uint32{1, 2, 3}
	info.IRQPriority = []uint32{1}
	if _, err := Boot(info); err == nil {
		t.Fatalf("expected mismatched irq source/priority lengths to fail boot")
	}
}

func TestBootAppliesIRQPriorities(t *testing.T) {
	info := baseInfo()
	info.IRQSources = []uint32{5, 9}
	info.IRQPriority = []uint32{2, 7}
	k, err := Boot(info)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	k.PLIC.Reserve(5, int(k.Init.Tid))
	k.PLIC.Raise(5)
	source, ok := k.PLIC.Claim(0)
	if !ok || source != 5 {
		t.Fatalf("expected to claim source 5 with its configured priority, got %d ok=%v", source, ok)
	}
}

func TestFatalPanicsWithoutCrashingBoot(t *testing.T) {
	k, err := Boot(baseInfo())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Fatal to panic")
		}
	}()
	k.Fatal(trap.Frame_t{Cause: trap.Cause_t(trap.CauseLoadPageFault), Tval: 0xdead0000}, k.Init)
}
