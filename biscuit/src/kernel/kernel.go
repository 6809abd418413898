// Package kernel wires every other package into one bootable image: the
// physical allocator, the kernel half of the address space, the task
// table, the executor, the IPC router, the interrupt controller and the
// syscall table. cmd/kernel's main calls Boot once and prints a summary of
// what it built; it runs no trap loop.
package kernel

import "fmt"

import "abiver"
import "caller"
import "defs"
import "ipc"
import "mem"
import "plic"
import "proc"
import "sched"
import "sysent"
import "trap"
import "vm"

// BootInfo is the boot parameter block handed to Boot by the loader: the
// DRAM region available to the PPA, the init image's entry point and
// stack, and its embedded ABI version string. The kernel persists nothing
// across a reboot beyond these boot parameters.
type BootInfo struct {
	DRAMStart    mem.Pa_t
	DRAMEnd      mem.Pa_t
	NumHarts     int
	InitEntry    uintptr
	InitStack    uintptr
	InitABI      string
	IRQSources   []uint32
	IRQPriority  []uint32
}

// Kernel is the singleton assembled by Boot: every subsystem a trap or
// syscall might need, bundled so a trap loop can thread one value through
// instead of reaching for package-level globals.
type Kernel struct {
	PPA    *mem.PPA_t
	Tasks  *proc.Table_t
	Harts  []*sched.Hart_t
	PLIC   *plic.Controller_t
	Router *ipc.Router_t
	System *sysent.System_t
	Init   *proc.Task_t
	Fatal  trap.Fatal
}

// Boot validates the init image's ABI, builds every subsystem and creates
// task zero from InitEntry/InitStack. It returns an error rather than
// calling log.Fatal itself, so cmd/kernel controls how a boot failure is
// reported and how the process exits.
func Boot(info BootInfo) (*Kernel, error) {
	if err := abiver.Check(info.InitABI); err != nil {
		return nil, err
	}
	if len(info.IRQSources) != len(info.IRQPriority) {
		return nil, fmt.Errorf("kernel: %d irq sources but %d priorities", len(info.IRQSources), len(info.IRQPriority))
	}

	ppa := mem.NewPPA(info.DRAMStart, info.DRAMEnd)
	kh, err := vm.NewKernelHalf(ppa)
	if err != defs.OK {
		return nil, fmt.Errorf("kernel: building kernel half: %v", err)
	}
	initAS, err := vm.NewAS(ppa, kh)
	if err != defs.OK {
		return nil, fmt.Errorf("kernel: building init address space: %v", err)
	}

	tasks := proc.NewTable()
	init, err := tasks.Create(initAS, 0, info.InitEntry, info.InitStack)
	if err != defs.OK {
		return nil, fmt.Errorf("kernel: creating task zero: %v", err)
	}

	harts := make([]*sched.Hart_t, info.NumHarts)
	for i := range harts {
		harts[i] = sched.NewHart(i)
	}

	pc := plic.New(info.NumHarts)
	for i, src := range info.IRQSources {
		pc.SetPriority(src, info.IRQPriority[i])
	}

	router := ipc.NewRouter(tasks, func(t *proc.Task_t) (*ipc.Table_t, bool) {
		tbl, ok := t.Rings.(*ipc.Table_t)
		return tbl, ok
	})

	sys := &sysent.System_t{Tasks: tasks, PPA: ppa, PLIC: pc, Router: router}

	return &Kernel{
		PPA:    ppa,
		Tasks:  tasks,
		Harts:  harts,
		PLIC:   pc,
		Router: router,
		System: sys,
		Init:   init,
		Fatal:  buildFatal(),
	}, nil
}

// buildFatal returns the diagnostic trap.Dispatch calls when a trap can't
// be handled any other way: a fault with no task to attribute it to, or an
// exception code outside the recognized set. It prints the cause, the
// interrupted PC, the faulting address, the stack pointer (x2 in t.Regs.X),
// the sstatus CSR captured at trap time and the task's satp, then halts by
// panicking, since a freestanding kernel has nowhere else to return to.
func buildFatal() trap.Fatal {
	return func(frame trap.Frame_t, t *proc.Task_t) {
		caller.Callerdump(2)
		var pc, sp uintptr
		var satp uint64
		if t != nil {
			pc = t.Regs.PC
			sp = t.Regs.X[1] // x2
			satp = t.AS.Satp()
		}
		fmt.Printf("fatal trap: hart=%d cause=%#x tval=%#x pc=%#x sp=%#x status=%#x satp=%#x\n",
			frame.Hart, frame.Cause, frame.Tval, pc, sp, frame.Status, satp)
		panic("fatal trap")
	}
}
