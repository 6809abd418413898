// Package trap is the Trap Dispatcher: the entry point for every
// synchronous exception, syscall, timer tick and external interrupt. It
// saves the interrupted register file into the current task, dispatches by
// cause, and returns, never touching satp on the syscall path.
package trap

import "defs"
import "notify"
import "plic"
import "proc"
import "res"
import "sched"
import "stats"
import "sysent"

// perTrapBudget is the number of bounded-work units res.Enter installs at
// the start of every trap; res.Resadd_noblock draws from it until a syscall
// handler's user-controlled loop (ring drain, multi-page map, buffer copy)
// either finishes or gets cut off.
const perTrapBudget = 4096

/// InterruptBit marks a cause as an interrupt rather than an exception,
/// per the RISC-V scause convention (other_examples' CAUSE_INTERRUPT).
const InterruptBit = uint64(1) << 63

/// Exception cause codes, RISC-V privileged spec numbering.
const (
	CauseMisalignedFetch    = 0x0
	CauseFaultFetch         = 0x1
	CauseIllegalInstruction = 0x2
	CauseBreakpoint         = 0x3
	CauseMisalignedLoad     = 0x4
	CauseFaultLoad          = 0x5
	CauseMisalignedStore    = 0x6
	CauseFaultStore         = 0x7
	CauseUserECall          = 0x8
	CauseFetchPageFault     = 0xc
	CauseLoadPageFault      = 0xd
	CauseStorePageFault     = 0xf
)

/// Interrupt cause codes, masked by InterruptBit.
const (
	CauseSupervisorTimer    = 0x5
	CauseSupervisorExternal = 0x9
)

/// Cause_t is the raw scause value saved by the trampoline: an exception
/// or interrupt code, with InterruptBit set for the latter.
type Cause_t uint64

func (c Cause_t) IsInterrupt() bool { return uint64(c)&InterruptBit != 0 }
func (c Cause_t) Code() uint64      { return uint64(c) &^ InterruptBit }

/// Frame_t is everything the assembly trampoline hands the dispatcher: the
/// cause and faulting address CSRs plus which hart and task trapped. The
/// trampoline writes directly into task.Regs (itself a single [31]uintptr
/// array, see proc.Regs_t), so there is no second copy of the register file
/// for a save/restore mismatch to creep into.
type Frame_t struct {
	Cause  Cause_t
	Tval   uintptr /// bad address for a fault, source mask for an interrupt
	Hart   int
	Status uintptr /// sstatus at trap time, for the fatal diagnostic only
}

/// Fatal is called for a page fault the kernel cannot attribute to any task
/// (task is nil), and for any exception whose cause code Dispatch does not
/// route (task is the trapping task, possibly nil). It is supplied by the kernel package so trap
/// stays free of any particular console/halt mechanism.
type Fatal func(frame Frame_t, task *proc.Task_t)

/// Dispatch routes one trap to the syscall table, the notification
/// facility or a fatal diagnostic, advancing t's saved PC past the ecall
/// on a syscall return: the resumed PC equals the ecall address plus 4,
/// never the ecall instruction itself.
func Dispatch(sys *sysent.System_t, plc *plic.Controller_t, t *proc.Task_t, frame Frame_t, now int64, fatal Fatal) {
	res.Enter(res.NewBudget(perTrapBudget))
	defer res.Exit()

	switch {
	case frame.Cause.IsInterrupt():
		dispatchInterrupt(sys, plc, frame)
	case frame.Cause.Code() == CauseUserECall:
		t.Regs.PC += 4
		sysent.Dispatch(sys, t, now, frame.Hart)
	case isPageFault(frame.Cause.Code()):
		dispatchFault(sys, t, frame, fatal)
	default:
		fatal(frame, t)
	}
}

func isPageFault(code uint64) bool {
	return code == CauseFetchPageFault || code == CauseLoadPageFault || code == CauseStorePageFault
}

// dispatchInterrupt claims the source, looks up its reservation, delivers
// a notification to the registered task (not necessarily the task that
// happened to be running when the interrupt landed), and records the
// source in pending_irq for io_notify_return to acknowledge.
func dispatchInterrupt(sys *sysent.System_t, plc *plic.Controller_t, frame Frame_t) {
	if frame.Cause.Code() != CauseSupervisorExternal {
		return /// timer interrupts need no claim; Dispatch does not run the scheduler's deadline sweep (sched.WakeExpired)
	}
	source, ok := plc.Claim(frame.Hart)
	if !ok {
		return
	}
	if int(source) < len(stats.Nirqs) {
		stats.Nirqs[source]++
	}
	stats.Irqs++
	targetTid, ok := plc.Reserved(source)
	if !ok {
		plc.Complete(frame.Hart, source)
		return
	}
	target, ok := sys.Tasks.Get(defs.Tid_t(targetTid))
	if !ok {
		plc.Complete(frame.Hart, source)
		return
	}
	if err := notify.Deliver(target, defs.NOTIFY_EXTERNAL_INTERRUPT, source, source); err != defs.OK {
		/// not delivered (the target is already in its handler, or has
		/// none): the target's pending_irq is left alone, and the claim is
		/// released with the source marked pending again, so the interrupt
		/// controller presents it anew on a later claim.
		plc.Complete(frame.Hart, source)
		plc.Raise(source)
		return
	}
	target.SetPendingIrq(source)
}

// dispatchFault applies the fault-attribution rule: a fault in a running
// user task becomes a FAULT notification; a task with no handler is
// destroyed with REASON_FAULT; a fault the kernel cannot attribute to any
// task (t == nil) is fatal.
func dispatchFault(sys *sysent.System_t, t *proc.Task_t, frame Frame_t, fatal Fatal) {
	if t == nil {
		fatal(frame, t)
		return
	}
	if err := notify.Deliver(t, defs.NOTIFY_FAULT, uint32(frame.Cause.Code()), uint32(frame.Tval)); err != defs.OK {
		sched.Destroy(sys.Tasks, t.Tid, defs.REASON_FAULT)
	}
}
