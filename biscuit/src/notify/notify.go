// Package notify implements the Notification Facility: a synchronous,
// upcall-style delivery path that preempts a task's main routine to run a
// registered handler, used for external interrupts, timers and
// inter-task signals.
package notify

import "defs"
import "proc"

// RegA0, RegA1 and RegA7 index proc.Regs_t.X (which holds x1..x31 at
// indices 0..30) for RISC-V's a0, a1 and a7 argument registers: a0 is x10,
// a1 is x11, a7 is x17.
const (
	RegA0 = 10 - 1
	RegA1 = 11 - 1
	RegA7 = 17 - 1
)

/// Register sets t's notification handler entry point (notify_register).
func Register(t *proc.Task_t, handlerVA uintptr) {
	t.NotifyHandler = handlerVA
}

/// Deliver pushes the four-word frame (old a0, a1, a7, PC) into t's
/// mailbox, places (ntype, value, source) into a0/a1/a7, redirects PC to
/// the registered handler, and transitions t into notification delivery.
/// If t is already NOTIFYING the delivery is rejected: the caller is
/// responsible for the source-specific policy (external interrupts stay
/// pending at the controller and are retried on the next claim; other
/// sources are simply dropped).
func Deliver(t *proc.Task_t, ntype defs.NotifyType_t, value uint32, source uint32) defs.Err_t {
	if t.NotifyHandler == 0 {
		return defs.INVALID_CALL
	}
	if !t.TryEnterNotifying() {
		return defs.UNAVAILABLE
	}

	t.NotifyFrame = &proc.NotifyFrame_t{
		OldA0: t.Regs.X[RegA0],
		OldA1: t.Regs.X[RegA1],
		OldA7: t.Regs.X[RegA7],
		OldPC: t.Regs.PC,
		Valid: true,
	}
	t.Regs.X[RegA0] = uintptr(ntype)
	t.Regs.X[RegA1] = uintptr(value)
	t.Regs.X[RegA7] = uintptr(source)
	t.Regs.PC = t.NotifyHandler
	t.WaitUntil = 0

	if t.State() == proc.Waiting {
		// Cancellation of an in-flight wait: the task resumes into the
		// handler, not the wait's return site, so it only needs to
		// become schedulable again.
		t.SetState(proc.Runnable)
	} else {
		t.SetState(proc.Notifying)
	}
	return defs.OK
}

/// Return implements io_notify_return: pops the saved frame, restores the
/// pre-notification registers and PC, clears NOTIFYING, and reports any
/// interrupt source awaiting acknowledgement at the platform controller
/// (the caller completes it there; notify has no PLIC handle of its own).
func Return(t *proc.Task_t) (ackSource uint32, hasAck bool, err defs.Err_t) {
	if t.NotifyFrame == nil || !t.NotifyFrame.Valid {
		return 0, false, defs.INVALID_CALL
	}
	restoreFrame(t)
	t.SetState(proc.Running)

	source := t.AckPendingIrq()
	return source, source != 0, defs.OK
}

/// Defer implements io_notify_defer: self's current notification is
/// forwarded to target with the same (type, value) and source zero, self's
/// main routine is restored as if nothing had arrived, and target is woken
/// through the ordinary Deliver path (which itself wakes a Waiting target).
func Defer(self, target *proc.Task_t) defs.Err_t {
	if self.NotifyFrame == nil || !self.NotifyFrame.Valid {
		return defs.INVALID_CALL
	}
	ntype := defs.NotifyType_t(self.Regs.X[RegA0])
	value := uint32(self.Regs.X[RegA1])

	restoreFrame(self)
	self.SetState(proc.Running)

	return Deliver(target, ntype, value, 0)
}

func restoreFrame(t *proc.Task_t) {
	f := t.NotifyFrame
	t.Regs.X[RegA0] = f.OldA0
	t.Regs.X[RegA1] = f.OldA1
	t.Regs.X[RegA7] = f.OldA7
	t.Regs.PC = f.OldPC
	f.Valid = false
	t.ClearFlag(proc.F_NOTIFYING)
}
