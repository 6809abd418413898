// Package proc implements the Task Table: the set of live tasks, their
// saved register state, address-space handle, notification entry point,
// scheduling accumulator and IPC ring bookkeeping, plus the state machine
// that governs how a task moves between Runnable, Running, Waiting,
// Notifying and Dead.
package proc

import "sync"
import "sync/atomic"

import "accnt"
import "defs"
import "limits"
import "vm"

/// Regs_t holds one task's saved general-purpose registers and program
/// counter, filled in by the trap trampoline on entry and consumed by it
/// on resume. x0 is hardwired to zero on RISC-V and is never saved.
type Regs_t struct {
	X  [31]uintptr /// x1 (ra) .. x31 (t6)
	PC uintptr
}

/// State_t is a task's position in the scheduling state machine.
type State_t int

const (
	Runnable State_t = iota
	Running
	Waiting
	Notifying
	Dead
)

func (s State_t) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case Running:
		return "Running"
	case Waiting:
		return "Waiting"
	case Notifying:
		return "Notifying"
	case Dead:
		return "Dead"
	default:
		return "State_t(?)"
	}
}

/// Flag_t holds the task's {NOTIFYING, NOTIFIED} bits, read in one context
/// and written in another, hence atomic.
type Flag_t uint32

const (
	F_NOTIFYING Flag_t = 1 << 0
	F_NOTIFIED  Flag_t = 1 << 1
)

/// WaitMask_t names the events task_id's io_wait is blocked on.
type WaitMask_t uint32

const (
	WAIT_TX_COMPLETED        WaitMask_t = 1 << 0
	WAIT_RX_AVAILABLE        WaitMask_t = 1 << 1
	WAIT_NOTIFICATION_PENDING WaitMask_t = 1 << 2
)

/// Task_t is the unit of scheduling and of addressability in IPC.
type Task_t struct {
	Tid defs.Tid_t

	Regs Regs_t
	AS   *vm.AS_t

	KernelStack uintptr /// mapped kernel-half VA of this task's one-page stack

	NotifyHandler uintptr /// user VA; zero if unset

	flags      uint32 /// atomic Flag_t bits
	pendingIrq uint32 /// atomic; zero when no IRQ is pending acknowledgement

	Priority       int64
	PriorityFactor int64
	Accumulator    int64 /// "a" in the fair-share-with-decay formula
	lastSched      int64 /// "last_sched" ns, updated each time the executor charges this task
	WaitUntil      int64 /// ns deadline; valid only while State == Waiting
	WaitMask       WaitMask_t

	Acct accnt.Accnt_t /// user/sys CPU time split, exported for profiling

	mu    sync.Mutex
	state State_t

	/// Rings is an opaque handle to this task's IPC packet table, installed
	/// by the ipc package at io_set_queues time. proc does not know its
	/// shape, avoiding an import cycle (ipc already depends on proc for
	/// task lookup and wakeup).
	Rings interface{}

	/// NotifyFrame holds the main routine's a0, a1, a7 and PC, saved by
	/// notify.Deliver while this task runs its notification handler and
	/// restored from it by io_notify_return and io_notify_defer.
	NotifyFrame *NotifyFrame_t
}

/// NotifyFrame_t is the four-word frame (old a0, a1, a7 and PC) saved on
/// notification delivery. It is kept only here, in the task structure, so
/// io_notify_return and io_notify_defer never parse user memory; nothing
/// is written to the user stack.
type NotifyFrame_t struct {
	OldA0, OldA1, OldA7 uintptr
	OldPC               uintptr
	Valid               bool
}

/// State returns the task's current state.
func (t *Task_t) State() State_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

/// SetState installs a new state. Callers are responsible for only making
/// transitions the state machine allows; SetState itself does not validate
/// the edge, since valid transitions depend on context (executor selection,
/// io_wait, notification delivery) spread across several packages.
func (t *Task_t) SetState(s State_t) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

/// Flags returns the current NOTIFYING/NOTIFIED bits.
func (t *Task_t) Flags() Flag_t {
	return Flag_t(atomic.LoadUint32(&t.flags))
}

/// SetFlag atomically sets bit f.
func (t *Task_t) SetFlag(f Flag_t) {
	for {
		old := atomic.LoadUint32(&t.flags)
		if atomic.CompareAndSwapUint32(&t.flags, old, old|uint32(f)) {
			return
		}
	}
}

/// ClearFlag atomically clears bit f.
func (t *Task_t) ClearFlag(f Flag_t) {
	for {
		old := atomic.LoadUint32(&t.flags)
		if atomic.CompareAndSwapUint32(&t.flags, old, old&^uint32(f)) {
			return
		}
	}
}

/// TryEnterNotifying atomically sets F_NOTIFYING if it is not already set,
/// in one indivisible transition, and reports whether it won the race: the
/// re-entrancy guard is a single compare-and-swap, not a separate load
/// then store.
func (t *Task_t) TryEnterNotifying() bool {
	for {
		old := atomic.LoadUint32(&t.flags)
		if old&uint32(F_NOTIFYING) != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&t.flags, old, old|uint32(F_NOTIFYING)) {
			return true
		}
	}
}

/// PendingIrq returns the interrupt source awaiting acknowledgement, or
/// zero.
func (t *Task_t) PendingIrq() uint32 {
	return atomic.LoadUint32(&t.pendingIrq)
}

/// SetPendingIrq records source as awaiting acknowledgement.
func (t *Task_t) SetPendingIrq(source uint32) {
	atomic.StoreUint32(&t.pendingIrq, source)
}

/// AckPendingIrq clears the pending IRQ field, returning the value it held.
func (t *Task_t) AckPendingIrq() uint32 {
	return atomic.SwapUint32(&t.pendingIrq, 0)
}

/// LastSched returns the timestamp (ns) this task was last charged
/// scheduling time at, used by the executor's decay term.
func (t *Task_t) LastSched() int64 {
	return atomic.LoadInt64(&t.lastSched)
}

/// SetLastSched records now as the timestamp this task was last charged at.
func (t *Task_t) SetLastSched(now int64) {
	atomic.StoreInt64(&t.lastSched, now)
}

/// Table_t is the set of all live tasks, keyed by task_id.
type Table_t struct {
	mu    sync.RWMutex
	tasks map[defs.Tid_t]*Task_t
	next  defs.Tid_t
}

/// NewTable creates an empty task table.
func NewTable() *Table_t {
	return &Table_t{tasks: make(map[defs.Tid_t]*Task_t)}
}

/// Create reserves a task_id and installs a new Task_t bound to as,
/// starting execution at entry with the given kernel stack. It fails with
/// OUT_OF_MEMORY if limits.MAXTASKS live tasks already exist.
func (tt *Table_t) Create(as *vm.AS_t, kstackVA uintptr, entry uintptr, stackTop uintptr) (*Task_t, defs.Err_t) {
	if !limits.Syslimit.Tasks.Take() {
		return nil, defs.OUT_OF_MEMORY
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()
	tid := tt.next
	tt.next++

	task := &Task_t{
		Tid:            tid,
		AS:             as,
		KernelStack:    kstackVA,
		Priority:       0,
		PriorityFactor: 1,
		state:          Runnable,
	}
	task.Regs.PC = entry
	task.Regs.X[1] = stackTop // x2 (sp) is X[1] under the x1..x31 indexing above
	tt.tasks[tid] = task
	return task, defs.OK
}

/// Get looks up a task by id.
func (tt *Table_t) Get(tid defs.Tid_t) (*Task_t, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, ok := tt.tasks[tid]
	return t, ok
}

/// Destroy marks a task Dead. The caller (sched/ipc) is responsible for
/// cancelling in-flight IPC addressed to it; Reap actually removes it from
/// the table and reclaims its address space.
func (tt *Table_t) Destroy(tid defs.Tid_t, reason defs.TaskReason_t) defs.Err_t {
	tt.mu.RLock()
	t, ok := tt.tasks[tid]
	tt.mu.RUnlock()
	if !ok {
		return defs.NOT_FOUND
	}
	t.SetState(Dead)
	return defs.OK
}

/// Reap drops every Dead task from the table, frees its address space's
/// frames and returns its task_id slot to the limit.
func (tt *Table_t) Reap() []defs.Tid_t {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	var reaped []defs.Tid_t
	for tid, t := range tt.tasks {
		if t.State() != Dead {
			continue
		}
		t.AS.FreeAll()
		delete(tt.tasks, tid)
		limits.Syslimit.Tasks.Give()
		reaped = append(reaped, tid)
	}
	return reaped
}

/// Runnable returns every task currently in the Runnable state, for the
/// executor to consider at selection time.
func (tt *Table_t) Runnable() []*Task_t {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	var out []*Task_t
	for _, t := range tt.tasks {
		if t.State() == Runnable {
			out = append(out, t)
		}
	}
	return out
}

/// Waiting returns every task currently Waiting, for deadline-expiry
/// sweeps.
func (tt *Table_t) Waiting() []*Task_t {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	var out []*Task_t
	for _, t := range tt.tasks {
		if t.State() == Waiting {
			out = append(out, t)
		}
	}
	return out
}

/// All returns every live task, in no particular order, for diagnostics and
/// profile export (kprof).
func (tt *Table_t) All() []*Task_t {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]*Task_t, 0, len(tt.tasks))
	for _, t := range tt.tasks {
		out = append(out, t)
	}
	return out
}

// currentByHart is the per-hart "task now running here" pointer, one slot
// per hart rather than a single global so each hart tracks its own running
// task independently.
var currentByHart [limits.MAXHARTS]*Task_t

/// Current returns the task running on hart h, or nil if the hart is idle.
func Current(h int) *Task_t {
	return currentByHart[h]
}

/// SetCurrent installs t as the task running on hart h. Called by the
/// executor at context-switch time.
func SetCurrent(h int, t *Task_t) {
	currentByHart[h] = t
}
