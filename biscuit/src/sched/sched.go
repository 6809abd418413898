// Package sched implements the Executor: a fair-share-with-decay
// scheduling policy. NextTask never blocks — it returns a runnable task or
// nil for the idle pseudo-task, which halts the hart until the next
// interrupt.
package sched

import "container/heap"

import "defs"
import "proc"

/// DecayPerNs is the rate at which a task's accumulator decays toward zero
/// while it waits for its turn, the decay term in the effective-priority
/// formula below.
const DecayPerNs float64 = 1.0 / 1e6 /// one accumulator unit decays per millisecond idle

/// RTThreshold is the accumulator value below which a task may be picked
/// out of normal fair-share order, a real-time shortcut around the heap.
const RTThreshold int64 = 1000

/// Hart_t is one scheduling hart's state: which task it last ran and when,
/// used to charge elapsed time to the outgoing task's accumulator.
type Hart_t struct {
	id       int
	lastTick int64
}

/// NewHart creates hart state for hart id h.
func NewHart(h int) *Hart_t { return &Hart_t{id: h} }

func effective(t *proc.Task_t, now int64) int64 {
	a := t.Accumulator - int64(float64(now-t.LastSched())*DecayPerNs)
	if a < 0 {
		a = 0
	}
	f := t.PriorityFactor
	if f <= 0 {
		f = 1
	}
	return a * f
}

// runq_t is a container/heap of candidate tasks ordered by effective value,
// tie-broken by task_id.
type runq_t struct {
	tasks []*proc.Task_t
	now   int64
}

func (q runq_t) Len() int { return len(q.tasks) }
func (q runq_t) Less(i, j int) bool {
	ei, ej := effective(q.tasks[i], q.now), effective(q.tasks[j], q.now)
	if ei != ej {
		return ei < ej
	}
	return q.tasks[i].Tid < q.tasks[j].Tid
}
func (q runq_t) Swap(i, j int)      { q.tasks[i], q.tasks[j] = q.tasks[j], q.tasks[i] }
func (q *runq_t) Push(x interface{}) { q.tasks = append(q.tasks, x.(*proc.Task_t)) }
func (q *runq_t) Pop() interface{} {
	old := q.tasks
	n := len(old)
	t := old[n-1]
	q.tasks = old[:n-1]
	return t
}

/// NextTask selects the next task to run on this hart from tt's runnable
/// set at time now (nanoseconds, monotonic). It charges the previously
/// running task's elapsed time to its accumulator and returns nil for the
/// idle pseudo-task when nothing is runnable.
func (h *Hart_t) NextTask(tt *proc.Table_t, now int64) *proc.Task_t {
	if outgoing := proc.Current(h.id); outgoing != nil && outgoing.State() == proc.Running {
		elapsed := now - h.lastTick
		if elapsed < 0 {
			elapsed = 0
		}
		outgoing.Accumulator += elapsed
		outgoing.Acct.Systadd(int(elapsed))
		outgoing.SetLastSched(now)
		outgoing.SetState(proc.Runnable)
	}
	h.lastTick = now

	runnable := tt.Runnable()
	if len(runnable) == 0 {
		proc.SetCurrent(h.id, nil)
		return nil
	}

	for _, t := range runnable {
		if t.Accumulator < RTThreshold {
			t.SetState(proc.Running)
			t.SetLastSched(now)
			proc.SetCurrent(h.id, t)
			return t
		}
	}

	q := &runq_t{tasks: runnable, now: now}
	heap.Init(q)
	winner := heap.Pop(q).(*proc.Task_t)
	winner.SetState(proc.Running)
	winner.SetLastSched(now)
	proc.SetCurrent(h.id, winner)
	return winner
}

/// WakeExpired transitions every Waiting task whose deadline has passed at
/// time now to Runnable, writing TIMEOUT into its a0 as the result of the
/// pending io_wait. It returns the tasks it woke.
func WakeExpired(tt *proc.Table_t, now int64) []*proc.Task_t {
	var woke []*proc.Task_t
	for _, t := range tt.Waiting() {
		if t.WaitUntil != 0 && now >= t.WaitUntil {
			t.Regs.X[10-1] = uintptr(defs.TIMEOUT) /// a0 (x10)
			t.SetState(proc.Runnable)
			woke = append(woke, t)
		}
	}
	return woke
}

/// Wake transitions a single Waiting task to Runnable immediately, used by
/// IPC delivery and the notification facility when their event arrives
/// before the deadline.
func Wake(t *proc.Task_t) {
	if t.State() == proc.Waiting {
		t.SetState(proc.Runnable)
	}
}

/// Destroy moves a Waiting task back to Runnable and then marks it Dead
/// through tt.Destroy, so nothing is left parked on a deadline that will
/// never matter again.
func Destroy(tt *proc.Table_t, tid defs.Tid_t, reason defs.TaskReason_t) defs.Err_t {
	t, ok := tt.Get(tid)
	if !ok {
		return defs.NOT_FOUND
	}
	if t.State() == proc.Waiting {
		t.SetState(proc.Runnable)
	}
	return tt.Destroy(tid, reason)
}
