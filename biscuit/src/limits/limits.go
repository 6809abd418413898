// Package limits holds kernel-wide size constants and the small atomic
// admission counters used to enforce them.
package limits

import "sync/atomic"
import "unsafe"

/// PGSHIFT is the base-2 exponent of the page size (4 KiB).
const PGSHIFT uint = 12

/// PGSIZE is the size in bytes of one physical frame.
const PGSIZE int = 1 << PGSHIFT

/// MAXTASKS bounds the number of live task_ids the Task Table will hand out.
const MAXTASKS int = 4096

/// MAXRINGORDER is the largest ring-size exponent a task may declare via
/// io_set_queues, so N <= 2^15.
const MAXRINGORDER uint = 15

/// MAXRINGSIZE is 2^MAXRINGORDER, the largest packet table a task may own.
const MAXRINGSIZE int = 1 << MAXRINGORDER

/// MINRINGSIZE is the smallest usable ring; a ring of zero slots can never
/// hold an in-flight packet.
const MINRINGSIZE int = 2

/// KSTACKPAGES is the size, in pages, of each task's dedicated kernel stack.
const KSTACKPAGES int = 1

/// MAXSCRATCH is the number of scratch-window slots reserved per hart. One
/// is enough for with_other_vms, but a second allows the notification path
/// to run concurrently with an in-flight IPC map on the same hart.
const MAXSCRATCH int = 2

/// MAXHARTS bounds the number of scheduling harts. The MVP boots only one,
/// but every per-hart slot (scratch windows, the current-task pointer) is
/// sized by this constant rather than hardcoded to one, so the design
/// admits more harts without a layout change.
const MAXHARTS int = 8

/// Lhits counts the number of times an admission limit refused a caller;
/// exported for the stats dump.
var Lhits int64

/// Sysatomic_t is a numeric limit that can be atomically reserved and
/// released. Given increases capacity (e.g. at boot, or when a task exits
/// and its quota is returned); Taken/Take reserve capacity and report
/// whether the reservation succeeded.
type Sysatomic_t int64

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount. It returns
/// true on success; on failure the limit is left unchanged and Lhits is
/// incremented.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	atomic.AddInt64(&Lhits, 1)
	return false
}

/// Take reserves one unit of the limit.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give releases one unit of the limit.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Value reads the current remaining quota.
func (s *Sysatomic_t) Value() int64 {
	return atomic.LoadInt64(s._aptr())
}

/// Syslimit_t tracks system-wide admission quotas enforced outside any
/// single package (the per-component buddy/ring/task-table limits are
/// enforced locally instead).
type Syslimit_t struct {
	/// Tasks bounds concurrently-live tasks, independent of MAXTASKS'
	/// task_id space (MAXTASKS bounds the id space; Tasks can be set
	/// lower to bound memory committed to task structures).
	Tasks Sysatomic_t
}

/// Syslimit holds the active configuration, seeded at package init.
var Syslimit = &Syslimit_t{
	Tasks: Sysatomic_t(MAXTASKS),
}
