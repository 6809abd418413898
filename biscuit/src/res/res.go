// Package res enforces a "no kernel code blocks or allocates unboundedly
// during a syscall" rule: every loop that walks a user-supplied structure (a
// packet ring, a multi-page mapping request, a user buffer copy) must
// reserve budget from the current trap's Budget_t before each iteration and
// bail out rather than spin unboundedly when the budget is exhausted.
package res

import "golang.org/x/sync/semaphore"

/// Budget_t bounds the total weighted work one trap handler may perform.
/// Built on a weighted semaphore so admission is one non-blocking
/// TryAcquire rather than a loop counter threaded through every
/// call — the same non-blocking-try-acquire shape as Resadd_noblock needs.
type Budget_t struct {
	sem *semaphore.Weighted
}

/// NewBudget creates a budget of n units, enough for n bounded-work
/// iterations at weight 1.
func NewBudget(n int64) *Budget_t {
	return &Budget_t{sem: semaphore.NewWeighted(n)}
}

// current holds the budget for the syscall executing on this hart right
// now. A real SMP build would key this per-hart (the same way proc.Current
// is per-hart); running one scheduling hart makes one package variable set
// at trap entry and cleared at trap exit sufficient for now.
var current *Budget_t

/// Enter installs b as the active budget for the trap about to run.
func Enter(b *Budget_t) { current = b }

/// Exit clears the active budget at trap return.
func Exit() { current = nil }

/// Resadd_noblock reserves weight units from the active budget without
/// blocking. Outside of any bounded context (e.g. boot code, before the
/// first trap) there is no budget installed and the call always succeeds,
/// since nothing there runs on a user-controlled loop bound.
func Resadd_noblock(weight uint) bool {
	if current == nil {
		return true
	}
	return current.sem.TryAcquire(int64(weight))
}
