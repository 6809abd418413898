// Package bounds enumerates the kernel's bounded-work call sites. Each
// constant names one loop that must never run unboundedly inside a trap;
// Bounds returns the per-iteration weight that call site should reserve from
// the active res.Budget_t before doing one unit of work.
package bounds

/// Class_t identifies one bounded-work call site.
type Class_t int

const (
	B_ASPACE_T_K2USER_INNER Class_t = iota
	B_USERBUF_T_TX
	B_AS_T_MAPRANGE
	B_VM_T_WITHOTHERVMS
	B_IPC_ROUTER_T_DRAIN
	B_IPC_ROUTER_T_SUBMIT
	B_NOTIFY_T_DELIVER
	B_SCHED_T_NEXTTASK
	B_MAX
)

// weight is the number of budget units one iteration of the named call site
// consumes. Every site costs one unit per page/packet/entry touched; a
// call site that does proportionally more work per iteration (none do, at
// this kernel's current size) would get a higher weight here.
var weight = [B_MAX]uint{
	B_ASPACE_T_K2USER_INNER: 1,
	B_USERBUF_T_TX:          1,
	B_AS_T_MAPRANGE:         1,
	B_VM_T_WITHOTHERVMS:     1,
	B_IPC_ROUTER_T_DRAIN:    1,
	B_IPC_ROUTER_T_SUBMIT:   1,
	B_NOTIFY_T_DELIVER:      1,
	B_SCHED_T_NEXTTASK:      1,
}

/// Bounds returns the budget weight one iteration of class c should
/// reserve via res.Resadd_noblock before proceeding.
func Bounds(c Class_t) uint {
	if c < 0 || c >= B_MAX {
		panic("bounds: unknown class")
	}
	return weight[c]
}
