// Package plic models the platform-level interrupt controller: per-source
// priority and pending bits, per-context (per-hart) claim/complete
// registers, and the kernel-side source-to-task reservation table the
// notification facility consults on an external interrupt.
package plic

import "hashtable"

/// MaxSources bounds the interrupt source space; source 0 is reserved (no
/// interrupt) as on real PLIC hardware.
const MaxSources = 32

/// Context_t is one claim/complete context, ordinarily one per hart. Pending
/// sources with priority greater than threshold are eligible for Claim.
type Context_t struct {
	threshold uint32
	enabled   uint32 /// bitmask of sources this context may claim
	claimed   uint32 /// bitmask of sources claimed but not yet completed
}

/// Controller_t is the whole platform interrupt controller: per-source
/// priority and pending state shared by every context, plus the per-context
/// claim registers.
type Controller_t struct {
	priority [MaxSources]uint32
	pending  uint32

	contexts []*Context_t
	reserve  *hashtable.Hashtable_t /// source (int) -> task_id (int)
}

/// New builds a controller with n claim/complete contexts (one per hart the
/// boot configuration starts).
func New(n int) *Controller_t {
	c := &Controller_t{contexts: make([]*Context_t, n), reserve: hashtable.MkHash(MaxSources)}
	for i := range c.contexts {
		c.contexts[i] = &Context_t{enabled: ^uint32(0)}
	}
	return c
}

/// SetPriority configures source's priority (0 disables it, matching real
/// PLIC semantics where priority 0 can never be claimed).
func (c *Controller_t) SetPriority(source uint32, priority uint32) {
	c.priority[source] = priority
}

/// SetThreshold configures the minimum priority context may claim.
func (c *Controller_t) SetThreshold(context int, threshold uint32) {
	c.contexts[context].threshold = threshold
}

/// Reserve records that task owns source, so a later external interrupt on
/// that source is delivered to it via the kernel-side reservation table.
func (c *Controller_t) Reserve(source uint32, taskID int) {
	c.reserve.Set(int(source), taskID)
}

/// Reserved looks up the task reserved for source.
func (c *Controller_t) Reserved(source uint32) (int, bool) {
	v, ok := c.reserve.Get(int(source))
	if !ok {
		return 0, false
	}
	return v.(int), true
}

/// Raise marks source as pending, as if external hardware asserted it.
func (c *Controller_t) Raise(source uint32) {
	c.pending |= 1 << source
}

/// Claim returns the highest-priority pending, enabled, not-yet-claimed
/// source for context, clearing it from pending and marking it claimed.
/// It returns ok=false if nothing is eligible.
func (c *Controller_t) Claim(context int) (source uint32, ok bool) {
	ctx := c.contexts[context]
	eligible := c.pending & ctx.enabled &^ ctx.claimed
	best := uint32(0)
	bestPrio := uint32(0)
	for s := uint32(1); s < MaxSources; s++ {
		if eligible&(1<<s) == 0 {
			continue
		}
		if c.priority[s] <= ctx.threshold {
			continue
		}
		if best == 0 || c.priority[s] > bestPrio {
			best = s
			bestPrio = c.priority[s]
		}
	}
	if best == 0 {
		return 0, false
	}
	ctx.claimed |= 1 << best
	c.pending &^= 1 << best
	return best, true
}

/// Complete acknowledges source for context (the write io_notify_return
/// performs to the claim/complete register), letting it be claimed again on
/// its next assertion.
func (c *Controller_t) Complete(context int, source uint32) {
	c.contexts[context].claimed &^= 1 << source
}
