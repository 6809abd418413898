// Package circbuf implements the generic fixed-capacity index ring shared
// by every IPC packet table's transmit ring, receive ring and free stack:
// a power-of-two-sized array of uint16 slot indices plus a monotonically
// increasing head/tail pair, so wraparound is a bitmask instead of a modulo.
package circbuf

/// Ring_t is one index ring: capacity 2^order slots, holding uint16 packet
/// slot numbers. Head and tail only ever increase; the slot a given
/// position names is (position & mask).
type Ring_t struct {
	buf  []uint16
	mask uint32
	head uint32 /// next write position
	tail uint32 /// next read position
}

/// NewRing allocates a ring of 2^order slots. order must be small enough
/// that 1<<order fits limits.MAXRINGSIZE; callers enforce that bound since
/// it is a per-task declared value, not a circbuf invariant.
func NewRing(order uint) *Ring_t {
	n := uint32(1) << order
	return &Ring_t{buf: make([]uint16, n), mask: n - 1}
}

/// Cap returns the ring's total slot capacity.
func (r *Ring_t) Cap() int { return len(r.buf) }

/// Len returns the number of entries currently queued.
func (r *Ring_t) Len() int { return int(r.head - r.tail) }

/// Full reports whether the ring has no room for another push.
func (r *Ring_t) Full() bool { return r.Len() == len(r.buf) }

/// Empty reports whether the ring has nothing queued.
func (r *Ring_t) Empty() bool { return r.head == r.tail }

/// Push appends v at the current head and advances it. It returns false,
/// leaving the ring unmodified, if the ring is full.
func (r *Ring_t) Push(v uint16) bool {
	if r.Full() {
		return false
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return true
}

/// Pop removes and returns the value at the current tail, advancing it. It
/// returns false if the ring is empty.
func (r *Ring_t) Pop() (uint16, bool) {
	if r.Empty() {
		return 0, false
	}
	v := r.buf[r.tail&r.mask]
	r.tail++
	return v, true
}

/// Head returns the current head position (a monotonic counter, not a
/// slot index).
func (r *Ring_t) Head() uint32 { return r.head }

/// Tail returns the current tail position.
func (r *Ring_t) Tail() uint32 { return r.tail }

/// At returns the value stored at monotonic position pos, which must lie
/// in [tail, head). Used by the kernel's transmit-ring scan, which walks
/// from the sender's current tail toward its head without consuming
/// entries the way Pop would.
func (r *Ring_t) At(pos uint32) uint16 {
	if pos < r.tail || pos >= r.head {
		panic("circbuf: At out of [tail, head) range")
	}
	return r.buf[pos&r.mask]
}

/// AdvanceTail moves the tail forward by n positions without reading the
/// entries, for a scanner that has already consumed them by other means
/// (e.g. the kernel's transmit-ring drain, which reads via At then retires
/// the whole scanned prefix at once).
func (r *Ring_t) AdvanceTail(n uint32) {
	if n > r.head-r.tail {
		panic("circbuf: AdvanceTail past head")
	}
	r.tail += n
}
