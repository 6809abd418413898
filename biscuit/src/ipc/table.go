package ipc

import "sync"

import "circbuf"
import "defs"
import "limits"

/// Table_t is one task's packet table: N fixed slots plus transmit,
/// receive and free-stack index rings. FreeVA is the declared list of
/// destination virtual addresses the router may choose from when mapping
/// an inbound payload (io_set_queues' free_ptr/free_count); it is consumed
/// like a stack, one range per inbound mapping, and never reused while the
/// mapping is live.
type Table_t struct {
	mu sync.Mutex

	Slots []Packet_t
	Tx    *circbuf.Ring_t
	Rx    *circbuf.Ring_t
	Free  *circbuf.Ring_t

	freeVA    []uintptr
	freeVAtop int
}

/// NewTable builds a packet table of 2^order slots, with every slot
/// initially on the free stack, and the declared list of virtual
/// addresses the router may map inbound payloads into.
func NewTable(order uint, freeVA []uintptr) (*Table_t, defs.Err_t) {
	if order > limits.MAXRINGORDER {
		return nil, defs.INVALID_CALL
	}
	n := uint32(1) << order
	if int(n) < limits.MINRINGSIZE {
		return nil, defs.INVALID_CALL
	}
	t := &Table_t{
		Slots:  make([]Packet_t, n),
		Tx:     circbuf.NewRing(order),
		Rx:     circbuf.NewRing(order),
		Free:   circbuf.NewRing(order),
		freeVA: freeVA,
	}
	for i := uint16(0); i < uint16(n); i++ {
		t.Free.Push(i)
	}
	return t, defs.OK
}

/// N returns the table's slot count.
func (t *Table_t) N() int { return len(t.Slots) }

/// Submit pushes pkt into a free slot and publishes it on the transmit
/// ring, the user-side half of the submission protocol the router drains
/// on the other end; the fence between filling fields and publishing the
/// index is implicit here since Go's memory model orders same-goroutine
/// writes without an explicit barrier.
func (t *Table_t) Submit(pkt Packet_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.Free.Pop()
	if !ok {
		return defs.UNAVAILABLE
	}
	t.Slots[slot] = pkt
	if !t.Tx.Push(slot) {
		t.Free.Push(slot)
		return defs.UNAVAILABLE
	}
	return defs.OK
}

/// DrainRx pops every packet currently queued on the receive ring,
/// returning their slots to the caller; the caller (a syscall handler
/// acting on the owning task's behalf) is responsible for pushing each
/// slot back onto Free once it has consumed the packet.
func (t *Table_t) DrainRx() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint16
	for {
		slot, ok := t.Rx.Pop()
		if !ok {
			break
		}
		out = append(out, slot)
	}
	return out
}

/// allocFreeVA pops the next declared free virtual address range, or
/// returns 0 if none remain — the router then drops the whole packet and
/// returns the sender's slot to its free stack.
func (t *Table_t) allocFreeVA() uintptr {
	if t.freeVAtop >= len(t.freeVA) {
		return 0
	}
	va := t.freeVA[t.freeVAtop]
	t.freeVAtop++
	return va
}

/// Conserved reports whether free-stack depth plus both ring depths equal
/// the total slot count — the table's slot-conservation invariant.
func (t *Table_t) Conserved() bool {
	return t.Free.Len()+t.Tx.Len()+t.Rx.Len() == t.N()
}
