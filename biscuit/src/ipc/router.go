package ipc

import "bounds"
import "defs"
import "mem"
import "proc"
import "res"
import "sched"
import "vm"

/// Router_t is the kernel's side of packet routing: scanning a sender's
/// transmit ring and delivering each entry into its destination's table.
type Router_t struct {
	tasks  *proc.Table_t
	rings  func(*proc.Task_t) (*Table_t, bool)
}

/// NewRouter builds a router over the given task table. rings extracts a
/// task's packet table from its opaque proc.Task_t.Rings handle.
func NewRouter(tasks *proc.Table_t, rings func(*proc.Task_t) (*Table_t, bool)) *Router_t {
	return &Router_t{tasks: tasks, rings: rings}
}

/// Drain scans up to maxEntries packets from sender's transmit ring,
/// routing each to its destination, and retires the scanned prefix. It
/// stops early, without retiring the unrouted remainder, the moment a
/// destination backpressures (leaving the sender's slot in its transmit
/// ring) or the trap's res.Budget_t runs dry.
func (r *Router_t) Drain(sender *proc.Task_t, senderTable *Table_t, maxEntries int) {
	senderTable.mu.Lock()
	defer senderTable.mu.Unlock()

	start := senderTable.Tx.Tail()
	pos := start
	end := senderTable.Tx.Head()
	n := 0
	for pos < end && n < maxEntries {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_IPC_ROUTER_T_DRAIN)) {
			break
		}
		slotIdx := senderTable.Tx.At(pos)
		pkt := senderTable.Slots[slotIdx]
		if !r.route(sender, senderTable, slotIdx, pkt) {
			break
		}
		pos++
		n++
	}
	senderTable.Tx.AdvanceTail(pos - start)
}

// route delivers one packet to its destination. It returns false, leaving
// the packet in place, only on destination backpressure (no free slot);
// every other failure (unknown/dead destination, non-shareable payload)
// is treated as a drop so one bad packet never blocks the rest of the
// sender's queue.
func (r *Router_t) route(sender *proc.Task_t, senderTable *Table_t, slotIdx uint16, pkt Packet_t) bool {
	destTid := defs.Tid_t(pkt.Address)
	dest, ok := r.tasks.Get(destTid)
	if !ok || dest.State() == proc.Dead {
		senderTable.Free.Push(slotIdx)
		return true
	}
	destTable, ok := r.rings(dest)
	if !ok {
		senderTable.Free.Push(slotIdx)
		return true
	}

	if pkt.Length > 0 {
		if !sharePayload(sender, pkt) {
			senderTable.Free.Push(slotIdx)
			return true
		}
	}

	destTable.mu.Lock()
	freeSlot, ok := destTable.Free.Pop()
	if !ok {
		destTable.mu.Unlock()
		return false
	}

	if pkt.Length > 0 {
		destVA := destTable.allocFreeVA()
		if destVA == 0 {
			destTable.Free.Push(freeSlot)
			destTable.mu.Unlock()
			senderTable.Free.Push(slotIdx)
			return true
		}
		perm := permsForOpcode(pkt.Opcode)
		if err := mapPayload(sender.AS, dest.AS, pkt.DataPtr, destVA, int(pkt.Length), perm); err != defs.OK {
			destTable.Free.Push(freeSlot)
			destTable.mu.Unlock()
			senderTable.Free.Push(slotIdx)
			return true
		}
		pkt.DataPtr = destVA
	}

	pkt.Address = uintptr(sender.Tid)
	destTable.Slots[freeSlot] = pkt
	if !destTable.Rx.Push(freeSlot) {
		panic("ipc: rx ring desync, free and rx depth must match slot count")
	}
	destTable.mu.Unlock()

	senderTable.Free.Push(slotIdx)
	sched.Wake(dest)
	return true
}

// sharePayload validates that every page in the sender's declared payload
// range is readable and marked SHAREABLE, returning false (IO_MEM_NOT_SHAREABLE
// territory) otherwise.
func sharePayload(sender *proc.Task_t, pkt Packet_t) bool {
	start := pkt.DataPtr &^ uintptr(mem.PGOFFSET)
	end := (pkt.DataPtr + uintptr(pkt.Length) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		perm, err := sender.AS.GetFlags(va)
		if err != defs.OK {
			return false
		}
		if perm&defs.PERM_R == 0 || perm&defs.PERM_SHAREABLE == 0 {
			return false
		}
	}
	return true
}

// mapPayload installs dest mappings for each page of [srcVA, srcVA+length)
// at consecutive destination addresses starting at dstVA, rolling back
// every page it installed if any page fails partway through.
func mapPayload(src, dst *vm.AS_t, srcVA, dstVA uintptr, length int, perm defs.Permflag_t) defs.Err_t {
	pageoff := int(srcVA) & (mem.PGSIZE - 1)
	npages := (pageoff + length + mem.PGSIZE - 1) / mem.PGSIZE
	srcBase := srcVA &^ uintptr(mem.PGOFFSET)
	dstBase := dstVA &^ uintptr(mem.PGOFFSET)

	installed := 0
	for i := 0; i < npages; i++ {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_IPC_ROUTER_T_SUBMIT)) {
			rollbackMap(dst, dstBase, installed)
			return defs.UNAVAILABLE
		}
		pa, err := src.Translate(srcBase + uintptr(i*mem.PGSIZE))
		if err != defs.OK {
			rollbackMap(dst, dstBase, installed)
			return err
		}
		if err := dst.Map(dstBase+uintptr(i*mem.PGSIZE), pa&^mem.PGOFFSET, perm); err != defs.OK {
			rollbackMap(dst, dstBase, installed)
			return err
		}
		installed++
	}
	return defs.OK
}

func rollbackMap(dst *vm.AS_t, dstBase uintptr, installed int) {
	for j := 0; j < installed; j++ {
		dst.Unmap(dstBase + uintptr(j*mem.PGSIZE))
	}
}
