// Package sysent is the Syscall Table: a fixed, bounds-checked
// opcode-to-handler dispatch reached from the trap dispatcher on a user
// ecall. Every handler reads its arguments from the calling task's saved
// a0..a6 registers and returns its taxonomy value in a0, with no
// out-of-band signalling; handlers that also produce a value place it
// in a1.
package sysent

import "encoding/binary"
import "math/bits"

import "defs"
import "ipc"
import "limits"
import "mem"
import "notify"
import "plic"
import "proc"
import "sched"
import "stats"
import "vm"

// RegA0..RegA7 index proc.Regs_t.X for RISC-V's argument/opcode registers
// (x10..x17), mirroring notify.RegA0/RegA1/RegA7.
const (
	RegA0 = 10 - 1
	RegA1 = 11 - 1
	RegA2 = 12 - 1
	RegA3 = 13 - 1
	RegA4 = 14 - 1
	RegA7 = 17 - 1
)

/// System_t bundles the kernel-wide resources a syscall handler may need to
/// touch beyond the calling task itself: the task table (for spawn/destroy),
/// the physical allocator (for direct allocation), the interrupt controller
/// (to acknowledge a claim on io_notify_return) and the IPC router (to drain
/// a task's own transmit ring on io_wait). It is constructed once at boot by
/// the `kernel` package and threaded through every call to Dispatch.
type System_t struct {
	Tasks  *proc.Table_t
	PPA    *mem.PPA_t
	PLIC   *plic.Controller_t
	Router *ipc.Router_t
}

/// Dispatch decodes the opcode in t's a7 register and runs its handler,
/// writing the taxonomy result back into a0 (and, for handlers that return
/// data, the value into a1) before returning it to the caller. hart is the
/// hart t trapped on, needed only by io_notify_return's interrupt-controller
/// acknowledgement.
func Dispatch(sys *System_t, t *proc.Task_t, now int64, hart int) defs.Err_t {
	op := defs.Syscall_t(t.Regs.X[RegA7])
	if op < 0 || op >= defs.SYS_MAX {
		return finish(t, defs.INVALID_CALL, 0)
	}
	stats.Syscalls++

	switch op {
	case defs.SYS_IO_WAIT:
		return sysIoWait(sys, t, now)
	case defs.SYS_IO_SET_QUEUES:
		return sysIoSetQueues(t)
	case defs.SYS_IO_NOTIFY_RETURN:
		return sysIoNotifyReturn(sys, t, hart)
	case defs.SYS_IO_NOTIFY_DEFER:
		return sysIoNotifyDefer(sys, t)
	case defs.SYS_MEM_ALLOC:
		return sysMemAlloc(sys, t)
	case defs.SYS_MEM_DEALLOC:
		return sysMemDealloc(sys, t)
	case defs.SYS_MEM_GET_FLAGS:
		return sysMemGetFlags(t)
	case defs.SYS_MEM_SET_FLAGS:
		return sysMemSetFlags(t)
	case defs.SYS_MEM_PHYSICAL_ADDRESS:
		return sysMemPhysicalAddress(t)
	case defs.SYS_TASK_ID:
		return finish(t, defs.OK, uintptr(t.Tid))
	case defs.SYS_TASK_YIELD:
		// The executor always reconsiders the run queue after a trap
		// returns; nothing to do here but let Dispatch's caller fall
		// through to the next NextTask call.
		return finish(t, defs.OK, 0)
	case defs.SYS_TASK_SLEEP:
		return sysTaskSleep(t, now)
	case defs.SYS_TASK_SPAWN:
		return sysTaskSpawn(sys, t)
	case defs.SYS_TASK_DESTROY:
		return sysTaskDestroy(sys, t)
	case defs.SYS_TASK_SUSPEND:
		return sysTaskSuspend(sys, t)
	case defs.SYS_DIRECT_ALLOC:
		return sysDirectAlloc(sys, t)
	default:
		return finish(t, defs.INVALID_CALL, 0)
	}
}

func finish(t *proc.Task_t, err defs.Err_t, value uintptr) defs.Err_t {
	t.Regs.X[RegA0] = uintptr(err)
	t.Regs.X[RegA1] = value
	return err
}

// sysIoWait drains t's own transmit ring through the router before parking
// it: any packet t submitted and never saw routed (the common case for a
// sender that submits then immediately waits for a reply) gets its chance
// to move now, rather than sitting queued until some other trap happens to
// touch t's ring. It then parks t awaiting any event in mask until
// deadlineNs (absolute, 0 meaning no deadline), and writes OK into a0. If
// the deadline passes first, sched.WakeExpired replaces that with TIMEOUT;
// a notification delivered meanwhile places its type in a0
// (notify.Deliver); a wakeup by ipc's router leaves the OK in place.
func sysIoWait(sys *System_t, t *proc.Task_t, now int64) defs.Err_t {
	if tbl, ok := t.Rings.(*ipc.Table_t); ok && sys.Router != nil {
		sys.Router.Drain(t, tbl, tbl.N())
	}

	mask := proc.WaitMask_t(t.Regs.X[RegA0])
	deadline := int64(t.Regs.X[RegA1])
	t.WaitMask = mask
	t.WaitUntil = deadline
	t.SetState(proc.Waiting)
	return finish(t, defs.OK, 0)
}

// sysIoSetQueues implements io_set_queues: a0 is the ring-size order, a1
// points at an array of a2 little-endian uintptr virtual addresses the
// router may map inbound payloads into, read from user memory one page at
// a time via vm.Userbuf_t.
func sysIoSetQueues(t *proc.Task_t) defs.Err_t {
	order := uint(t.Regs.X[RegA0])
	ptr := t.Regs.X[RegA1]
	count := int(t.Regs.X[RegA2])
	if count < 0 || count > limits.MAXRINGSIZE {
		return finish(t, defs.INVALID_CALL, 0)
	}

	const wordsz = 8
	raw := make([]byte, count*wordsz)
	if count > 0 {
		var ub vm.Userbuf_t
		ub.Ub_init(t.AS, ptr, len(raw))
		if _, err := ub.Uioread(raw); err != defs.OK {
			return finish(t, err, 0)
		}
	}
	freeVA := make([]uintptr, count)
	for i := 0; i < count; i++ {
		freeVA[i] = uintptr(binary.LittleEndian.Uint64(raw[i*wordsz:]))
	}

	tbl, err := ipc.NewTable(order, freeVA)
	if err != defs.OK {
		return finish(t, err, 0)
	}
	t.Rings = tbl
	return finish(t, defs.OK, 0)
}

// sysIoNotifyReturn implements io_notify_return: restore the
// pre-notification registers via notify.Return, then acknowledge any
// interrupt claim it reports at the controller so the source can be
// reserved and claimed again.
func sysIoNotifyReturn(sys *System_t, t *proc.Task_t, hart int) defs.Err_t {
	ackSource, hasAck, err := notify.Return(t)
	if hasAck && sys.PLIC != nil {
		sys.PLIC.Complete(hart, ackSource)
	}
	return finish(t, err, 0)
}

func sysIoNotifyDefer(sys *System_t, t *proc.Task_t) defs.Err_t {
	targetTid := defs.Tid_t(t.Regs.X[RegA0])
	target, ok := sys.Tasks.Get(targetTid)
	if !ok {
		return finish(t, defs.NOT_FOUND, 0)
	}
	err := notify.Defer(t, target)
	return finish(t, err, 0)
}

// sysMemAlloc maps length bytes of fresh, zeroed memory at vaddr with the
// requested permission, rounding the frame count up to the next power of
// two so the backing allocation is one contiguous buddy block.
func sysMemAlloc(sys *System_t, t *proc.Task_t) defs.Err_t {
	vaddr := t.Regs.X[RegA0]
	length := int(t.Regs.X[RegA1])
	perm := defs.Permflag_t(t.Regs.X[RegA2])
	if length <= 0 {
		return finish(t, defs.INVALID_CALL, 0)
	}

	npages := (length + mem.PGSIZE - 1) / mem.PGSIZE
	order := bits.Len(uint(npages - 1))
	pa, aerr := sys.PPA.Alloc(order)
	if aerr != nil {
		return finish(t, defs.OUT_OF_MEMORY, 0)
	}
	if err := t.AS.MapRange(vaddr, pa, 1<<order, perm); err != defs.OK {
		sys.PPA.Free(pa, order)
		return finish(t, err, 0)
	}
	return finish(t, defs.OK, 0)
}

// sysMemDealloc unmaps and frees length bytes starting at vaddr, one page
// at a time; each freed frame returns to the allocator as an order-0
// block, which a buddy allocator's free path is free to recoalesce.
func sysMemDealloc(sys *System_t, t *proc.Task_t) defs.Err_t {
	vaddr := t.Regs.X[RegA0]
	length := int(t.Regs.X[RegA1])
	if length <= 0 {
		return finish(t, defs.INVALID_CALL, 0)
	}
	npages := (length + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		va := vaddr + uintptr(i*mem.PGSIZE)
		pa, err := t.AS.Unmap(va)
		if err != defs.OK {
			return finish(t, err, 0)
		}
		sys.PPA.Free(pa, 0)
	}
	return finish(t, defs.OK, 0)
}

func sysMemGetFlags(t *proc.Task_t) defs.Err_t {
	vaddr := t.Regs.X[RegA0]
	perm, err := t.AS.GetFlags(vaddr)
	return finish(t, err, uintptr(perm))
}

func sysMemSetFlags(t *proc.Task_t) defs.Err_t {
	vaddr := t.Regs.X[RegA0]
	perm := defs.Permflag_t(t.Regs.X[RegA1])
	err := t.AS.SetFlags(vaddr, perm)
	return finish(t, err, 0)
}

func sysMemPhysicalAddress(t *proc.Task_t) defs.Err_t {
	vaddr := t.Regs.X[RegA0]
	pa, err := t.AS.Translate(vaddr)
	return finish(t, err, uintptr(pa))
}

func sysTaskSleep(t *proc.Task_t, now int64) defs.Err_t {
	ns := int64(t.Regs.X[RegA0])
	t.WaitMask = 0
	t.WaitUntil = now + ns
	t.SetState(proc.Waiting)
	return finish(t, defs.OK, 0)
}

// sysTaskSpawn creates a new task sharing the caller's address space and
// starting execution at entryVA with the given user stack top. Without a
// process tree or ELF loader, task_spawn is closer to a thread create
// than a POSIX fork+exec.
func sysTaskSpawn(sys *System_t, t *proc.Task_t) defs.Err_t {
	entryVA := t.Regs.X[RegA0]
	stackTop := t.Regs.X[RegA1]
	child, err := sys.Tasks.Create(t.AS, 0, entryVA, stackTop)
	if err != defs.OK {
		return finish(t, err, 0)
	}
	return finish(t, defs.OK, uintptr(child.Tid))
}

func sysTaskDestroy(sys *System_t, t *proc.Task_t) defs.Err_t {
	tid := defs.Tid_t(t.Regs.X[RegA0])
	reason := defs.TaskReason_t(t.Regs.X[RegA1])
	err := sched.Destroy(sys.Tasks, tid, reason)
	return finish(t, err, 0)
}

// sysTaskSuspend parks target indefinitely (WaitUntil 0, no deadline
// sweep will ever wake it); only a notification delivered to it or its
// destruction can resume it, since no task_resume opcode exists in the
// syscall surface (see DESIGN.md).
func sysTaskSuspend(sys *System_t, t *proc.Task_t) defs.Err_t {
	tid := defs.Tid_t(t.Regs.X[RegA0])
	target, ok := sys.Tasks.Get(tid)
	if !ok {
		return finish(t, defs.NOT_FOUND, 0)
	}
	target.WaitMask = 0
	target.WaitUntil = 0
	target.SetState(proc.Waiting)
	return finish(t, defs.OK, 0)
}

// sysDirectAlloc bypasses VM mapping entirely, handing back a raw physical
// address for the requested number of contiguous pages (rounded up to a
// power of two), for drivers that need DMA-visible memory rather than a
// mapping in their own address space.
func sysDirectAlloc(sys *System_t, t *proc.Task_t) defs.Err_t {
	npages := int(t.Regs.X[RegA0])
	if npages <= 0 {
		return finish(t, defs.INVALID_CALL, 0)
	}
	order := bits.Len(uint(npages - 1))
	pa, err := sys.PPA.Alloc(order)
	if err != nil {
		return finish(t, defs.OUT_OF_MEMORY, 0)
	}
	return finish(t, defs.OK, uintptr(pa))
}
