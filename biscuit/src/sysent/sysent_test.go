package sysent

import "encoding/binary"
import "testing"

import "defs"
import "ipc"
import "mem"
import "notify"
import "plic"
import "proc"
import "vm"

func mksys(t *testing.T, frames int) (*System_t, *proc.Task_t) {
	t.Helper()
	ppa := mem.NewPPA(0, mem.Pa_t(frames*mem.PGSIZE))
	kh, err := vm.NewKernelHalf(ppa)
	if err != defs.OK {
		t.Fatalf("kernel half: %v", err)
	}
	as, err := vm.NewAS(ppa, kh)
	if err != defs.OK {
		t.Fatalf("new as: %v", err)
	}
	tasks := proc.NewTable()
	task, err := tasks.Create(as, 0, 0x1000, 0x7fff0000)
	if err != defs.OK {
		t.Fatalf("create: %v", err)
	}
	return &System_t{Tasks: tasks, PPA: ppa}, task
}

func TestTaskIDReturnsOwnTid(t *testing.T) {
	sys, task := mksys(t, 16)
	task.Regs.X[RegA7] = uintptr(defs.SYS_TASK_ID)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("dispatch: %v", err)
	}
	if task.Regs.X[RegA0] != uintptr(defs.OK) {
		t.Fatalf("expected OK in a0, got %v", task.Regs.X[RegA0])
	}
	if task.Regs.X[RegA1] != uintptr(task.Tid) {
		t.Fatalf("expected own tid in a1, got %v", task.Regs.X[RegA1])
	}
}

func TestUnknownOpcodeIsInvalidCall(t *testing.T) {
	sys, task := mksys(t, 16)
	task.Regs.X[RegA7] = uintptr(defs.SYS_MAX)
	if err := Dispatch(sys, task, 0, 0); err != defs.INVALID_CALL {
		t.Fatalf("expected INVALID_CALL, got %v", err)
	}
}

func TestIoWaitParksTask(t *testing.T) {
	sys, task := mksys(t, 16)
	task.Regs.X[RegA7] = uintptr(defs.SYS_IO_WAIT)
	task.Regs.X[RegA0] = uintptr(proc.WAIT_RX_AVAILABLE)
	task.Regs.X[RegA1] = 5000
	Dispatch(sys, task, 1000, 0)
	if task.State() != proc.Waiting {
		t.Fatalf("expected Waiting, got %v", task.State())
	}
	if task.WaitMask != proc.WAIT_RX_AVAILABLE {
		t.Fatalf("expected WaitMask set")
	}
	if task.WaitUntil != 5000 {
		t.Fatalf("expected deadline 5000, got %v", task.WaitUntil)
	}
}

func TestMemAllocThenDealloc(t *testing.T) {
	sys, task := mksys(t, 64)
	vaddr := vm.USERMIN
	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_ALLOC)
	task.Regs.X[RegA0] = vaddr
	task.Regs.X[RegA1] = uintptr(mem.PGSIZE * 3)
	task.Regs.X[RegA2] = uintptr(defs.PERM_R | defs.PERM_W | defs.PERM_U)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_alloc: %v", err)
	}
	if _, err := task.AS.Translate(vaddr); err != defs.OK {
		t.Fatalf("expected mapped page after alloc: %v", err)
	}

	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_DEALLOC)
	task.Regs.X[RegA0] = vaddr
	task.Regs.X[RegA1] = uintptr(mem.PGSIZE * 3)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_dealloc: %v", err)
	}
	if _, err := task.AS.Translate(vaddr); err == defs.OK {
		t.Fatalf("expected unmapped page after dealloc")
	}
}

func TestMemGetSetFlags(t *testing.T) {
	sys, task := mksys(t, 16)
	vaddr := vm.USERMIN
	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_ALLOC)
	task.Regs.X[RegA0] = vaddr
	task.Regs.X[RegA1] = uintptr(mem.PGSIZE)
	task.Regs.X[RegA2] = uintptr(defs.PERM_R | defs.PERM_U)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_alloc: %v", err)
	}

	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_SET_FLAGS)
	task.Regs.X[RegA0] = vaddr
	task.Regs.X[RegA1] = uintptr(defs.PERM_R | defs.PERM_W | defs.PERM_U)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_set_flags: %v", err)
	}

	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_GET_FLAGS)
	task.Regs.X[RegA0] = vaddr
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_get_flags: %v", err)
	}
	if defs.Permflag_t(task.Regs.X[RegA1])&defs.PERM_W == 0 {
		t.Fatalf("expected PERM_W reflected after set_flags")
	}
}

func TestTaskSpawnCreatesRunnableSibling(t *testing.T) {
	sys, task := mksys(t, 16)
	task.Regs.X[RegA7] = uintptr(defs.SYS_TASK_SPAWN)
	task.Regs.X[RegA0] = 0x9000
	task.Regs.X[RegA1] = 0x7ffe0000
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("task_spawn: %v", err)
	}
	childTid := defs.Tid_t(task.Regs.X[RegA1])
	child, ok := sys.Tasks.Get(childTid)
	if !ok {
		t.Fatalf("spawned child not found in task table")
	}
	if child.Regs.PC != 0x9000 {
		t.Fatalf("expected child PC at entry, got %#x", child.Regs.PC)
	}
	if child.State() != proc.Runnable {
		t.Fatalf("expected spawned child Runnable, got %v", child.State())
	}
}

func TestTaskDestroyMarksDead(t *testing.T) {
	sys, task := mksys(t, 16)
	child, err := sys.Tasks.Create(task.AS, 0, 0x2000, 0x7fff0000)
	if err != defs.OK {
		t.Fatalf("create: %v", err)
	}
	task.Regs.X[RegA7] = uintptr(defs.SYS_TASK_DESTROY)
	task.Regs.X[RegA0] = uintptr(child.Tid)
	task.Regs.X[RegA1] = uintptr(defs.REASON_KILLED)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("task_destroy: %v", err)
	}
	if child.State() != proc.Dead {
		t.Fatalf("expected child Dead, got %v", child.State())
	}
}

func TestTaskSuspendParksIndefinitely(t *testing.T) {
	sys, task := mksys(t, 16)
	child, err := sys.Tasks.Create(task.AS, 0, 0x2000, 0x7fff0000)
	if err != defs.OK {
		t.Fatalf("create: %v", err)
	}
	task.Regs.X[RegA7] = uintptr(defs.SYS_TASK_SUSPEND)
	task.Regs.X[RegA0] = uintptr(child.Tid)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("task_suspend: %v", err)
	}
	if child.State() != proc.Waiting || child.WaitUntil != 0 {
		t.Fatalf("expected suspended child Waiting with no deadline, got state=%v waituntil=%v", child.State(), child.WaitUntil)
	}
}

func TestDirectAllocReturnsPhysicalAddress(t *testing.T) {
	sys, task := mksys(t, 16)
	task.Regs.X[RegA7] = uintptr(defs.SYS_DIRECT_ALLOC)
	task.Regs.X[RegA0] = 4
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("sys_direct_alloc: %v", err)
	}
	if task.Regs.X[RegA1]%uintptr(mem.PGSIZE) != 0 {
		t.Fatalf("expected page-aligned physical address, got %#x", task.Regs.X[RegA1])
	}
}

func TestIoWaitDrainsOwnTransmitRing(t *testing.T) {
	sys, sender := mksys(t, 16)
	receiver, err := sys.Tasks.Create(sender.AS, 0, 0x2000, 0x7fff0000)
	if err != defs.OK {
		t.Fatalf("create receiver: %v", err)
	}
	senderTable, err := ipc.NewTable(2, nil)
	if err != defs.OK {
		t.Fatalf("new sender table: %v", err)
	}
	receiverTable, err := ipc.NewTable(2, nil)
	if err != defs.OK {
		t.Fatalf("new receiver table: %v", err)
	}
	sender.Rings = senderTable
	receiver.Rings = receiverTable

	tables := map[defs.Tid_t]*ipc.Table_t{sender.Tid: senderTable, receiver.Tid: receiverTable}
	sys.Router = ipc.NewRouter(sys.Tasks, func(task *proc.Task_t) (*ipc.Table_t, bool) {
		tbl, ok := tables[task.Tid]
		return tbl, ok
	})

	pkt := ipc.Packet_t{Address: uintptr(receiver.Tid), Opcode: defs.POP_INFO}
	if err := senderTable.Submit(pkt); err != defs.OK {
		t.Fatalf("submit: %v", err)
	}

	sender.Regs.X[RegA7] = uintptr(defs.SYS_IO_WAIT)
	sender.Regs.X[RegA0] = uintptr(proc.WAIT_RX_AVAILABLE)
	sender.Regs.X[RegA1] = 0
	Dispatch(sys, sender, 0, 0)

	got := receiverTable.DrainRx()
	if len(got) != 1 {
		t.Fatalf("expected io_wait to drain the submitted packet into the receiver, got %d", len(got))
	}
}

func TestIoNotifyReturnAcknowledgesPendingIrq(t *testing.T) {
	sys, task := mksys(t, 16)
	notify.Register(task, 0x5000)

	plc := plic.New(1)
	plc.SetPriority(9, 1)
	plc.Reserve(9, int(task.Tid))
	plc.Raise(9)
	source, ok := plc.Claim(0)
	if !ok || source != 9 {
		t.Fatalf("claim: source=%v ok=%v", source, ok)
	}
	task.SetPendingIrq(source)
	if err := notify.Deliver(task, defs.NOTIFY_EXTERNAL_INTERRUPT, source, source); err != defs.OK {
		t.Fatalf("deliver: %v", err)
	}
	sys.PLIC = plc

	task.Regs.X[RegA7] = uintptr(defs.SYS_IO_NOTIFY_RETURN)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("io_notify_return: %v", err)
	}

	plc.Raise(9)
	if got, ok := plc.Claim(0); !ok || got != 9 {
		t.Fatalf("expected source 9 reclaimable after completion, got %v ok=%v", got, ok)
	}
}

func TestIoSetQueuesReadsFreeVAFromUserMemory(t *testing.T) {
	sys, task := mksys(t, 16)
	bufVA := vm.USERMIN
	task.Regs.X[RegA7] = uintptr(defs.SYS_MEM_ALLOC)
	task.Regs.X[RegA0] = bufVA
	task.Regs.X[RegA1] = uintptr(mem.PGSIZE)
	task.Regs.X[RegA2] = uintptr(defs.PERM_R | defs.PERM_W | defs.PERM_U)
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("mem_alloc for free-va buffer: %v", err)
	}

	pa, err := task.AS.Translate(bufVA)
	if err != defs.OK {
		t.Fatalf("translate: %v", err)
	}
	frame := sys.PPA.Frame(pa)
	binary.LittleEndian.PutUint64(frame[0:8], uint64(vm.USERMIN+0x10000))
	binary.LittleEndian.PutUint64(frame[8:16], uint64(vm.USERMIN+0x20000))

	task.Regs.X[RegA7] = uintptr(defs.SYS_IO_SET_QUEUES)
	task.Regs.X[RegA0] = 2 // order: 4 slots
	task.Regs.X[RegA1] = bufVA
	task.Regs.X[RegA2] = 2
	if err := Dispatch(sys, task, 0, 0); err != defs.OK {
		t.Fatalf("io_set_queues: %v", err)
	}
	if task.Rings == nil {
		t.Fatalf("expected task.Rings installed")
	}
}
