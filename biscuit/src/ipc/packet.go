// Package ipc implements the IPC Packet Plane: per-task packet tables of
// fixed-size slots linked by three index rings (transmit, receive, free),
// and the kernel-side router that moves packets between tables by flipping
// slot ownership and mapping payload pages from sender into receiver.
package ipc

import "defs"

/// Packet_t is the fixed wire-layout record carried in one slot: object
/// UUID, payload pointer and length, an offset into the object, the other
/// party's task id (see Table_t doc for which party), flags, opcode and a
/// small correlation/message id.
type Packet_t struct {
	UUID    [16]byte
	DataPtr uintptr
	Length  uintptr
	Offset  uint64
	Address uintptr /// destination task_id when filled by the sender; rewritten to the source task_id by the router before publishing into the receiver's slot
	Flags   defs.Packflag_t
	Opcode  defs.Packop_t
	ID      uint8
}

// permsForOpcode maps a packet opcode to the permission set implied by the
// opcode, installed on the mapping the router creates for its payload
// range. The _COW opcodes install the same read-only-or-requested mapping
// as their plain counterpart; true copy-on-write fault handling is not
// implemented (see DESIGN.md).
func permsForOpcode(op defs.Packop_t) defs.Permflag_t {
	switch op {
	case defs.POP_READ, defs.POP_MAP_READ, defs.POP_MAP_READ_COW:
		return defs.PERM_R | defs.PERM_U
	case defs.POP_WRITE, defs.POP_MAP_WRITE:
		return defs.PERM_W | defs.PERM_U
	case defs.POP_MAP_READ_WRITE, defs.POP_MAP_READ_WRITE_COW:
		return defs.PERM_R | defs.PERM_W | defs.PERM_U
	case defs.POP_MAP_EXEC:
		return defs.PERM_X | defs.PERM_U
	case defs.POP_MAP_READ_EXEC, defs.POP_MAP_READ_EXEC_COW:
		return defs.PERM_R | defs.PERM_X | defs.PERM_U
	default:
		return defs.PERM_R | defs.PERM_U
	}
}
