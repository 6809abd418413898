package vm

import "fmt"

import "bounds"
import "defs"
import "mem"
import "res"

/// Userbuf_t assists reading and writing a task's user memory a page at a
/// time, charging one budget unit per page touched so a syscall handling a
/// user-supplied length can never spin unboundedly. Offsets are tracked so
/// a caller that gets a partial-copy error can resume where the transfer
/// left off.
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int
	as     *AS_t
}

/// Ub_init initializes the buffer for the given address space, virtual
/// address and length.
func (ub *Userbuf_t) Ub_init(as *AS_t, uva uintptr, length int) {
	if length < 0 {
		panic("negative length")
	}
	if length >= 1<<39 {
		fmt.Printf("vm: suspiciously large user buffer (%v)\n", length)
	}
	ub.userva = uva
	ub.len = length
	ub.off = 0
	ub.as = as
}

/// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

/// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

/// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(dst, false)
}

/// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(src, true)
}

// tx copies min(len(buf), ub.Remain()) bytes, one page at a time. On a
// mid-transfer error ub.off already reflects the bytes copied so far, so a
// caller may retry the remainder after fixing whatever failed.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ub.as.Lockassert_pmap()
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T_TX)) {
			return ret, defs.UNAVAILABLE
		}
		va := ub.userva + uintptr(ub.off)
		pageva := va &^ uintptr(mem.PGOFFSET)
		table, idx, err := walk(ub.as.ppa, ub.as.table(ub.as.Root), pageva, false)
		if err != defs.OK || table[idx]&PTE_V == 0 {
			return ret, defs.NOT_MAPPED
		}
		perm := pteToPerm(table[idx])
		if perm&defs.PERM_U == 0 {
			return ret, defs.NO_PERMISSION
		}
		if write && perm&defs.PERM_W == 0 {
			return ret, defs.NO_PERMISSION
		}
		frame := ub.as.ppa.Frame(ppn2pa(table[idx]))
		pageoff := int(va & uintptr(mem.PGOFFSET))
		avail := frame[pageoff:]
		left := ub.len - ub.off
		if len(avail) > left {
			avail = avail[:left]
		}

		var c int
		if write {
			c = copy(avail, buf)
		} else {
			c = copy(buf, avail)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			break
		}
	}
	return ret, defs.OK
}
