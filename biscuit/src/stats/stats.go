// Package stats holds the kernel's lightweight instrumentation: cycle
// counters and event counters that are compiled in but only incur cost when
// enabled, plus a human-readable dump used by the kprof tool and kernel
// diagnostics.
package stats

import "reflect"
import "strings"
import "sync/atomic"
import "unsafe"

import "golang.org/x/text/language"
import "golang.org/x/text/message"

// Stats and Timing gate whether counters/cycle timers actually accumulate;
// both are compiled in always so a kernel build can flip them without
// touching call sites.
const Stats = false
const Timing = false

/// Nirqs counts deliveries per interrupt source; Irqs is the running total.
var Nirqs [100]int
var Irqs int64

/// Syscalls counts every syscall dispatched, incremented regardless of the
/// Stats gate, so the total is kept even in a build with per-counter
/// instrumentation compiled out.
var Syscalls int64

// readCycle is the platform cycle-counter reader (rdcycle on RV64)
// installed through SetCycleSource; nothing in this module installs one.
// Left nil it returns 0, so tests and early boot code never need a real
// hart to call Rdtsc.
var readCycle func() uint64

/// SetCycleSource installs the platform cycle-counter reader.
func SetCycleSource(f func() uint64) {
	readCycle = f
}

/// Rdtsc returns the current cycle count when Timing is enabled and a
/// cycle source has been wired in, else 0.
func Rdtsc() uint64 {
	if Timing && readCycle != nil {
		return readCycle()
	}
	return 0
}

/// Counter_t is a statistical event counter.
type Counter_t int64

/// Cycles_t accumulates elapsed cycles.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), 1)
	}
}

/// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(since uint64) {
	if Timing {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), int64(Rdtsc()-since))
	}
}

// printer is shared by every Stats2String call; building one per call would
// reallocate the language tables on every dump.
var printer = message.NewPrinter(language.English)

/// Stats2String converts a struct of Counter_t/Cycles_t fields to a
/// printable string, with thousands separators for readability in a console
/// dump.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		name := v.Type().Field(i).Name
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += printer.Sprintf("\n\t#%s: %d", name, int64(n))
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += printer.Sprintf("\n\t#%s: %d", name, int64(n))
		}
	}
	return s + "\n"
}
