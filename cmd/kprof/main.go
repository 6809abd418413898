// Command kprof exports the executor's per-task accounting (proc.Task_t's
// embedded accnt.Accnt_t) as a pprof profile.proto file, so the ordinary
// pprof toolchain (`go tool pprof`) can be pointed at a running kernel's CPU
// split between tasks without a bespoke viewer.
package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/pprof/profile"

	"kernel"
	"mem"
	"proc"
)

// export renders one task's accounting into a pprof sample. Each task gets
// its own synthetic location/function pair named "task<tid>" so pprof's
// flat view groups samples by task rather than collapsing them all under
// one symbol.
func export(tasks []*proc.Task_t) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	for i, t := range tasks {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: taskLabel(t), SystemName: taskLabel(t)}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 0}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{t.Acct.Userns, t.Acct.Sysns},
		})
	}
	return p
}

func taskLabel(t *proc.Task_t) string {
	return "task" + strconv.Itoa(int(t.Tid))
}

// bootForProfile reproduces cmd/kernel's boot parameters so kprof can be
// pointed at the same image without a running kernel process to attach to.
// A deployment with a live kernel would instead feed kprof that kernel's
// own Kernel.Tasks.
func bootForProfile() (*proc.Table_t, error) {
	k, err := kernel.Boot(kernel.BootInfo{
		DRAMStart: 0x80400000,
		DRAMEnd:   mem.Pa_t(0x80400000 + 256*mem.PGSIZE),
		NumHarts:  1,
		InitEntry: 0x10000,
		InitStack: 0x7fff0000,
		InitABI:   "v1.0.0",
	})
	if err != nil {
		return nil, err
	}
	return k.Tasks, nil
}

func main() {
	out := flag.String("out", "kernel.pprof", "output profile.proto path")
	flag.Parse()

	tasks, err := bootForProfile()
	if err != nil {
		log.Fatalf("kprof: %v", err)
	}
	p := export(tasks.All())

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("kprof: %v", err)
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		log.Fatalf("kprof: writing profile: %v", err)
	}
}
