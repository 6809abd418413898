// Command kernel is the freestanding entry point: it parses the boot
// parameters a loader would normally pass in registers, assembles the
// kernel singleton via kernel.Boot, and reports what it built. The actual
// trap trampoline (the few lines of assembly that save registers on entry
// and restore them on resume) is out of Go's reach and lives outside this
// module; this binary exercises everything above that line.
package main

import (
	"flag"
	"fmt"
	"log"

	"kernel"
	"mem"
)

func main() {
	dramStart := flag.Uint64("dram-start", 0x80400000, "start of usable DRAM, physical address")
	dramEnd := flag.Uint64("dram-end", 0x88000000, "end of usable DRAM, physical address")
	harts := flag.Int("harts", 1, "number of scheduling harts to start")
	initEntry := flag.Uint64("init-entry", 0x10000, "init task's entry virtual address")
	initStack := flag.Uint64("init-stack", 0x7fff0000, "init task's user stack top")
	initABI := flag.String("init-abi", "v1.0.0", "init image's embedded ABI version")
	flag.Parse()

	info := kernel.BootInfo{
		DRAMStart: mem.Pa_t(*dramStart),
		DRAMEnd:   mem.Pa_t(*dramEnd),
		NumHarts:  *harts,
		InitEntry: uintptr(*initEntry),
		InitStack: uintptr(*initStack),
		InitABI:   *initABI,
	}

	k, err := kernel.Boot(info)
	if err != nil {
		log.Fatalf("kernel: boot failed: %v", err)
	}
	fmt.Printf("booted: init task %d on %d hart(s)\n", k.Init.Tid, len(k.Harts))
}
