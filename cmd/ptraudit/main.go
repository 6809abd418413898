// Command ptraudit mechanizes the kernel's "never trust user pointers"
// rule: it builds the whole-program call graph rooted at every exported
// function in ipc and sysent (the two packages that turn a task-supplied
// virtual address into something the kernel dereferences) and reports any
// reachable function outside mem or vm that converts to unsafe.Pointer.
// Those two packages are the only place raw pointer arithmetic on a
// user-controlled address is allowed to live.
package main

import (
	"fmt"
	"go/types"
	"os"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const (
	entryA = "ipc"
	entryB = "sysent"
)

var allowed = map[string]bool{"mem": true, "vm": true}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ptraudit:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &packages.Config{Mode: packages.LoadAllSyntax}
	pkgs, err := packages.Load(cfg, entryA, entryB)
	if err != nil {
		return fmt.Errorf("loading: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("packages failed to type-check")
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	var entries []*ssa.Function
	for _, p := range ssaPkgs {
		if p == nil {
			continue
		}
		if p.Pkg.Path() == entryA || p.Pkg.Path() == entryB {
			for _, member := range p.Members {
				if fn, ok := member.(*ssa.Function); ok && fn.Blocks != nil {
					entries = append(entries, fn)
				}
			}
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entry functions found in %s/%s", entryA, entryB)
	}

	result, err := pointer.Analyze(&pointer.Config{
		Mains:          mainPackages(ssaPkgs),
		BuildCallGraph: true,
	})
	if err != nil {
		return fmt.Errorf("pointer analysis: %w", err)
	}

	unsafeFuncs := findUnsafeConversions(ssaPkgs)

	violations := 0
	for _, entry := range entries {
		node := result.CallGraph.Nodes[entry]
		if node == nil {
			continue
		}
		for fn := range reachableFuncs(node) {
			if !unsafeFuncs[fn] {
				continue
			}
			if fn.Pkg == nil || allowed[fn.Pkg.Pkg.Path()] {
				continue
			}
			fmt.Printf("unsafe.Pointer conversion reachable from %s.%s via %s.%s\n",
				entry.Pkg.Pkg.Path(), entry.Name(), fn.Pkg.Pkg.Path(), fn.Name())
			violations++
		}
	}
	if violations > 0 {
		return fmt.Errorf("%d unsafe.Pointer escape(s) outside mem/vm", violations)
	}
	return nil
}

// reachableFuncs walks the call graph out of node with a plain DFS,
// returning every function transitively reachable (not including node's
// own function).
func reachableFuncs(node *callgraph.Node) map[*ssa.Function]bool {
	seen := make(map[*callgraph.Node]bool)
	out := make(map[*ssa.Function]bool)
	var walk func(n *callgraph.Node)
	walk = func(n *callgraph.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, edge := range n.Out {
			out[edge.Callee.Func] = true
			walk(edge.Callee)
		}
	}
	walk(node)
	return out
}

func mainPackages(pkgs []*ssa.Package) []*ssa.Package {
	var mains []*ssa.Package
	for _, p := range pkgs {
		if p != nil {
			mains = append(mains, p)
		}
	}
	return mains
}

// findUnsafeConversions scans every function body for an instruction whose
// result type is unsafe.Pointer.
func findUnsafeConversions(pkgs []*ssa.Package) map[*ssa.Function]bool {
	out := make(map[*ssa.Function]bool)
	for _, p := range pkgs {
		if p == nil {
			continue
		}
		for _, member := range p.Members {
			fn, ok := member.(*ssa.Function)
			if ok && hasUnsafeConversion(fn) {
				out[fn] = true
			}
		}
	}
	return out
}

func hasUnsafeConversion(fn *ssa.Function) bool {
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			v, ok := instr.(ssa.Value)
			if !ok || !isUnsafePointer(v.Type()) {
				continue
			}
			switch instr.(type) {
			case *ssa.Convert, *ssa.ChangeType, *ssa.UnOp:
				return true
			}
		}
	}
	return false
}

func isUnsafePointer(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Kind() == types.UnsafePointer
}
