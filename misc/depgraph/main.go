// Program depgraph generates a Graphviz DOT description of the package
// dependency graph rooted at the path given on the command line (default
// "./..."), loaded directly through go/packages instead of shelling out to
// `go mod graph` (which only sees module-level edges, not per-package
// ones).
package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
)

func main() {
	pattern := "./..."
	if len(os.Args) > 1 {
		pattern = os.Args[1]
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		fmt.Fprintln(os.Stderr, "depgraph:", err)
		os.Exit(1)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()
	writer.WriteString("digraph deps {\n")

	seen := make(map[string]bool)
	var visit func(p *packages.Package)
	visit = func(p *packages.Package) {
		if seen[p.PkgPath] {
			return
		}
		seen[p.PkgPath] = true
		for _, imp := range p.Imports {
			fmt.Fprintf(writer, "    %q -> %q;\n", p.PkgPath, imp.PkgPath)
			visit(imp)
		}
	}
	for _, p := range pkgs {
		visit(p)
	}
	writer.WriteString("}\n")
}
