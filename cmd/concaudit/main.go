// Command concaudit walks every package under biscuit/src and flags a go
// statement or channel type outside _test.go files. The kernel core runs on
// bare hardware with no goroutine scheduler underneath it; any concurrency
// has to come from sched's own executor and plic's interrupt routing, not
// from spawning a goroutine or blocking on a channel in the trap path.
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

type finding struct {
	pos  string
	kind string
}

func auditFile(fset *token.FileSet, path string) ([]finding, error) {
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}
	var out []finding
	ast.Inspect(f, func(node ast.Node) bool {
		switch x := node.(type) {
		case *ast.GoStmt:
			out = append(out, finding{fset.Position(x.Pos()).String(), "go statement"})
		case *ast.ChanType:
			out = append(out, finding{fset.Position(x.Pos()).String(), "channel type"})
		}
		return true
	})
	return out, nil
}

func run(root string) ([]finding, error) {
	fset := token.NewFileSet()
	var all []finding
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := auditFile(fset, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, found...)
		return nil
	})
	return all, err
}

func main() {
	root := "biscuit/src"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	findings, err := run(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "concaudit:", err)
		os.Exit(1)
	}
	for _, f := range findings {
		fmt.Printf("%s: %s\n", f.pos, f.kind)
	}
	if len(findings) > 0 {
		os.Exit(1)
	}
}
