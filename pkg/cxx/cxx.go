// Package cxx extracts program facts from C++ translation units.
//
// Sources are parsed with tree-sitter. Extraction runs in two passes over all
// parsed units: declarations first, so that headers and out-of-class
// definitions in separate files enrich each other, then function bodies.
package cxx

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"golang.org/x/sync/errgroup"

	"github.com/715d/devirt/internal/model"
)

// Source is one C++ file.
type Source struct {
	Path string
	Data []byte
}

// Options configures Extract.
type Options struct {
	// Workers bounds the number of files parsed concurrently.
	// Zero means runtime.NumCPU().
	Workers int
}

// parserPool hands each goroutine its own parser.
var parserPool = sync.Pool{
	New: func() any {
		parser := sitter.NewParser()
		parser.SetLanguage(cpp.GetLanguage())
		return parser
	},
}

// unit is a parsed translation unit.
type unit struct {
	path string
	src  []byte
	tree *sitter.Tree
	root *sitter.Node
}

// Extract parses srcs and returns the facts they describe.
func Extract(ctx context.Context, srcs []Source, opts Options) (*model.Program, error) {
	units, err := parseAll(ctx, srcs, opts.Workers)
	if err != nil {
		return nil, err
	}

	x := newExtractor()
	for _, u := range units {
		x.collectComments(u, u.root)
		x.declare(u, u.root, scope{})
	}
	x.link()
	for _, b := range x.bodies {
		x.analyzeBody(b)
	}

	prog := x.program()
	slog.Debug("extracted C++ facts",
		"files", len(units),
		"classes", len(prog.Classes),
		"methods", len(prog.Methods),
		"functions", len(prog.Functions),
		"suppressions", x.suppressions.Len())
	return prog, nil
}

func parseAll(ctx context.Context, srcs []Source, workers int) ([]*unit, error) {
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}

	// Each goroutine writes to its own index.
	units := make([]*unit, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx, src := range srcs {
		g.Go(func() error {
			parser := parserPool.Get().(*sitter.Parser)
			defer func() {
				parser.Reset()
				parserPool.Put(parser)
			}()

			tree, err := parser.ParseCtx(ctx, nil, src.Data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", src.Path, err)
			}
			root := tree.RootNode()
			if root.HasError() {
				slog.Warn("C++ source has syntax errors, extracting what parsed", "file", src.Path)
			}
			units[idx] = &unit{path: src.Path, src: src.Data, tree: tree, root: root}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

func (x *extractor) collectComments(u *unit, n *sitter.Node) {
	if n.Type() == "comment" {
		x.suppressions.Add(u.path, int(n.StartPoint().Row)+1, n.Content(u.src))
		return
	}
	for i := range int(n.NamedChildCount()) {
		x.collectComments(u, n.NamedChild(i))
	}
}
