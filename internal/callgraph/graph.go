// Package callgraph builds the inter-procedural call graph used by the
// devirtualization decider and answers reachability queries over it.
package callgraph

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"

	"golang.org/x/sync/errgroup"

	"github.com/715d/devirt/internal/analysis"
	"github.com/715d/devirt/internal/model"
)

// EdgeKind classifies a call edge.
type EdgeKind int

const (
	// Direct calls a known function.
	Direct EdgeKind = iota
	// Virtual dispatches through a method slot.
	Virtual
	// Unknown is an indirect call whose target set is not known.
	Unknown
)

func (k EdgeKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Virtual:
		return "virtual"
	case Unknown:
		return "unknown"
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// Edge is one outgoing call of a function.
type Edge struct {
	Kind EdgeKind

	// Target is the callee for Direct edges and the slot for Virtual edges.
	// It is nil for Unknown edges.
	Target *analysis.Method

	// Site is set for virtual edges that are devirtualization candidates.
	Site *Site
}

// Site is a virtual call site.
type Site struct {
	// ID is the call fact id, or "<function>#<index>" when the fact has none.
	ID string

	// Function is the enclosing function.
	Function *analysis.Method

	// Slot is the method named at the call site.
	Slot *analysis.Method

	// ReceiverIsThis reports whether the receiver is the enclosing method's
	// own receiver.
	ReceiverIsThis bool

	Position   string
	Suppressed bool
}

// Options configures Build.
type Options struct {
	// Workers bounds the number of functions processed concurrently.
	// Zero means runtime.NumCPU().
	Workers int
}

// Graph is an immutable call graph.
type Graph struct {
	out   map[*analysis.Method][]Edge
	sites []*Site

	// ids numbers every function and target for visited sets.
	ids map[*analysis.Method]int
}

type functionEdges struct {
	caller *analysis.Method
	edges  []Edge
	sites  []*Site
}

// Build creates the call graph of funcs. Descriptors are looked up in reg;
// slots missing from reg are interned as unresolved descriptors.
func Build(ctx context.Context, reg *analysis.Registry, funcs []model.Function, opts Options) (*Graph, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}

	// Each goroutine owns one slot of results.
	results := make([]functionEdges, len(funcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx, fn := range funcs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[idx] = buildFunction(reg, fn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}

	graph := &Graph{
		out: make(map[*analysis.Method][]Edge, len(funcs)),
		ids: make(map[*analysis.Method]int),
	}
	for _, r := range results {
		graph.number(r.caller)
		graph.out[r.caller] = append(graph.out[r.caller], r.edges...)
		graph.sites = append(graph.sites, r.sites...)
		for _, e := range r.edges {
			graph.number(e.Target)
		}
	}
	slog.Debug("call graph built", "functions", len(graph.out), "sites", len(graph.sites))
	return graph, nil
}

func buildFunction(reg *analysis.Registry, fn model.Function) functionEdges {
	caller := reg.Intern(fn.Linkage)
	r := functionEdges{caller: caller}
	for i, call := range fn.Calls {
		switch call.Kind {
		case model.DispatchVirtual:
			slot, known := reg.Lookup(call.Target)
			if !known {
				slot = reg.Intern(call.Target)
			}
			edge := Edge{Kind: Virtual, Target: slot}
			if known {
				id := call.ID
				if id == "" {
					id = fmt.Sprintf("%s#%d", fn.Linkage, i)
				}
				edge.Site = &Site{
					ID:             id,
					Function:       caller,
					Slot:           slot,
					ReceiverIsThis: call.This,
					Position:       call.Position,
					Suppressed:     call.Suppressed,
				}
				r.sites = append(r.sites, edge.Site)
			} else {
				slog.Debug("dropping call site with unknown slot",
					"function", fn.Linkage, "slot", call.Target)
			}
			r.edges = append(r.edges, edge)
		case model.DispatchDirect:
			target, ok := reg.Lookup(call.Target)
			if !ok {
				// Intrinsics and external declarations.
				continue
			}
			r.edges = append(r.edges, Edge{Kind: Direct, Target: target})
		default:
			r.edges = append(r.edges, Edge{Kind: Unknown})
		}
	}
	return r
}

func (g *Graph) number(m *analysis.Method) {
	if m == nil {
		return
	}
	if _, ok := g.ids[m]; !ok {
		g.ids[m] = len(g.ids)
	}
}

// EdgesFrom returns the outgoing edges of f in body order.
func (g *Graph) EdgesFrom(f *analysis.Method) []Edge { return g.out[f] }

// Sites returns every virtual call site, grouped by function in input order.
func (g *Graph) Sites() []*Site { return g.sites }

// Functions returns the number of functions with a body in the graph.
func (g *Graph) Functions() int { return len(g.out) }

// Callers returns the functions of the graph. The order is unspecified.
func (g *Graph) Callers() []*analysis.Method {
	out := make([]*analysis.Method, 0, len(g.out))
	for f := range g.out {
		out = append(out, f)
	}
	return out
}
