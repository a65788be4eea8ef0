package callgraph

import (
	"golang.org/x/tools/container/intsets"

	"github.com/715d/devirt/internal/analysis"
)

// OverrideSets reports the override set of a method. The second result is
// false when the set is unknown.
type OverrideSets interface {
	Of(m *analysis.Method) ([]*analysis.Method, bool)
}

// CanReach reports whether executing from may lead to executing to. The answer
// is conservative: any Unknown edge, or a Virtual edge whose slot has no known
// override set, makes the query true. A virtual edge may run the slot itself or
// any of its overriders. from == to is reachable.
func (g *Graph) CanReach(from, to *analysis.Method, overrides OverrideSets) bool {
	if from == nil || to == nil {
		return false
	}
	if from == to {
		return true
	}

	var visited intsets.Sparse
	worklist := []*analysis.Method{from}
	g.visit(&visited, from)

	push := func(m *analysis.Method) bool {
		if m == to {
			return true
		}
		if g.visit(&visited, m) {
			worklist = append(worklist, m)
		}
		return false
	}

	for len(worklist) > 0 {
		f := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for _, e := range g.out[f] {
			switch e.Kind {
			case Unknown:
				return true
			case Direct:
				if push(e.Target) {
					return true
				}
			case Virtual:
				set, ok := overrides.Of(e.Target)
				if !ok {
					return true
				}
				if push(e.Target) {
					return true
				}
				for _, o := range set {
					if push(o) {
						return true
					}
				}
			}
		}
	}
	return false
}

// visit marks m visited and reports whether it was new. Methods outside the
// graph have no outgoing edges and are never queued.
func (g *Graph) visit(visited *intsets.Sparse, m *analysis.Method) bool {
	id, ok := g.ids[m]
	if !ok {
		return false
	}
	return visited.Insert(id)
}
