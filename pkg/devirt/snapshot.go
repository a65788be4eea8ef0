package devirt

import (
	"slices"
	"strings"

	"github.com/715d/devirt/internal/analysis"
)

// ClassNode is a class of the analyzed hierarchy.
type ClassNode struct {
	Key   string
	Name  string
	Known bool
}

// MethodNode is a method or free function known to the analysis.
type MethodNode struct {
	Linkage string
	Name    string
	Owner   string // empty for free functions
	Virtual bool
	Defined bool
}

// InheritEdge links a class to one of its direct parents.
type InheritEdge struct {
	Child  string
	Parent string
}

// OverrideEdge links a method to a method whose slot it overrides.
type OverrideEdge struct {
	Overrider string
	Slot      string
}

// CallEdge is one call of the call graph. Callee is empty for unknown calls.
type CallEdge struct {
	Caller string
	Callee string
	Kind   string
	Site   string
}

// Snapshot is a flat view of an analysis, suitable for export to a graph store.
type Snapshot struct {
	Classes   []ClassNode
	Methods   []MethodNode
	Inherits  []InheritEdge
	Overrides []OverrideEdge
	Calls     []CallEdge

	// Devirtualized holds the rewritten call sites.
	Devirtualized []Directive
}

// Snapshot flattens the analysis behind r. Nodes are sorted by identity.
func (r *Result) Snapshot() *Snapshot {
	snap := &Snapshot{Devirtualized: r.Directives}
	st := r.state
	if st == nil {
		return snap
	}

	for _, c := range st.h.Classes() {
		snap.Classes = append(snap.Classes, ClassNode{Key: c.Key, Name: c.Name, Known: c.Known})
		for _, p := range st.h.Parents(c) {
			snap.Inherits = append(snap.Inherits, InheritEdge{Child: c.Key, Parent: p.Key})
		}
	}
	slices.SortFunc(snap.Classes, func(a, b ClassNode) int { return strings.Compare(a.Key, b.Key) })

	for _, m := range st.reg.Methods() {
		snap.Methods = append(snap.Methods, MethodNode{
			Linkage: m.Linkage,
			Name:    m.Name,
			Owner:   m.Owner,
			Virtual: m.Virtual,
			Defined: m.Resolved(),
		})
		overriders, _ := st.overrides.Of(m)
		for _, o := range overriders {
			snap.Overrides = append(snap.Overrides, OverrideEdge{Overrider: o.Linkage, Slot: m.Linkage})
		}
	}

	callers := st.graph.Callers()
	slices.SortFunc(callers, func(a, b *analysis.Method) int { return strings.Compare(a.Linkage, b.Linkage) })
	for _, f := range callers {
		for _, e := range st.graph.EdgesFrom(f) {
			edge := CallEdge{Caller: f.Linkage, Kind: e.Kind.String()}
			if e.Target != nil {
				edge.Callee = e.Target.Linkage
			}
			if e.Site != nil {
				edge.Site = e.Site.ID
			}
			snap.Calls = append(snap.Calls, edge)
		}
	}
	return snap
}
