// Package analysis provides method descriptors, signature equivalence and
// override computation for the devirtualization analysis.
package analysis

import (
	"maps"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/devirt/internal/hierarchy"
	"github.com/715d/devirt/internal/model"
)

// Method describes a function or method known to the analysis.
type Method struct {
	// Linkage is the identity of the method. One Method exists per linkage.
	Linkage string

	// Name is the declared name, without owner or parameters.
	Name string

	// Signature holds parameter and result types. The receiver is excluded.
	Signature model.Signature

	// Owner is the key of the owning class, or empty for free functions.
	Owner string

	// Virtual reports whether the method occupies a virtual slot.
	Virtual bool

	// VirtualIndex is the slot index reported by the provider. Informational only.
	VirtualIndex int

	// Function is the linkage of the body implementing this method,
	// or empty if the method has no body in this program.
	Function string

	// Class is the owning class node, set once the hierarchy is built.
	Class *hierarchy.Class
}

// NewMethod creates a Method from its first observed fact.
func NewMethod(fact model.MethodFact) *Method {
	m := &Method{
		Linkage:      fact.Linkage,
		Name:         fact.Name,
		Signature:    fact.Signature,
		Owner:        fact.Owner,
		Virtual:      fact.Virtual,
		VirtualIndex: fact.VirtualIndex,
	}
	if fact.Defined {
		m.Function = fact.Linkage
	}
	return m
}

// Enrich merges a later observation of the same linkage into m.
// Only missing facts are filled in: a known virtuality is never cleared and a
// known owner or resolved body is never replaced. Enrich is idempotent.
func (m *Method) Enrich(fact model.MethodFact) {
	if m.Name == "" && fact.Name != "" {
		m.Name = fact.Name
	}
	if m.Signature.IsZero() && !fact.Signature.IsZero() {
		m.Signature = fact.Signature
	}
	if m.Function == "" && fact.Defined {
		m.Function = m.Linkage
	}
	if !m.Virtual && fact.Virtual {
		m.Virtual = true
		m.VirtualIndex = fact.VirtualIndex
	}
	if m.Owner == "" && fact.Owner != "" {
		m.Owner = fact.Owner
	}
}

// Resolved reports whether the method has a body in this program.
func (m *Method) Resolved() bool { return m.Function != "" }

// SameSlot reports whether m and o share name and signature.
func (m *Method) SameSlot(o *Method) bool {
	return m.Name == o.Name && m.Signature.Equal(o.Signature)
}

// String returns the linkage identity.
func (m *Method) String() string { return m.Linkage }

// DisplayName returns "Owner::Name" or the bare name for free functions.
func (m *Method) DisplayName() string {
	name := m.Name
	if name == "" {
		name = m.Linkage
	}
	if m.Class != nil {
		var b strings.Builder
		b.Grow(len(m.Class.Name) + len(name) + 2)
		b.WriteString(m.Class.Name)
		b.WriteString("::")
		b.WriteString(name)
		return b.String()
	}
	return name
}

// Registry indexes methods by linkage identity.
//
// Observe must only be called from a single goroutine. Intern and Lookup are
// safe for concurrent use and are used while the call graph is built in parallel.
type Registry struct {
	byLinkage *xsync.Map[string, *Method]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLinkage: xsync.NewMap[string, *Method](),
	}
}

// Observe records a declaration fact, creating or enriching the descriptor.
func (r *Registry) Observe(fact model.MethodFact) *Method {
	if m, ok := r.byLinkage.Load(fact.Linkage); ok {
		m.Enrich(fact)
		return m
	}
	m := NewMethod(fact)
	r.byLinkage.Store(fact.Linkage, m)
	return m
}

// Intern returns the descriptor for linkage, creating an unresolved one
// without owner or virtuality if none exists yet.
func (r *Registry) Intern(linkage string) *Method {
	m, _ := r.byLinkage.LoadOrStore(linkage, &Method{Linkage: linkage})
	return m
}

// Lookup returns the descriptor for linkage if one exists.
func (r *Registry) Lookup(linkage string) (*Method, bool) {
	return r.byLinkage.Load(linkage)
}

// Len returns the number of descriptors.
func (r *Registry) Len() int { return r.byLinkage.Size() }

// Methods returns all descriptors sorted by linkage.
func (r *Registry) Methods() []*Method {
	all := make(map[string]*Method, r.byLinkage.Size())
	r.byLinkage.Range(func(linkage string, m *Method) bool {
		all[linkage] = m
		return true
	})
	keys := slices.Sorted(maps.Keys(all))
	out := make([]*Method, 0, len(keys))
	for _, k := range keys {
		out = append(out, all[k])
	}
	return out
}
