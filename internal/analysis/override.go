package analysis

import (
	"github.com/715d/devirt/internal/hierarchy"
)

// Overrides holds the override set of every virtual method.
type Overrides struct {
	h     *hierarchy.Hierarchy
	index *EquivalenceIndex
	sets  map[*Method][]*Method
}

// NewOverrides creates an override table over a complete hierarchy and
// equivalence index. Both must be fully built before Compute is called.
func NewOverrides(h *hierarchy.Hierarchy, index *EquivalenceIndex) *Overrides {
	return &Overrides{
		h:     h,
		index: index,
		sets:  make(map[*Method][]*Method),
	}
}

// Compute fills the override set of each virtual method with a known owner.
func (o *Overrides) Compute(methods []*Method) {
	for _, m := range methods {
		if !m.Virtual || m.Class == nil {
			continue
		}
		o.sets[m] = o.overridersOf(m)
	}
}

// overridersOf returns the members N != m of m's slot whose owner is a
// subclass of m's owner.
func (o *Overrides) overridersOf(m *Method) []*Method {
	e, ok := o.index.Of(m)
	if !ok {
		return []*Method{}
	}
	out := []*Method{}
	for _, n := range e.Members() {
		if n == m || !n.Virtual || n.Class == nil {
			continue
		}
		if o.h.IsSubclassOf(n.Class, m.Class) {
			out = append(out, n)
		}
	}
	return out
}

// Of returns the override set of m. The second result is false when m has no
// computed set, because it is not virtual or its owner is unknown; such a
// method must be treated as possibly overridden.
func (o *Overrides) Of(m *Method) ([]*Method, bool) {
	set, ok := o.sets[m]
	return set, ok
}

// Len returns the number of methods with a computed override set.
func (o *Overrides) Len() int { return len(o.sets) }
