package analysis

import (
	"github.com/715d/devirt/internal/hierarchy"
)

// ResolveIn returns the method that runs when a method with the name and
// signature of m is invoked on a receiver of class c. Declarations are searched
// in c first, then level by level through its ancestors. It returns nil when no
// class declares such a method, or when the nearest level holds several distinct
// candidates (an ambiguous multiple-inheritance lookup).
func (r *Registry) ResolveIn(h *hierarchy.Hierarchy, c *hierarchy.Class, m *Method) *Method {
	for _, level := range h.Ancestors(c) {
		var found *Method
		for _, cls := range level {
			for _, linkage := range cls.Methods() {
				cand, ok := r.Lookup(linkage)
				if !ok || !cand.SameSlot(m) {
					continue
				}
				if found != nil && found != cand {
					return nil
				}
				found = cand
			}
		}
		if found != nil {
			return found
		}
	}
	return nil
}
