// Package hierarchy reconstructs the class hierarchy from class facts.
//
// Classes live in an arena and are addressed by stable integer IDs. Parent and
// child relations are sparse index sets into the arena, so the hierarchy may
// contain diamonds and even cycles; every traversal tracks a visited set.
package hierarchy

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/devirt/internal/model"
)

// ID addresses a Class inside its Hierarchy.
type ID int

// Class is a node of the class hierarchy.
type Class struct {
	ID   ID
	Key  string
	Name string

	// Known is false for classes the describer could not describe.
	Known bool

	parents  intsets.Sparse
	children intsets.Sparse

	// methods holds the linkage identities of the methods declared directly
	// on this class, in attachment order.
	methods []string
}

// IsRoot reports whether the class has no parents.
func (c *Class) IsRoot() bool { return c.parents.IsEmpty() }

// IsLeaf reports whether the class has no children.
func (c *Class) IsLeaf() bool { return c.children.IsEmpty() }

// Methods returns the linkage identities of the methods declared on the class.
func (c *Class) Methods() []string { return c.methods }

// Hierarchy is the arena of classes built by a Builder.
type Hierarchy struct {
	classes []*Class
	byKey   map[string]*Class
}

// Builder builds the hierarchy on demand from a model.Describer.
type Builder struct {
	h         *Hierarchy
	describer model.Describer
}

// NewBuilder creates a builder that asks d for class descriptions.
// A nil describer treats every class as an undescribed root.
func NewBuilder(d model.Describer) *Builder {
	return &Builder{
		h: &Hierarchy{
			byKey: make(map[string]*Class),
		},
		describer: d,
	}
}

// Hierarchy returns the hierarchy under construction.
func (b *Builder) Hierarchy() *Hierarchy { return b.h }

// Resolve returns the class for key, building it and its ancestors on first use.
// Repeated calls for the same key return the same node.
func (b *Builder) Resolve(key string) *Class {
	if c, ok := b.h.byKey[key]; ok {
		return c
	}

	c := &Class{
		ID:   ID(len(b.h.classes)),
		Key:  key,
		Name: key,
	}
	// Cache before resolving parents so that cyclic descriptions terminate.
	b.h.classes = append(b.h.classes, c)
	b.h.byKey[key] = c

	var fact model.Class
	var ok bool
	if b.describer != nil {
		fact, ok = b.describer.DescribeClass(key)
	}
	if !ok {
		slog.Debug("class has no description, treating as root", "class", key)
		return c
	}
	c.Known = true
	if fact.Name != "" {
		c.Name = fact.Name
	}

	for _, parentKey := range fact.Parents {
		if parentKey == "" {
			continue
		}
		parent := b.Resolve(parentKey)
		c.parents.Insert(int(parent.ID))
		parent.children.Insert(int(c.ID))
	}
	return c
}

// Attach records that the method with the given linkage is declared on c.
func (b *Builder) Attach(c *Class, linkage string) {
	if c == nil || slices.Contains(c.methods, linkage) {
		return
	}
	c.methods = append(c.methods, linkage)
}

// Lookup returns the class for key if it has been resolved.
func (h *Hierarchy) Lookup(key string) (*Class, bool) {
	c, ok := h.byKey[key]
	return c, ok
}

// Class returns the class with the given ID.
func (h *Hierarchy) Class(id ID) *Class {
	if id < 0 || int(id) >= len(h.classes) {
		return nil
	}
	return h.classes[id]
}

// Classes returns all classes in creation order.
func (h *Hierarchy) Classes() []*Class { return h.classes }

// Len returns the number of classes.
func (h *Hierarchy) Len() int { return len(h.classes) }

// Parents returns the direct parents of c in ID order.
func (h *Hierarchy) Parents(c *Class) []*Class { return h.collect(&c.parents) }

// Children returns the direct children of c in ID order.
func (h *Hierarchy) Children(c *Class) []*Class { return h.collect(&c.children) }

func (h *Hierarchy) collect(set *intsets.Sparse) []*Class {
	ids := set.AppendTo(nil)
	out := make([]*Class, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.classes[id])
	}
	return out
}

// IsSubclassOf reports whether a == b or b is reachable from a through parent
// edges. The search is an iterative worklist with a visited set, so diamonds and
// accidental cycles are tolerated.
func (h *Hierarchy) IsSubclassOf(a, b *Class) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}

	var visited intsets.Sparse
	worklist := []int{int(a.ID)}
	visited.Insert(int(a.ID))
	for len(worklist) > 0 {
		next := h.classes[worklist[len(worklist)-1]]
		worklist = worklist[:len(worklist)-1]
		if next.parents.Has(int(b.ID)) {
			return true
		}
		for _, p := range next.parents.AppendTo(nil) {
			if visited.Insert(p) {
				worklist = append(worklist, p)
			}
		}
	}
	return false
}

// Related reports whether a and b are related by subclassing in either direction.
func (h *Hierarchy) Related(a, b *Class) bool {
	return h.IsSubclassOf(a, b) || h.IsSubclassOf(b, a)
}

// Descendants returns c and every class reachable from it through child edges,
// in breadth-first order. Each class appears once even in cyclic hierarchies.
func (h *Hierarchy) Descendants(c *Class) []*Class {
	if c == nil {
		return nil
	}
	var visited intsets.Sparse
	visited.Insert(int(c.ID))
	out := []*Class{c}
	for i := 0; i < len(out); i++ {
		for _, id := range out[i].children.AppendTo(nil) {
			if visited.Insert(id) {
				out = append(out, h.classes[id])
			}
		}
	}
	return out
}

// Ancestors returns c followed by its ancestors in breadth-first order, nearest
// first. Each class appears once even in cyclic hierarchies.
func (h *Hierarchy) Ancestors(c *Class) [][]*Class {
	if c == nil {
		return nil
	}
	var visited intsets.Sparse
	visited.Insert(int(c.ID))
	levels := [][]*Class{{c}}
	for {
		var level []*Class
		for _, cls := range levels[len(levels)-1] {
			for _, id := range cls.parents.AppendTo(nil) {
				if visited.Insert(id) {
					level = append(level, h.classes[id])
				}
			}
		}
		if len(level) == 0 {
			return levels
		}
		levels = append(levels, level)
	}
}

// Roots returns the classes without parents.
func (h *Hierarchy) Roots() []*Class {
	var roots []*Class
	for _, c := range h.classes {
		if c.IsRoot() {
			roots = append(roots, c)
		}
	}
	return roots
}

// Dump writes a human readable description of every class to w.
func (h *Hierarchy) Dump(w io.Writer) error {
	for _, c := range h.classes {
		var b strings.Builder
		b.WriteString(c.Name)
		if !c.Known {
			b.WriteString(" (undescribed)")
		}
		b.WriteString("\n  parents:")
		for _, p := range h.Parents(c) {
			b.WriteByte(' ')
			b.WriteString(p.Name)
		}
		b.WriteString("\n  children:")
		for _, ch := range h.Children(c) {
			b.WriteByte(' ')
			b.WriteString(ch.Name)
		}
		b.WriteString("\n  methods:")
		for _, m := range c.methods {
			b.WriteByte(' ')
			b.WriteString(m)
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("writing class %s: %w", c.Key, err)
		}
	}
	return nil
}
