package analysis

import (
	"strings"
	"testing"

	"github.com/715d/devirt/internal/hierarchy"
	"github.com/715d/devirt/internal/model"
)

// fixture builds a hierarchy and registry from class and method facts.
type fixture struct {
	h   *hierarchy.Hierarchy
	reg *Registry
	idx *EquivalenceIndex
	ovr *Overrides
}

func newFixture(t *testing.T, classes []model.Class, methods []model.MethodFact) *fixture {
	t.Helper()
	prog := &model.Program{Classes: classes, Methods: methods}
	b := hierarchy.NewBuilder(prog)
	for _, c := range classes {
		b.Resolve(c.Key)
	}

	reg := NewRegistry()
	for _, f := range methods {
		reg.Observe(f)
	}
	all := reg.Methods()
	for _, m := range all {
		if m.Owner == "" {
			continue
		}
		m.Class = b.Resolve(m.Owner)
		b.Attach(m.Class, m.Linkage)
	}

	idx := NewEquivalenceIndex(NewSignatureCache())
	for _, m := range all {
		idx.Insert(m)
	}
	ovr := NewOverrides(b.Hierarchy(), idx)
	ovr.Compute(all)
	return &fixture{h: b.Hierarchy(), reg: reg, idx: idx, ovr: ovr}
}

func (f *fixture) method(t *testing.T, linkage string) *Method {
	t.Helper()
	m, ok := f.reg.Lookup(linkage)
	if !ok {
		t.Fatalf("method %q not registered", linkage)
	}
	return m
}

func (f *fixture) class(t *testing.T, key string) *hierarchy.Class {
	t.Helper()
	c, ok := f.h.Lookup(key)
	if !ok {
		t.Fatalf("class %q not resolved", key)
	}
	return c
}

func virt(owner, name string, result string, params ...string) model.MethodFact {
	return model.MethodFact{
		Linkage:   owner + "::" + name + "(" + strings.Join(params, ",") + ")",
		Name:      name,
		Signature: model.Signature{Params: params, Result: result},
		Owner:     owner,
		Virtual:   true,
		Defined:   true,
	}
}

func linkages(ms []*Method) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Linkage)
	}
	return out
}
