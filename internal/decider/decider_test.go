package decider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/analysis"
	"github.com/715d/devirt/internal/callgraph"
	"github.com/715d/devirt/internal/hierarchy"
	"github.com/715d/devirt/internal/model"
)

// decide runs every phase over prog and returns decisions keyed by site ID.
func decide(t *testing.T, prog *model.Program) map[string]Decision {
	t.Helper()
	reg := analysis.NewRegistry()
	for _, f := range prog.Methods {
		reg.Observe(f)
	}
	b := hierarchy.NewBuilder(prog)
	for _, c := range prog.Classes {
		b.Resolve(c.Key)
	}
	methods := reg.Methods()
	for _, m := range methods {
		if m.Owner != "" {
			m.Class = b.Resolve(m.Owner)
			b.Attach(m.Class, m.Linkage)
		}
	}
	idx := analysis.NewEquivalenceIndex(analysis.NewSignatureCache())
	for _, m := range methods {
		idx.Insert(m)
	}
	ovr := analysis.NewOverrides(b.Hierarchy(), idx)
	ovr.Compute(methods)

	g, err := callgraph.Build(t.Context(), reg, prog.Functions, callgraph.Options{})
	require.NoError(t, err)

	out := make(map[string]Decision)
	for _, d := range New(b.Hierarchy(), reg, ovr, g).DecideAll(g.Sites()) {
		out[d.Site.ID] = d
	}
	return out
}

func vm(owner, name string) model.MethodFact {
	return model.MethodFact{
		Linkage: owner + "::" + name + "()", Name: name, Owner: owner,
		Signature: model.Signature{Result: "int"}, Virtual: true, Defined: true,
	}
}

func vcall(id, target string, this bool) model.Call {
	return model.Call{ID: id, Kind: model.DispatchVirtual, Target: target, This: this}
}

func TestDecide_NoOverriders(t *testing.T) {
	// A single root class whose virtual method nobody overrides.
	prog := &model.Program{
		Classes: []model.Class{{Key: "Base"}, {Key: "Child", Parents: []string{"Base"}}},
		Methods: []model.MethodFact{vm("Base", "name"), {Linkage: "main", Name: "main", Defined: true}},
		Functions: []model.Function{
			{Linkage: "main", Calls: []model.Call{vcall("s1", "Base::name()", false)}},
			{Linkage: "Base::name()"},
		},
	}
	got := decide(t, prog)
	require.Equal(t, Rewrite, got["s1"].Outcome)
	require.Equal(t, RuleNoOverriders, got["s1"].Rule)
	require.Equal(t, "Base::name()", got["s1"].Target.Linkage)
}

func TestDecide_OverriddenSlotKeeps(t *testing.T) {
	// Base::bar calls foo on this, and Child overrides foo but not bar.
	prog := &model.Program{
		Classes: []model.Class{{Key: "Base"}, {Key: "Child", Parents: []string{"Base"}}},
		Methods: []model.MethodFact{vm("Base", "foo"), vm("Child", "foo"), vm("Base", "bar")},
		Functions: []model.Function{
			{Linkage: "Base::bar()", Calls: []model.Call{vcall("s1", "Base::foo()", true)}},
			{Linkage: "Base::foo()", Calls: []model.Call{vcall("s2", "Base::foo()", true)}},
		},
	}
	got := decide(t, prog)
	assert.Equal(t, Keep, got["s1"].Outcome)
	assert.Equal(t, ReasonNotOverridden, got["s1"].Reason)
	// Child::foo replaces the caller on Child receivers and never calls back.
	assert.Equal(t, Rewrite, got["s2"].Outcome, got["s2"].Reason)
	assert.Equal(t, RulePairwiseOverride, got["s2"].Rule)
}

func TestDecide_PairwiseOverride(t *testing.T) {
	// A::foo calls goo on this; B overrides both foo and goo.
	base := []model.MethodFact{vm("A", "foo"), vm("A", "goo"), vm("B", "foo"), vm("B", "goo"), vm("A", "hoo")}
	classes := []model.Class{{Key: "A"}, {Key: "B", Parents: []string{"A"}}}
	site := model.Function{Linkage: "A::foo()", Calls: []model.Call{vcall("site", "A::goo()", true)}}

	tests := []struct {
		name   string
		bodies []model.Function
		want   Outcome
		reason string
	}{
		{
			name:   "alternate reaches nothing",
			bodies: []model.Function{{Linkage: "B::foo()"}},
			want:   Rewrite,
		},
		{
			name: "alternate reaches the enclosing function",
			bodies: []model.Function{
				{Linkage: "B::foo()", Calls: []model.Call{{Kind: model.DispatchDirect, Target: "A::hoo()"}}},
				{Linkage: "A::hoo()", Calls: []model.Call{{Kind: model.DispatchDirect, Target: "A::foo()"}}},
			},
			want:   Keep,
			reason: ReasonAlternateReach,
		},
		{
			name: "alternate reaches the overrider",
			bodies: []model.Function{
				{Linkage: "B::foo()", Calls: []model.Call{vcall("", "B::goo()", true)}},
			},
			want:   Keep,
			reason: ReasonAlternateReach,
		},
		{
			name: "alternate makes an unknown call",
			bodies: []model.Function{
				{Linkage: "B::foo()", Calls: []model.Call{{Kind: model.DispatchUnknown}}},
			},
			want:   Keep,
			reason: ReasonAlternateReach,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := &model.Program{
				Classes:   classes,
				Methods:   base,
				Functions: append([]model.Function{site}, tt.bodies...),
			}
			got := decide(t, prog)["site"]
			require.Equal(t, tt.want, got.Outcome, got.Reason)
			if tt.want == Rewrite {
				require.Equal(t, RulePairwiseOverride, got.Rule)
				require.Equal(t, "A::goo()", got.Target.Linkage)
				return
			}
			require.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestDecide_PairwiseChecksWholeSubtree(t *testing.T) {
	// C below B overrides foo with a body that calls back into goo.
	prog := &model.Program{
		Classes: []model.Class{
			{Key: "A"},
			{Key: "B", Parents: []string{"A"}},
			{Key: "C", Parents: []string{"B"}},
		},
		Methods: []model.MethodFact{vm("A", "foo"), vm("A", "goo"), vm("B", "foo"), vm("B", "goo"), vm("C", "foo")},
		Functions: []model.Function{
			{Linkage: "A::foo()", Calls: []model.Call{vcall("site", "A::goo()", true)}},
			{Linkage: "B::foo()"},
			{Linkage: "C::foo()", Calls: []model.Call{{Kind: model.DispatchDirect, Target: "A::goo()"}}},
		},
	}
	got := decide(t, prog)["site"]
	require.Equal(t, Keep, got.Outcome)
	require.Equal(t, ReasonAlternateReach, got.Reason)
}

func TestDecide_Preconditions(t *testing.T) {
	prog := &model.Program{
		Classes: []model.Class{
			{Key: "A"},
			{Key: "B", Parents: []string{"A"}},
			{Key: "X"},
		},
		Methods: []model.MethodFact{
			vm("A", "foo"), vm("B", "foo"), vm("X", "bar"),
			{Linkage: "A::plain()", Name: "plain", Owner: "A", Defined: true},
			{Linkage: "Decl::only()", Name: "only", Owner: "Decl", Virtual: true},
			{Linkage: "orphan()", Name: "orphan", Virtual: true, Defined: true},
		},
		Functions: []model.Function{
			{Linkage: "X::bar()", Calls: []model.Call{
				vcall("unrelated", "A::foo()", true),
				vcall("not-this", "A::foo()", false),
				vcall("plain", "A::plain()", true),
				vcall("unresolved", "Decl::only()", false),
				vcall("orphan", "orphan()", false),
				{ID: "suppressed", Kind: model.DispatchVirtual, Target: "B::foo()", Suppressed: true},
				vcall("leaf", "B::foo()", false),
			}},
		},
	}
	got := decide(t, prog)

	tests := []struct {
		site   string
		want   Outcome
		reason string
	}{
		{site: "unrelated", want: Keep, reason: ReasonUnrelated},
		{site: "not-this", want: Keep, reason: ReasonNotThis},
		{site: "plain", want: Keep, reason: ReasonNotVirtual},
		{site: "unresolved", want: Keep, reason: ReasonUnresolved},
		{site: "orphan", want: Keep, reason: ReasonUnknownOwner},
		{site: "suppressed", want: Keep, reason: ReasonSuppressed},
		{site: "leaf", want: Rewrite},
	}
	for _, tt := range tests {
		t.Run(tt.site, func(t *testing.T) {
			d, ok := got[tt.site]
			require.True(t, ok)
			require.Equal(t, tt.want, d.Outcome, d.Reason)
			if tt.want == Keep {
				require.Equal(t, tt.reason, d.Reason)
				require.Nil(t, d.Target)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "keep", Keep.String())
	require.Equal(t, "rewrite", Rewrite.String())
}
