package callgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/analysis"
	"github.com/715d/devirt/internal/model"
)

// overrideMap is an OverrideSets backed by a map.
type overrideMap map[*analysis.Method][]*analysis.Method

func (o overrideMap) Of(m *analysis.Method) ([]*analysis.Method, bool) {
	set, ok := o[m]
	return set, ok
}

func registry(t *testing.T, facts ...model.MethodFact) *analysis.Registry {
	t.Helper()
	reg := analysis.NewRegistry()
	for _, f := range facts {
		reg.Observe(f)
	}
	return reg
}

func fn(linkage string) model.MethodFact {
	return model.MethodFact{Linkage: linkage, Name: linkage, Defined: true}
}

func method(t *testing.T, reg *analysis.Registry, linkage string) *analysis.Method {
	t.Helper()
	m, ok := reg.Lookup(linkage)
	require.True(t, ok, "method %s", linkage)
	return m
}

func TestBuild(t *testing.T) {
	reg := registry(t,
		fn("main"),
		fn("helper"),
		model.MethodFact{Linkage: "A::foo()", Name: "foo", Owner: "A", Virtual: true, Defined: true},
	)
	funcs := []model.Function{
		{
			Linkage: "main",
			Calls: []model.Call{
				{Kind: model.DispatchDirect, Target: "helper"},
				{Kind: model.DispatchDirect, Target: "llvm.intrinsic"},
				{Kind: model.DispatchVirtual, Target: "A::foo()", This: true, Position: "main.cpp:3"},
				{Kind: model.DispatchUnknown},
				{ID: "named", Kind: model.DispatchVirtual, Target: "A::foo()", Suppressed: true},
				{Kind: model.DispatchVirtual, Target: "Missing::slot()"},
			},
		},
		{Linkage: "helper"},
	}

	g, err := Build(t.Context(), reg, funcs, Options{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, 2, g.Functions())

	main := method(t, reg, "main")
	edges := g.EdgesFrom(main)
	require.Len(t, edges, 5, "the call to an undeclared direct target is dropped")

	assert.Equal(t, Direct, edges[0].Kind)
	assert.Equal(t, "helper", edges[0].Target.Linkage)
	assert.Equal(t, Virtual, edges[1].Kind)
	assert.Equal(t, Unknown, edges[2].Kind)
	assert.Nil(t, edges[2].Target)
	assert.Equal(t, Virtual, edges[4].Kind)
	assert.Nil(t, edges[4].Site, "sites with an unknown slot are not candidates")
	assert.False(t, edges[4].Target.Virtual)

	sites := g.Sites()
	require.Len(t, sites, 2)
	assert.Equal(t, "main#2", sites[0].ID)
	assert.True(t, sites[0].ReceiverIsThis)
	assert.Equal(t, "main.cpp:3", sites[0].Position)
	assert.Same(t, main, sites[0].Function)
	assert.Equal(t, "named", sites[1].ID)
	assert.True(t, sites[1].Suppressed)
	assert.Same(t, edges[1].Site, sites[0])

	_, ok := reg.Lookup("Missing::slot()")
	assert.True(t, ok, "unknown slot linkages are interned")
	assert.Empty(t, g.EdgesFrom(method(t, reg, "helper")))
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	reg := registry(t, fn("f"))
	_, err := Build(ctx, reg, []model.Function{{Linkage: "f"}}, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEdgeKind_String(t *testing.T) {
	require.Equal(t, "direct", Direct.String())
	require.Equal(t, "virtual", Virtual.String())
	require.Equal(t, "unknown", Unknown.String())
	require.Equal(t, "EdgeKind(9)", EdgeKind(9).String())
}
