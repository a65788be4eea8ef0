package analysis

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/model"
)

func TestOverrides(t *testing.T) {
	tests := []struct {
		name    string
		classes []model.Class
		methods []model.MethodFact
		want    map[string][]string
	}{
		{
			name: "single class has no overriders",
			classes: []model.Class{
				{Key: "Base"},
				{Key: "Child", Parents: []string{"Base"}},
			},
			methods: []model.MethodFact{
				virt("Base", "name", "char"),
			},
			want: map[string][]string{
				"Base::name()": {},
			},
		},
		{
			name: "chain reports every descendant",
			classes: []model.Class{
				{Key: "A"},
				{Key: "B", Parents: []string{"A"}},
				{Key: "C", Parents: []string{"B"}},
			},
			methods: []model.MethodFact{
				virt("A", "foo", "int"),
				virt("B", "foo", "int"),
				virt("C", "foo", "int"),
			},
			want: map[string][]string{
				"A::foo()": {"B::foo()", "C::foo()"},
				"B::foo()": {"C::foo()"},
				"C::foo()": {},
			},
		},
		{
			name: "unrelated hierarchies do not override each other",
			classes: []model.Class{
				{Key: "A"},
				{Key: "X"},
			},
			methods: []model.MethodFact{
				virt("A", "foo", "int"),
				virt("X", "foo", "int"),
			},
			want: map[string][]string{
				"A::foo()": {},
				"X::foo()": {},
			},
		},
		{
			name: "diamond",
			classes: []model.Class{
				{Key: "Top"},
				{Key: "L", Parents: []string{"Top"}},
				{Key: "R", Parents: []string{"Top"}},
				{Key: "Bottom", Parents: []string{"L", "R"}},
			},
			methods: []model.MethodFact{
				virt("Top", "f", "void"),
				virt("L", "f", "void"),
				virt("Bottom", "f", "void"),
			},
			want: map[string][]string{
				"Top::f()":    {"L::f()", "Bottom::f()"},
				"L::f()":      {"Bottom::f()"},
				"Bottom::f()": {},
			},
		},
		{
			name: "different signature is not an override",
			classes: []model.Class{
				{Key: "A"},
				{Key: "B", Parents: []string{"A"}},
			},
			methods: []model.MethodFact{
				virt("A", "foo", "int"),
				virt("B", "foo", "int", "int"),
			},
			want: map[string][]string{
				"A::foo()":    {},
				"B::foo(int)": {},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.classes, tt.methods)
			require.Equal(t, len(tt.want), f.ovr.Len())
			for linkage, want := range tt.want {
				got, ok := f.ovr.Of(f.method(t, linkage))
				require.True(t, ok, "override set of %s must be computed", linkage)
				assert.ElementsMatch(t, want, linkages(got), linkage)
			}
		})
	}
}

func TestOverrides_NotComputed(t *testing.T) {
	f := newFixture(t,
		[]model.Class{{Key: "A"}},
		[]model.MethodFact{
			{Linkage: "A::plain()", Name: "plain", Owner: "A", Defined: true},
			{Linkage: "orphan()", Name: "orphan", Virtual: true, Defined: true},
		})

	_, ok := f.ovr.Of(f.method(t, "A::plain()"))
	require.False(t, ok, "non-virtual method")
	_, ok = f.ovr.Of(f.method(t, "orphan()"))
	require.False(t, ok, "virtual method without an owner")
}

// TestOverrides_GeneratedHierarchies checks on random hierarchies that a
// method has an empty override set only when no proper subclass of its owner
// declares the same slot.
func TestOverrides_GeneratedHierarchies(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 50 {
		n := 2 + rng.IntN(10)
		classes := make([]model.Class, n)
		for i := range n {
			classes[i] = model.Class{Key: fmt.Sprintf("C%d", i)}
			for j := range i {
				if rng.IntN(4) == 0 {
					classes[i].Parents = append(classes[i].Parents, classes[j].Key)
				}
			}
		}
		var methods []model.MethodFact
		for i := range n {
			if rng.IntN(2) == 0 {
				methods = append(methods, virt(classes[i].Key, "f", "int"))
			}
		}
		if len(methods) == 0 {
			continue
		}

		f := newFixture(t, classes, methods)
		for _, fact := range methods {
			m := f.method(t, fact.Linkage)
			set, ok := f.ovr.Of(m)
			require.True(t, ok)

			declaredBelow := false
			for _, other := range methods {
				if other.Owner == fact.Owner {
					continue
				}
				if f.h.IsSubclassOf(f.class(t, other.Owner), m.Class) {
					declaredBelow = true
				}
			}
			require.Equal(t, declaredBelow, len(set) > 0,
				"round %d: %s override set %v", round, m.Linkage, linkages(set))
		}
	}
}
