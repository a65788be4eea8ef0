package hierarchy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/model"
)

func newBuilder(classes ...model.Class) *Builder {
	return NewBuilder(&model.Program{Classes: classes})
}

func TestBuilder_ResolveMemoized(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "Base"},
		model.Class{Key: "Child", Parents: []string{"Base"}},
	)

	child := b.Resolve("Child")
	require.NotNil(t, child)
	require.Same(t, child, b.Resolve("Child"))

	base, ok := b.Hierarchy().Lookup("Base")
	require.True(t, ok, "parents are resolved together with the child")
	require.Same(t, base, b.Resolve("Base"))
	require.Equal(t, 2, b.Hierarchy().Len())
}

func TestBuilder_EdgesAreMutual(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "A"},
		model.Class{Key: "B", Parents: []string{"A"}},
		model.Class{Key: "C", Parents: []string{"A"}},
		model.Class{Key: "D", Parents: []string{"B", "C"}},
	)
	b.Resolve("D")
	h := b.Hierarchy()

	for _, c := range h.Classes() {
		for _, p := range h.Parents(c) {
			assert.Contains(t, h.Children(p), c, "%s missing from children of %s", c.Key, p.Key)
		}
		for _, ch := range h.Children(c) {
			assert.Contains(t, h.Parents(ch), c, "%s missing from parents of %s", c.Key, ch.Key)
		}
	}
}

func TestBuilder_UnknownClassIsRoot(t *testing.T) {
	b := newBuilder(model.Class{Key: "Child", Parents: []string{"Missing"}})

	child := b.Resolve("Child")
	missing, ok := b.Hierarchy().Lookup("Missing")
	require.True(t, ok)
	assert.True(t, child.Known)
	assert.False(t, missing.Known)
	assert.True(t, missing.IsRoot())
	assert.True(t, b.Hierarchy().IsSubclassOf(child, missing))
}

func TestBuilder_NilDescriber(t *testing.T) {
	b := NewBuilder(nil)
	c := b.Resolve("X")
	require.NotNil(t, c)
	assert.True(t, c.IsRoot())
	assert.True(t, c.IsLeaf())
	assert.False(t, c.Known)
}

func TestIsSubclassOf(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "A"},
		model.Class{Key: "B", Parents: []string{"A"}},
		model.Class{Key: "C", Parents: []string{"A"}},
		model.Class{Key: "D", Parents: []string{"B", "C"}},
		model.Class{Key: "E"},
	)
	h := b.Hierarchy()
	a, bb, c, d, e := b.Resolve("A"), b.Resolve("B"), b.Resolve("C"), b.Resolve("D"), b.Resolve("E")

	tests := []struct {
		name string
		sub  *Class
		sup  *Class
		want bool
	}{
		{name: "reflexive", sub: a, sup: a, want: true},
		{name: "reflexive leaf", sub: d, sup: d, want: true},
		{name: "diamond bottom to top", sub: d, sup: a, want: true},
		{name: "diamond top to bottom", sub: a, sup: d, want: false},
		{name: "direct parent", sub: bb, sup: a, want: true},
		{name: "siblings", sub: bb, sup: c, want: false},
		{name: "unrelated", sub: d, sup: e, want: false},
		{name: "nil", sub: nil, sup: a, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, h.IsSubclassOf(tt.sub, tt.sup))
		})
	}
}

func TestIsSubclassOf_Cycle(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "X", Parents: []string{"Y"}},
		model.Class{Key: "Y", Parents: []string{"X"}},
		model.Class{Key: "Self", Parents: []string{"Self"}},
		model.Class{Key: "Other"},
	)
	h := b.Hierarchy()
	x, y, self, other := b.Resolve("X"), b.Resolve("Y"), b.Resolve("Self"), b.Resolve("Other")

	assert.True(t, h.IsSubclassOf(x, y))
	assert.True(t, h.IsSubclassOf(y, x))
	assert.True(t, h.IsSubclassOf(self, self))
	assert.False(t, h.IsSubclassOf(x, other))
	assert.False(t, h.IsSubclassOf(self, other))
	assert.Len(t, h.Descendants(x), 2)
}

func TestDescendantsAndAncestors(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "A"},
		model.Class{Key: "B", Parents: []string{"A"}},
		model.Class{Key: "C", Parents: []string{"A"}},
		model.Class{Key: "D", Parents: []string{"B", "C"}},
	)
	h := b.Hierarchy()
	d := b.Resolve("D")
	a, _ := h.Lookup("A")

	desc := h.Descendants(a)
	require.Len(t, desc, 4, "D is reachable twice but listed once")
	require.Same(t, a, desc[0])

	levels := h.Ancestors(d)
	require.Len(t, levels, 3)
	require.Equal(t, []*Class{d}, levels[0])
	require.Len(t, levels[1], 2)
	require.Equal(t, []*Class{a}, levels[2])
	require.Equal(t, []*Class{a}, h.Roots())
}

func TestAttachAndDump(t *testing.T) {
	b := newBuilder(
		model.Class{Key: "Base", Name: "Base"},
		model.Class{Key: "Child", Parents: []string{"Base"}},
	)
	base := b.Resolve("Base")
	b.Resolve("Child")
	b.Attach(base, "Base::name()")
	b.Attach(base, "Base::name()")
	b.Attach(nil, "ignored")
	require.Equal(t, []string{"Base::name()"}, base.Methods())

	var buf bytes.Buffer
	require.NoError(t, b.Hierarchy().Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "Base\n  parents:\n  children: Child\n  methods: Base::name()\n")
	assert.Contains(t, out, "Child\n  parents: Base\n")
}
