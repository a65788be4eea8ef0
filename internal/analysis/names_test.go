package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/devirt/internal/model"
)

func TestSlotKey(t *testing.T) {
	m := &Method{
		Name:      "foo",
		Signature: model.Signature{Params: []string{"int", "char*"}, Result: "int"},
	}
	require.Equal(t, "foo(int, char*) int", SlotKey(m))

	void := &Method{Name: "bar"}
	require.Equal(t, "bar()", SlotKey(void))
}

func TestFingerprintConsistency(t *testing.T) {
	// The same slot must produce the same fingerprint across descriptors.
	cache := NewSignatureCache()
	a := &Method{Linkage: "A::foo()", Name: "foo", Signature: model.Signature{Result: "int"}}
	b := &Method{Linkage: "B::foo()", Name: "foo", Signature: model.Signature{Result: "int"}}
	c := &Method{Linkage: "B::foo(int)", Name: "foo", Signature: model.Signature{Params: []string{"int"}, Result: "int"}}

	fa := cache.Fingerprint(a)
	require.Equal(t, fa, cache.Fingerprint(a), "cached value must be stable")
	require.Equal(t, fa, cache.Fingerprint(b))
	require.NotEqual(t, fa, cache.Fingerprint(c))
	require.Zero(t, cache.Fingerprint(nil))
}

func TestMultipleSignatureCaches(t *testing.T) {
	// Independent caches agree on the same slot.
	m := &Method{Name: "name", Signature: model.Signature{Result: "char"}}
	cache1 := NewSignatureCache()
	cache2 := NewSignatureCache()
	for range 10 {
		require.Equal(t, cache1.Fingerprint(m), cache2.Fingerprint(m))
	}
}
