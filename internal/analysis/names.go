package analysis

import (
	"log/slog"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/puzpuzpuz/xsync/v4"
)

var fingerprintKey = []byte("devirt-slot-fingerprint-key-0001")

// SignatureCache caches slot fingerprints of methods. A fingerprint hashes the
// name and signature of a method, so two methods of the same slot always share
// a fingerprint; equal fingerprints still require a structural comparison.
//
// Fingerprints are cached per descriptor and must only be requested once the
// descriptor is no longer enriched.
type SignatureCache struct {
	cache *xsync.Map[*Method, uint64]
}

// NewSignatureCache creates an empty cache.
func NewSignatureCache() *SignatureCache {
	return &SignatureCache{
		cache: xsync.NewMap[*Method, uint64](),
	}
}

// Fingerprint returns the slot fingerprint of m.
func (c *SignatureCache) Fingerprint(m *Method) uint64 {
	if m == nil {
		return 0
	}
	if fp, ok := c.cache.Load(m); ok {
		return fp
	}
	fp := hashSlot(SlotKey(m))
	c.cache.Store(m, fp)
	return fp
}

// SlotKey renders the canonical slot identity of m: its name followed by the
// parameter list and result, e.g. "foo(int, char*) int".
func SlotKey(m *Method) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(m.Name)
	b.WriteString(m.Signature.String())
	return b.String()
}

func hashSlot(key string) uint64 {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		// Only possible with a malformed key; fall back to a constant so that
		// every comparison goes through structural equality.
		slog.Warn("slot fingerprint unavailable", "error", err)
		return 0
	}
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
