package analysis

// EquivalenceClass groups the virtual methods sharing one slot: the same name
// and the same signature. Membership is structural and spans unrelated
// hierarchies.
type EquivalenceClass struct {
	// Representative is the method the class was created for.
	Representative *Method

	members []*Method
}

// Add inserts m as a member. Adding a member twice is a no-op.
func (e *EquivalenceClass) Add(m *Method) {
	for _, existing := range e.members {
		if existing == m {
			return
		}
	}
	e.members = append(e.members, m)
}

// Members returns the members in insertion order.
func (e *EquivalenceClass) Members() []*Method { return e.members }

// EquivalenceIndex finds and creates equivalence classes.
//
// Lookup is a linear scan over existing classes; hierarchies in this domain are
// small. Fingerprints reject most candidates before the structural comparison.
type EquivalenceIndex struct {
	sigs         *SignatureCache
	classes      []*EquivalenceClass
	fingerprints []uint64
	membership   map[*Method]*EquivalenceClass
}

// NewEquivalenceIndex creates an empty index using sigs for fingerprints.
func NewEquivalenceIndex(sigs *SignatureCache) *EquivalenceIndex {
	if sigs == nil {
		sigs = NewSignatureCache()
	}
	return &EquivalenceIndex{
		sigs:       sigs,
		membership: make(map[*Method]*EquivalenceClass),
	}
}

// ClassFor returns the equivalence class of m's slot, creating one keyed by m if
// no existing class matches. It returns nil for non-virtual methods. The caller
// is responsible for adding m to the returned class.
func (x *EquivalenceIndex) ClassFor(m *Method) *EquivalenceClass {
	if m == nil || !m.Virtual {
		return nil
	}
	fp := x.sigs.Fingerprint(m)
	for i, e := range x.classes {
		if x.fingerprints[i] != fp {
			continue
		}
		if e.Representative.SameSlot(m) {
			return e
		}
	}
	e := &EquivalenceClass{Representative: m}
	x.classes = append(x.classes, e)
	x.fingerprints = append(x.fingerprints, fp)
	return e
}

// Insert finds the class of m and records m as a member of it.
func (x *EquivalenceIndex) Insert(m *Method) *EquivalenceClass {
	e := x.ClassFor(m)
	if e == nil {
		return nil
	}
	e.Add(m)
	x.membership[m] = e
	return e
}

// Of returns the class m was inserted into.
func (x *EquivalenceIndex) Of(m *Method) (*EquivalenceClass, bool) {
	e, ok := x.membership[m]
	return e, ok
}

// Classes returns all classes in creation order.
func (x *EquivalenceIndex) Classes() []*EquivalenceClass { return x.classes }
