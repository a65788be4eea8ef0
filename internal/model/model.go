// Package model defines the program facts consumed by the devirtualization analysis.
package model

import (
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Dispatch is the dispatch mechanism of a call fact.
type Dispatch string

const (
	// DispatchVirtual marks a call through a virtual slot.
	DispatchVirtual Dispatch = "virtual"

	// DispatchDirect marks a call to a statically known function.
	DispatchDirect Dispatch = "direct"

	// DispatchUnknown marks a call through a value of unknown provenance.
	DispatchUnknown Dispatch = "unknown"
)

// Class describes a class and its direct parents.
type Class struct {
	// Key is the hierarchy-unique class identifier.
	Key string `yaml:"key" json:"key"`

	// Name is the display name. Defaults to Key.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Parents are the keys of the direct parent classes.
	Parents []string `yaml:"parents,omitempty" json:"parents,omitempty"`
}

// Signature is the ordered parameter list plus result type of a method.
// The receiver is never part of a signature.
type Signature struct {
	Params []string `yaml:"params,omitempty" json:"params,omitempty"`
	Result string   `yaml:"result,omitempty" json:"result,omitempty"`
}

// Equal reports whether two signatures match structurally.
func (s Signature) Equal(o Signature) bool {
	if s.Result != o.Result || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether s carries neither parameters nor a result.
func (s Signature) IsZero() bool { return len(s.Params) == 0 && s.Result == "" }

// String renders the signature as "(p1, p2) result".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(strings.Join(s.Params, ", "))
	b.WriteByte(')')
	if s.Result != "" {
		b.WriteByte(' ')
		b.WriteString(s.Result)
	}
	return b.String()
}

// MethodFact is a single observation of a function or method declaration.
// Several facts may describe the same linkage identity.
type MethodFact struct {
	Linkage      string    `yaml:"linkage" json:"linkage"`
	Name         string    `yaml:"name,omitempty" json:"name,omitempty"`
	Signature    Signature `yaml:"signature,omitempty" json:"signature,omitempty"`
	Owner        string    `yaml:"owner,omitempty" json:"owner,omitempty"`
	Virtual      bool      `yaml:"virtual,omitempty" json:"virtual,omitempty"`
	VirtualIndex int       `yaml:"vindex,omitempty" json:"vindex,omitempty"`

	// Defined reports whether the declaration has a body in this program.
	Defined bool `yaml:"defined,omitempty" json:"defined,omitempty"`
}

// Call is a call site inside a function body.
type Call struct {
	// ID optionally names the call site. Generated when empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	Kind Dispatch `yaml:"kind" json:"kind"`

	// Target is the linkage of the slot (virtual) or callee (direct).
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// This reports whether the receiver is exactly the enclosing function's receiver.
	This bool `yaml:"this,omitempty" json:"this,omitempty"`

	Position   string `yaml:"pos,omitempty" json:"pos,omitempty"`
	Suppressed bool   `yaml:"suppressed,omitempty" json:"suppressed,omitempty"`
}

// Function is a function body and the calls found in it, in body order.
type Function struct {
	Linkage string `yaml:"linkage" json:"linkage"`
	Calls   []Call `yaml:"calls,omitempty" json:"calls,omitempty"`
}

// Program is the whole-program fact set.
type Program struct {
	Classes   []Class      `yaml:"classes,omitempty" json:"classes,omitempty"`
	Methods   []MethodFact `yaml:"methods,omitempty" json:"methods,omitempty"`
	Functions []Function   `yaml:"functions,omitempty" json:"functions,omitempty"`

	classIndex map[string]int
	indexed    int
}

// Describer answers class description requests during hierarchy construction.
type Describer interface {
	// DescribeClass returns the class fact for key, or false if the class is unknown.
	DescribeClass(key string) (Class, bool)
}

// DescribeClass implements Describer. The first fact for a key wins.
func (p *Program) DescribeClass(key string) (Class, bool) {
	if p.classIndex == nil || p.indexed != len(p.Classes) {
		p.reindex()
	}
	idx, ok := p.classIndex[key]
	if !ok {
		return Class{}, false
	}
	return p.Classes[idx], true
}

func (p *Program) reindex() {
	p.classIndex = make(map[string]int, len(p.Classes))
	for i, c := range p.Classes {
		if _, exists := p.classIndex[c.Key]; !exists {
			p.classIndex[c.Key] = i
		}
	}
	p.indexed = len(p.Classes)
}

// Merge appends the facts of other programs to p.
// Duplicate facts are resolved later by descriptor enrichment.
func (p *Program) Merge(others ...*Program) {
	for _, o := range others {
		if o == nil {
			continue
		}
		p.Classes = append(p.Classes, o.Classes...)
		p.Methods = append(p.Methods, o.Methods...)
		p.Functions = append(p.Functions, o.Functions...)
	}
	p.classIndex = nil
}

// NumCalls returns the number of call facts across all function bodies.
func (p *Program) NumCalls() int {
	n := 0
	for _, fn := range p.Functions {
		n += len(fn.Calls)
	}
	return n
}

// Decode parses a program model document. JSON documents are accepted as well.
func Decode(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding program model: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the facts for structural problems that make them unusable.
// Incomplete facts are not errors; the analysis degrades on them.
func (p *Program) Validate() error {
	for i, c := range p.Classes {
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("class at index %d has empty key", i)
		}
	}
	for i, m := range p.Methods {
		if strings.TrimSpace(m.Linkage) == "" {
			return fmt.Errorf("method at index %d has empty linkage", i)
		}
	}
	for i, fn := range p.Functions {
		if strings.TrimSpace(fn.Linkage) == "" {
			return fmt.Errorf("function at index %d has empty linkage", i)
		}
		for j, c := range fn.Calls {
			switch c.Kind {
			case DispatchVirtual, DispatchDirect:
				if c.Target == "" {
					return fmt.Errorf("function %s: call %d: %s call without target", fn.Linkage, j, c.Kind)
				}
			case DispatchUnknown:
			default:
				return fmt.Errorf("function %s: call %d: unknown dispatch kind %q", fn.Linkage, j, c.Kind)
			}
		}
	}
	return nil
}
