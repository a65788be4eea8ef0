package cxx

import (
	"fmt"
	"maps"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/715d/devirt/internal/model"
)

// bodyContext tracks the variables visible while walking one function body.
// Block scoping is ignored: a name keeps the type of its latest declaration.
type bodyContext struct {
	x      *extractor
	b      *body
	locals map[string]typeRef
}

// analyzeBody records the call sites of b in body order.
func (x *extractor) analyzeBody(b *body) {
	bc := &bodyContext{x: x, b: b, locals: maps.Clone(b.params)}
	bc.walk(b.node)
}

func (bc *bodyContext) walk(n *sitter.Node) {
	switch n.Type() {
	case "declaration":
		bc.declare(n)
	case "call_expression":
		bc.call(n)
	}
	for i := range int(n.NamedChildCount()) {
		bc.walk(n.NamedChild(i))
	}
}

func (bc *bodyContext) src() []byte { return bc.b.unit.src }

func (bc *bodyContext) declare(n *sitter.Node) {
	u := bc.b.unit
	tname := typeName(u, n.ChildByFieldName("type"))
	for i := range int(n.ChildCount()) {
		if n.FieldNameForChild(i) != "declarator" {
			continue
		}
		d := n.Child(i)
		name, suffix := declaratorShape(u, d)
		if name == "" {
			continue
		}
		ref := typeRef{name: tname, indirect: suffix != "", ns: bc.b.ns}
		if d.Type() == "init_declarator" && tname == "auto" {
			if value := d.ChildByFieldName("value"); value != nil {
				if t, ok := bc.typeOf(value); ok {
					ref = t
				}
			}
		}
		bc.locals[name] = ref
	}
}

// typeOf returns the static type of a receiver expression.
func (bc *bodyContext) typeOf(e *sitter.Node) (typeRef, bool) {
	if e == nil {
		return typeRef{}, false
	}
	switch e.Type() {
	case "this":
		if owner := bc.b.fn.owner; owner != nil {
			return typeRef{name: owner.key, indirect: true}, true
		}
	case "identifier":
		name := e.Content(bc.src())
		if t, ok := bc.locals[name]; ok {
			return t, true
		}
		if owner := bc.b.fn.owner; owner != nil {
			return bc.x.fieldType(owner, name)
		}
	case "field_expression":
		base, ok := bc.typeOf(e.ChildByFieldName("argument"))
		field := e.ChildByFieldName("field")
		if !ok || field == nil {
			return typeRef{}, false
		}
		if c, _ := bc.x.classOf(base); c != nil {
			return bc.x.fieldType(c, field.Content(bc.src()))
		}
	case "parenthesized_expression":
		if inner := firstNamed(e); inner != nil {
			return bc.typeOf(inner)
		}
	case "pointer_expression":
		// Both *p and &v denote an object whose dynamic type may differ from
		// its static type.
		t, ok := bc.typeOf(e.ChildByFieldName("argument"))
		t.indirect = true
		return t, ok
	case "new_expression":
		return typeRef{name: typeName(bc.b.unit, e.ChildByFieldName("type")), indirect: true, ns: bc.b.ns}, true
	}
	return typeRef{}, false
}

// classOf resolves a type to a class. Smart pointers are seen through.
func (x *extractor) classOf(t typeRef) (*classInfo, bool) {
	name, indirect := t.name, t.indirect
	if m := smartPointer.FindStringSubmatch(name); m != nil {
		name, indirect = normalize(m[1]), true
	}
	return x.resolveClass(name, t.ns), indirect
}

func (bc *bodyContext) call(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	argc := 0
	if args := n.ChildByFieldName("arguments"); args != nil {
		for i := range int(args.NamedChildCount()) {
			if args.NamedChild(i).Type() != "comment" {
				argc++
			}
		}
	}
	line := int(n.StartPoint().Row) + 1
	owner := bc.b.fn.owner

	switch fn.Type() {
	case "identifier":
		name := fn.Content(bc.src())
		if _, ok := bc.locals[name]; ok {
			bc.unknown(line)
			return
		}
		if owner != nil {
			if m := bc.x.lookupMember(owner, name, argc); m != nil {
				bc.member(m, true, true, line)
				return
			}
		}
		bc.free(name, argc, line)
	case "template_function":
		if name := fn.ChildByFieldName("name"); name != nil {
			bc.free(name.Content(bc.src()), argc, line)
		}
	case "qualified_identifier":
		bc.qualified(normalize(fn.Content(bc.src())), argc, line)
	case "field_expression":
		recv := fn.ChildByFieldName("argument")
		field := fn.ChildByFieldName("field")
		if recv == nil || field == nil {
			bc.unknown(line)
			return
		}
		if field.Type() == "qualified_identifier" {
			// p->A::f() names the implementation explicitly.
			bc.qualified(normalize(field.Content(bc.src())), argc, line)
			return
		}
		t, ok := bc.typeOf(recv)
		if !ok {
			bc.unknown(line)
			return
		}
		c, indirect := bc.x.classOf(t)
		if c == nil {
			// Receivers of library types call code outside the program.
			return
		}
		m := bc.x.lookupMember(c, field.Content(bc.src()), argc)
		if m == nil {
			bc.unknown(line)
			return
		}
		arrow := false
		if op := fn.ChildByFieldName("operator"); op != nil {
			arrow = op.Content(bc.src()) == "->"
		}
		bc.member(m, isThis(bc.src(), recv), arrow || indirect, line)
	default:
		bc.unknown(line)
	}
}

// isThis reports whether a receiver expression is this or *this.
func isThis(src []byte, recv *sitter.Node) bool {
	for recv != nil {
		switch recv.Type() {
		case "this":
			return true
		case "parenthesized_expression":
			recv = firstNamed(recv)
		case "pointer_expression":
			if op := recv.ChildByFieldName("operator"); op == nil || op.Content(src) != "*" {
				return false
			}
			recv = recv.ChildByFieldName("argument")
		default:
			return false
		}
	}
	return false
}

func (bc *bodyContext) qualified(name string, argc, line int) {
	qual, short := splitQualified(name)
	if c := bc.x.resolveClass(qual, bc.b.ns); c != nil {
		if m := bc.x.lookupMember(c, short, argc); m != nil {
			bc.direct(m, line)
		}
		return
	}
	bc.free(name, argc, line)
}

// free records a call to a free function. Calls to functions without a body in
// the program are not recorded.
func (bc *bodyContext) free(name string, argc, line int) {
	if f := bc.x.lookupFunc(name, bc.b.ns, argc); f != nil && f.defined {
		bc.direct(f, line)
	}
}

// member records a call to method m. Only dynamic calls of virtual methods
// dispatch through the slot.
func (bc *bodyContext) member(m *methodInfo, this, dynamic bool, line int) {
	if !m.virtual || !dynamic {
		bc.direct(m, line)
		return
	}
	suppressed, _ := bc.x.suppressions.IsSuppressed(bc.b.unit.path, line)
	bc.b.calls = append(bc.b.calls, model.Call{
		Kind:       model.DispatchVirtual,
		Target:     m.linkage,
		This:       this,
		Position:   bc.position(line),
		Suppressed: suppressed,
	})
}

func (bc *bodyContext) direct(m *methodInfo, line int) {
	bc.b.calls = append(bc.b.calls, model.Call{
		Kind:     model.DispatchDirect,
		Target:   m.linkage,
		Position: bc.position(line),
	})
}

func (bc *bodyContext) unknown(line int) {
	bc.b.calls = append(bc.b.calls, model.Call{
		Kind:     model.DispatchUnknown,
		Position: bc.position(line),
	})
}

func (bc *bodyContext) position(line int) string {
	return fmt.Sprintf("%s:%d", bc.b.unit.path, line)
}
