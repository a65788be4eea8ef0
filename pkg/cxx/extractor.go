package cxx

import (
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/715d/devirt/internal/model"
	"github.com/715d/devirt/pkg/suppress"
)

// scope is the declaration context of a node.
type scope struct {
	// ns qualifies names declared in this scope. Inside a class body it is the
	// class key.
	ns string

	// class is the enclosing class, or nil outside class bodies.
	class *classInfo
}

func (s scope) qualify(name string) string { return qualify(s.ns, name) }

func qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "::" + name
}

// typeRef is the declared type of a variable, parameter or field.
type typeRef struct {
	// name is the normalized type spelling without pointer or reference.
	name string

	// indirect reports a pointer or reference, whose dynamic type may be a
	// subclass of the static type.
	indirect bool

	// ns is the scope name is resolved in.
	ns string
}

type classInfo struct {
	key string

	// ns is the scope enclosing the class, used to resolve base names.
	ns      string
	bases   []string
	parents []*classInfo

	methods []*methodInfo
	fields  map[string]typeRef
}

type methodInfo struct {
	name   string
	params []string
	result string

	// owner is nil for free functions.
	owner *classInfo
	ns    string

	virtual bool
	defined bool
	linkage string

	// slotResult is the result type of the slot m occupies. It differs from
	// result when m overrides with a covariant return type.
	slotResult string
}

func (m *methodInfo) qualifiedName() string {
	if m.owner != nil {
		return qualify(m.owner.key, m.name)
	}
	return qualify(m.ns, m.name)
}

// merge folds a redeclaration into m.
func (m *methodInfo) merge(o *methodInfo) {
	m.virtual = m.virtual || o.virtual
	m.defined = m.defined || o.defined
	if m.result == "" {
		m.result = o.result
	}
}

// body is a function body awaiting call analysis.
type body struct {
	fn     *methodInfo
	unit   *unit
	node   *sitter.Node
	params map[string]typeRef

	// ns is the scope names in the body are resolved in.
	ns    string
	calls []model.Call
}

// outOfClass is a qualified definition such as "int A::foo() { ... }",
// resolved once every class is known.
type outOfClass struct {
	scope  string
	ns     string
	fn     *methodInfo
	unit   *unit
	node   *sitter.Node
	params map[string]typeRef
}

type extractor struct {
	classes []*classInfo
	byKey   map[string]*classInfo

	funcs       []*methodInfo
	funcsByName map[string][]*methodInfo

	pending      []outOfClass
	bodies       []*body
	suppressions *suppress.Checker
}

func newExtractor() *extractor {
	return &extractor{
		byKey:        make(map[string]*classInfo),
		funcsByName:  make(map[string][]*methodInfo),
		suppressions: suppress.NewChecker(),
	}
}

func (x *extractor) declareChildren(u *unit, n *sitter.Node, sc scope) {
	for i := range int(n.NamedChildCount()) {
		x.declare(u, n.NamedChild(i), sc)
	}
}

// declare records the classes, methods and functions declared under n.
func (x *extractor) declare(u *unit, n *sitter.Node, sc scope) {
	switch n.Type() {
	case "comment":
		return
	case "namespace_definition":
		inner := scope{ns: sc.ns}
		if name := n.ChildByFieldName("name"); name != nil {
			inner.ns = sc.qualify(name.Content(u.src))
		}
		if b := n.ChildByFieldName("body"); b != nil {
			x.declareChildren(u, b, inner)
		}
		return
	case "class_specifier", "struct_specifier":
		x.declareClass(u, n, sc)
		return
	case "function_definition":
		x.declareFunction(u, n, sc)
		return
	case "field_declaration":
		if sc.class != nil {
			x.declareMember(u, n, sc)
			return
		}
	case "declaration":
		if sc.class == nil && x.declarePrototypes(u, n, sc) {
			return
		}
	}
	x.declareChildren(u, n, sc)
}

func (x *extractor) declareClass(u *unit, n *sitter.Node, sc scope) {
	name := n.ChildByFieldName("name")
	b := n.ChildByFieldName("body")
	if name == nil || b == nil {
		// Forward declarations and anonymous classes.
		return
	}
	c := x.class(sc.qualify(normalize(name.Content(u.src))))
	c.ns = sc.ns
	for i := range int(n.NamedChildCount()) {
		clause := n.NamedChild(i)
		if clause.Type() != "base_class_clause" {
			continue
		}
		for j := range int(clause.NamedChildCount()) {
			base := clause.NamedChild(j)
			switch base.Type() {
			case "type_identifier", "qualified_identifier":
				c.bases = append(c.bases, normalize(base.Content(u.src)))
			case "template_type":
				if tn := base.ChildByFieldName("name"); tn != nil {
					c.bases = append(c.bases, normalize(tn.Content(u.src)))
				}
			}
		}
	}
	x.declareChildren(u, b, scope{ns: c.key, class: c})
}

func (x *extractor) class(key string) *classInfo {
	if c, ok := x.byKey[key]; ok {
		return c
	}
	c := &classInfo{key: key, fields: make(map[string]typeRef)}
	x.classes = append(x.classes, c)
	x.byKey[key] = c
	return c
}

func (x *extractor) declareFunction(u *unit, n *sitter.Node, sc scope) {
	fd, suffix := functionDeclarator(n.ChildByFieldName("declarator"))
	if fd == nil {
		return
	}
	nameNode := fd.ChildByFieldName("declarator")
	if nameNode == nil || nameNode.Type() == "destructor_name" {
		return
	}
	params, locals := parameters(u, fd, sc.ns)
	m := &methodInfo{
		params:  params,
		result:  resultType(u, n, suffix),
		virtual: isVirtual(n, fd),
		defined: n.ChildByFieldName("body") != nil,
	}
	b := n.ChildByFieldName("body")

	if nameNode.Type() == "qualified_identifier" {
		qual, name := splitQualified(normalize(nameNode.Content(u.src)))
		m.name = name
		x.pending = append(x.pending, outOfClass{
			scope: qual, ns: sc.ns, fn: m, unit: u, node: b, params: locals,
		})
		return
	}

	m.name = normalize(nameNode.Content(u.src))
	if sc.class != nil {
		m = x.addMethod(sc.class, m)
	} else {
		m.ns = sc.ns
		m = x.addFunc(m)
	}
	if b != nil {
		x.bodies = append(x.bodies, &body{fn: m, unit: u, node: b, params: locals, ns: sc.ns})
	}
}

// declareMember handles a field declaration inside a class body: either a
// method declaration or data members.
func (x *extractor) declareMember(u *unit, n *sitter.Node, sc scope) {
	if fd, suffix := functionDeclarator(n.ChildByFieldName("declarator")); fd != nil {
		nameNode := fd.ChildByFieldName("declarator")
		if nameNode == nil || nameNode.Type() == "destructor_name" {
			return
		}
		params, _ := parameters(u, fd, sc.ns)
		x.addMethod(sc.class, &methodInfo{
			name:    normalize(nameNode.Content(u.src)),
			params:  params,
			result:  resultType(u, n, suffix),
			virtual: isVirtual(n, fd),
		})
		return
	}

	t := n.ChildByFieldName("type")
	if t == nil {
		return
	}
	if t.Type() == "class_specifier" || t.Type() == "struct_specifier" {
		x.declareClass(u, t, sc)
	}
	tname := typeName(u, t)
	for i := range int(n.ChildCount()) {
		if n.FieldNameForChild(i) != "declarator" {
			continue
		}
		name, suffix := declaratorShape(u, n.Child(i))
		if name == "" {
			continue
		}
		sc.class.fields[name] = typeRef{name: tname, indirect: suffix != "", ns: sc.ns}
	}
}

// declarePrototypes records free function declarations. It reports whether n
// declared any function.
func (x *extractor) declarePrototypes(u *unit, n *sitter.Node, sc scope) bool {
	found := false
	for i := range int(n.ChildCount()) {
		if n.FieldNameForChild(i) != "declarator" {
			continue
		}
		fd, suffix := functionDeclarator(n.Child(i))
		if fd == nil {
			continue
		}
		nameNode := fd.ChildByFieldName("declarator")
		if nameNode == nil || nameNode.Type() != "identifier" {
			continue
		}
		params, _ := parameters(u, fd, sc.ns)
		x.addFunc(&methodInfo{
			name:   nameNode.Content(u.src),
			params: params,
			result: resultType(u, n, suffix),
			ns:     sc.ns,
		})
		found = true
	}
	return found
}

// addMethod adds m to c, merging it into an existing declaration of the same
// name and parameters.
func (x *extractor) addMethod(c *classInfo, m *methodInfo) *methodInfo {
	for _, existing := range c.methods {
		if existing.name == m.name && slices.Equal(existing.params, m.params) {
			existing.merge(m)
			return existing
		}
	}
	m.owner = c
	c.methods = append(c.methods, m)
	return m
}

func (x *extractor) addFunc(m *methodInfo) *methodInfo {
	name := m.qualifiedName()
	for _, existing := range x.funcsByName[name] {
		if slices.Equal(existing.params, m.params) {
			existing.merge(m)
			return existing
		}
	}
	x.funcs = append(x.funcs, m)
	x.funcsByName[name] = append(x.funcsByName[name], m)
	return m
}

// link resolves names once every unit has been declared: base classes,
// out-of-class definitions, implicit virtuality and linkage identities.
func (x *extractor) link() {
	for _, c := range x.classes {
		for _, base := range c.bases {
			if p := x.resolveClass(base, c.ns); p != nil {
				c.parents = append(c.parents, p)
			}
		}
	}

	for _, def := range x.pending {
		var m *methodInfo
		ns := def.ns
		if c := x.resolveClass(def.scope, def.ns); c != nil {
			m = x.addMethod(c, def.fn)
			ns = c.key
		} else {
			def.fn.ns = qualify(def.ns, def.scope)
			m = x.addFunc(def.fn)
		}
		if def.node != nil {
			x.bodies = append(x.bodies, &body{fn: m, unit: def.unit, node: def.node, params: def.params, ns: ns})
		}
	}
	x.pending = nil

	// A method overriding a virtual method is virtual even without the keyword.
	for changed := true; changed; {
		changed = false
		for _, c := range x.classes {
			for _, m := range c.methods {
				if !m.virtual && x.overridden(c, m) != nil {
					m.virtual = true
					changed = true
				}
			}
		}
	}

	for _, c := range x.classes {
		for _, m := range c.methods {
			m.linkage = linkage(m)
			if m.virtual {
				m.slotResult = x.slotResult(m, map[*methodInfo]bool{})
			}
		}
	}
	for _, f := range x.funcs {
		f.linkage = linkage(f)
	}
}

func linkage(m *methodInfo) string {
	return m.qualifiedName() + "(" + strings.Join(m.params, ",") + ")"
}

// overridden returns the nearest virtual method of a strict ancestor of c with
// m's name and parameters, or nil.
func (x *extractor) overridden(c *classInfo, m *methodInfo) *methodInfo {
	seen := map[*classInfo]bool{c: true}
	queue := slices.Clone(c.parents)
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		if seen[a] {
			continue
		}
		seen[a] = true
		for _, am := range a.methods {
			if am.virtual && am.name == m.name && slices.Equal(am.params, m.params) {
				return am
			}
		}
		queue = append(queue, a.parents...)
	}
	return nil
}

// slotResult follows m's overridden chain to the introducing declaration and
// returns its result type.
func (x *extractor) slotResult(m *methodInfo, seen map[*methodInfo]bool) string {
	if seen[m] || m.owner == nil {
		return m.result
	}
	seen[m] = true
	if base := x.overridden(m.owner, m); base != nil {
		return x.slotResult(base, seen)
	}
	return m.result
}

// resolveClass finds the class a type spelling refers to from scope ns. Names
// are looked up from the innermost scope outwards, then by unique suffix.
func (x *extractor) resolveClass(name, ns string) *classInfo {
	name = strings.TrimPrefix(name, "::")
	if name == "" {
		return nil
	}
	for s := ns; ; {
		if c, ok := x.byKey[qualify(s, name)]; ok {
			return c
		}
		if s == "" {
			break
		}
		if i := strings.LastIndex(s, "::"); i >= 0 {
			s = s[:i]
		} else {
			s = ""
		}
	}

	var found *classInfo
	for _, c := range x.classes {
		if strings.HasSuffix(c.key, "::"+name) {
			if found != nil {
				return nil
			}
			found = c
		}
	}
	return found
}

// lookupMember finds the method named name visible in c, searching c first and
// then its ancestors level by level. A method whose parameter count matches
// argc is preferred within a level.
func (x *extractor) lookupMember(c *classInfo, name string, argc int) *methodInfo {
	seen := map[*classInfo]bool{c: true}
	level := []*classInfo{c}
	for len(level) > 0 {
		var best *methodInfo
		var next []*classInfo
		for _, cls := range level {
			for _, m := range cls.methods {
				if m.name != name {
					continue
				}
				if len(m.params) == argc {
					return m
				}
				if best == nil {
					best = m
				}
			}
			for _, p := range cls.parents {
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		if best != nil {
			return best
		}
		level = next
	}
	return nil
}

// lookupFunc finds a free function visible from scope ns.
func (x *extractor) lookupFunc(name, ns string, argc int) *methodInfo {
	name = strings.TrimPrefix(name, "::")
	for s := ns; ; {
		if cands := x.funcsByName[qualify(s, name)]; len(cands) > 0 {
			for _, f := range cands {
				if len(f.params) == argc {
					return f
				}
			}
			return cands[0]
		}
		if s == "" {
			return nil
		}
		if i := strings.LastIndex(s, "::"); i >= 0 {
			s = s[:i]
		} else {
			s = ""
		}
	}
}

// fieldType finds a data member declared in c or an ancestor.
func (x *extractor) fieldType(c *classInfo, name string) (typeRef, bool) {
	seen := map[*classInfo]bool{}
	queue := []*classInfo{c}
	for len(queue) > 0 {
		cls := queue[0]
		queue = queue[1:]
		if seen[cls] {
			continue
		}
		seen[cls] = true
		if t, ok := cls.fields[name]; ok {
			return t, true
		}
		queue = append(queue, cls.parents...)
	}
	return typeRef{}, false
}

// program renders the extracted facts.
func (x *extractor) program() *model.Program {
	prog := &model.Program{}
	for _, c := range x.classes {
		fact := model.Class{Key: c.key, Name: c.key}
		for _, base := range c.bases {
			if p := x.resolveClass(base, c.ns); p != nil {
				fact.Parents = append(fact.Parents, p.key)
			} else {
				fact.Parents = append(fact.Parents, base)
			}
		}
		prog.Classes = append(prog.Classes, fact)

		vindex := 0
		for _, m := range c.methods {
			mf := methodFact(m)
			mf.Owner = c.key
			if m.virtual {
				mf.VirtualIndex = vindex
				vindex++
			}
			prog.Methods = append(prog.Methods, mf)
		}
	}
	for _, f := range x.funcs {
		prog.Methods = append(prog.Methods, methodFact(f))
	}
	for _, b := range x.bodies {
		prog.Functions = append(prog.Functions, model.Function{Linkage: b.fn.linkage, Calls: b.calls})
	}
	return prog
}

// methodFact describes m. Overriders carry the result type of their slot so
// covariant overrides share it.
func methodFact(m *methodInfo) model.MethodFact {
	result := m.result
	if m.slotResult != "" {
		result = m.slotResult
	}
	return model.MethodFact{
		Linkage:   m.linkage,
		Name:      m.name,
		Signature: model.Signature{Params: m.params, Result: result},
		Virtual:   m.virtual,
		Defined:   m.defined,
	}
}
