package cxx

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var smartPointer = regexp.MustCompile(`^(?:std::)?(?:unique_ptr|shared_ptr)\s*<\s*(.+?)\s*>$`)

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitQualified splits "a::b::c" into "a::b" and "c".
func splitQualified(name string) (string, string) {
	i := strings.LastIndex(name, "::")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+2:]
}

// typeName returns the spelling of a type node without elaborated-type
// keywords.
func typeName(u *unit, t *sitter.Node) string {
	if t == nil {
		return ""
	}
	name := normalize(t.Content(u.src))
	for _, kw := range []string{"typename ", "struct ", "class "} {
		name = strings.TrimPrefix(name, kw)
	}
	return name
}

// functionDeclarator unwraps pointer and reference declarators around a
// function declarator. The suffix spells the unwrapped indirections, which
// belong to the result type.
func functionDeclarator(n *sitter.Node) (*sitter.Node, string) {
	suffix := ""
	for n != nil {
		switch n.Type() {
		case "function_declarator":
			return n, suffix
		case "pointer_declarator":
			suffix += "*"
			n = n.ChildByFieldName("declarator")
		case "reference_declarator":
			suffix += "&"
			n = firstNamed(n)
		case "parenthesized_declarator":
			n = firstNamed(n)
		default:
			return nil, ""
		}
	}
	return nil, ""
}

// declaratorShape returns the declared name and the pointer, reference and
// array indirections applied to the base type.
func declaratorShape(u *unit, n *sitter.Node) (string, string) {
	suffix := ""
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier":
			return n.Content(u.src), suffix
		case "pointer_declarator", "abstract_pointer_declarator":
			suffix += "*"
			n = n.ChildByFieldName("declarator")
		case "reference_declarator", "abstract_reference_declarator":
			suffix += "&"
			n = firstNamed(n)
		case "array_declarator", "abstract_array_declarator":
			suffix += "[]"
			n = n.ChildByFieldName("declarator")
		case "init_declarator":
			n = n.ChildByFieldName("declarator")
		case "function_declarator":
			// Function pointers are opaque call targets.
			suffix += "*"
			n = n.ChildByFieldName("declarator")
		case "parenthesized_declarator":
			n = firstNamed(n)
		default:
			return "", suffix
		}
	}
	return "", suffix
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if n.NamedChildCount() == 0 {
		return nil
	}
	return n.NamedChild(0)
}

// qualifiers returns the type qualifiers written directly on n, such as const.
func qualifiers(u *unit, n *sitter.Node) []string {
	var out []string
	for i := range int(n.NamedChildCount()) {
		c := n.NamedChild(i)
		if c.Type() == "type_qualifier" {
			out = append(out, c.Content(u.src))
		}
	}
	return out
}

// parameters returns the parameter types of a function declarator and the
// types of its named parameters.
func parameters(u *unit, fd *sitter.Node, ns string) ([]string, map[string]typeRef) {
	types := []string{}
	locals := make(map[string]typeRef)
	list := fd.ChildByFieldName("parameters")
	if list == nil {
		return types, locals
	}
	for i := range int(list.NamedChildCount()) {
		p := list.NamedChild(i)
		switch p.Type() {
		case "parameter_declaration", "optional_parameter_declaration":
		case "variadic_parameter_declaration", "variadic_parameter":
			types = append(types, "...")
			continue
		default:
			continue
		}
		base := typeName(u, p.ChildByFieldName("type"))
		name, suffix := declaratorShape(u, p.ChildByFieldName("declarator"))
		full := normalize(strings.Join(append(qualifiers(u, p), base), " ")) + suffix
		types = append(types, full)
		if name != "" {
			locals[name] = typeRef{name: base, indirect: suffix != "", ns: ns}
		}
	}
	if len(types) == 1 && types[0] == "void" {
		types = types[:0]
	}
	return types, locals
}

// resultType spells the declared result of a function definition or
// declaration. Constructors have none.
func resultType(u *unit, n *sitter.Node, suffix string) string {
	t := n.ChildByFieldName("type")
	if t == nil {
		return ""
	}
	return normalize(strings.Join(append(qualifiers(u, n), typeName(u, t)), " ")) + suffix
}

// isVirtual reports an explicit virtual keyword or an override/final
// specifier.
func isVirtual(n, fd *sitter.Node) bool {
	for i := range int(n.ChildCount()) {
		switch n.Child(i).Type() {
		case "virtual", "virtual_function_specifier":
			return true
		}
	}
	for i := range int(fd.ChildCount()) {
		if fd.Child(i).Type() == "virtual_specifier" {
			return true
		}
	}
	return false
}
