package schema

import (
	"fmt"
	"strings"
)

// Kind classifies a Type.
type Kind int

const (
	KindUnknown Kind = iota
	KindNull
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindArray
	KindTuple
	KindMap
	KindOptional
	KindObject
	KindParam
)

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindNull:     "null",
	KindString:   "string",
	KindNumber:   "number",
	KindInteger:  "integer",
	KindBoolean:  "boolean",
	KindArray:    "array",
	KindTuple:    "tuple",
	KindMap:      "map",
	KindOptional: "optional",
	KindObject:   "object",
	KindParam:    "param",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type describes the shape of a value crossing the wire.
//
// Named objects may reference themselves through their fields, so a Type graph
// can contain cycles. Consumers that walk it must track what they have visited.
type Type struct {
	Kind Kind

	// Name is set for named objects and type parameters.
	Name string
	// Doc is an optional description carried into generated artefacts.
	Doc string

	// Elem is the element of arrays and optionals, and the value of maps.
	Elem *Type
	// Items holds tuple members in order.
	Items []*Type
	// Fields holds object members in declaration order.
	Fields []Field

	// TypeParams names the parameters of a generic definition.
	TypeParams []string
	// Args holds the arguments of a generic instantiation, matching TypeParams.
	Args []*Type
}

// Field is one member of an object type.
type Field struct {
	Name     string
	Type     *Type
	Optional bool
	Doc      string
}

// --- Factory Functions ---

// Unknown creates a type that accepts any value.
func Unknown() *Type { return &Type{Kind: KindUnknown} }

// Null creates the type of the null value, used for operations returning nothing.
func Null() *Type { return &Type{Kind: KindNull} }

// String creates a string type.
func String() *Type { return &Type{Kind: KindString} }

// Number creates a floating-point number type.
func Number() *Type { return &Type{Kind: KindNumber} }

// Integer creates a whole-number type. It renders as number.
func Integer() *Type { return &Type{Kind: KindInteger} }

// Bool creates a boolean type.
func Bool() *Type { return &Type{Kind: KindBoolean} }

// Array creates an array of elem.
func Array(elem *Type) *Type { return &Type{Kind: KindArray, Elem: elem} }

// Tuple creates a fixed-length heterogeneous array.
func Tuple(items ...*Type) *Type { return &Type{Kind: KindTuple, Items: items} }

// Map creates a string-keyed map of values.
func Map(value *Type) *Type { return &Type{Kind: KindMap, Elem: value} }

// Optional creates a nullable elem. Optional of an optional collapses.
func Optional(elem *Type) *Type {
	if elem != nil && elem.Kind == KindOptional {
		return elem
	}
	return &Type{Kind: KindOptional, Elem: elem}
}

// Object creates an anonymous object rendered inline.
func Object(fields ...Field) *Type {
	return &Type{Kind: KindObject, Fields: fields}
}

// Named creates a named object whose definition is emitted once in the type table.
func Named(name string, fields ...Field) *Type {
	return &Type{Kind: KindObject, Name: name, Fields: fields}
}

// Generic creates a named object definition parameterised by params.
// Use Param to refer to a parameter inside fields and Instantiate to apply it.
func Generic(name string, params []string, fields ...Field) *Type {
	return &Type{Kind: KindObject, Name: name, TypeParams: params, Fields: fields}
}

// Param refers to a type parameter of the enclosing generic definition.
func Param(name string) *Type { return &Type{Kind: KindParam, Name: name} }

// Instantiate applies args to a generic definition. The result shares the
// definition's fields, so every instantiation renders the same definition.
func Instantiate(def *Type, args ...*Type) (*Type, error) {
	if def == nil || def.Kind != KindObject || len(def.TypeParams) == 0 {
		return nil, fmt.Errorf("instantiate: %s is not a generic definition", def)
	}
	if len(args) != len(def.TypeParams) {
		return nil, fmt.Errorf("instantiate %s: want %d type arguments, got %d", def.Name, len(def.TypeParams), len(args))
	}
	return &Type{
		Kind:       KindObject,
		Name:       def.Name,
		Doc:        def.Doc,
		Fields:     def.Fields,
		TypeParams: def.TypeParams,
		Args:       args,
	}, nil
}

// F creates a required field.
func F(name string, t *Type) Field { return Field{Name: name, Type: t} }

// Opt creates a field that may be absent.
func Opt(name string, t *Type) Field { return Field{Name: name, Type: t, Optional: true} }

// IsNamed reports whether t is emitted as an entry of the type table.
func (t *Type) IsNamed() bool {
	return t != nil && t.Kind == KindObject && t.Name != ""
}

// IsGeneric reports whether t is a generic definition or instantiation.
func (t *Type) IsGeneric() bool {
	return t != nil && len(t.TypeParams) > 0
}

// String renders the reference form of t, as used in signatures
// (e.g., "string", "User[]", "Page<User>", "string | null").
func (t *Type) String() string {
	if t == nil {
		return "unknown"
	}
	switch t.Kind {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber, KindInteger:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindArray:
		elem := t.Elem.String()
		if t.Elem != nil && t.Elem.Kind == KindOptional {
			elem = "(" + elem + ")"
		}
		return elem + "[]"
	case KindTuple:
		items := make([]string, len(t.Items))
		for i, item := range t.Items {
			items[i] = item.String()
		}
		return "[" + strings.Join(items, ", ") + "]"
	case KindMap:
		return "{ [key: string]: " + t.Elem.String() + " }"
	case KindOptional:
		return t.Elem.String() + " | null"
	case KindParam:
		return t.Name
	case KindObject:
		if t.Name == "" {
			return t.Body()
		}
		if len(t.Args) > 0 {
			args := make([]string, len(t.Args))
			for i, arg := range t.Args {
				args[i] = arg.String()
			}
			return t.Name + "<" + strings.Join(args, ", ") + ">"
		}
		if len(t.TypeParams) > 0 {
			return t.Name + "<" + strings.Join(t.TypeParams, ", ") + ">"
		}
		return t.Name
	default:
		return "unknown"
	}
}

// Body renders the structural definition of an object: "{ a: string, b?: number }".
// Nested named objects render by reference, so Body terminates on cyclic graphs.
func (t *Type) Body() string {
	if t == nil || t.Kind != KindObject {
		return t.String()
	}
	if len(t.Fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		sep := ": "
		if f.Optional {
			sep = "?: "
		}
		parts[i] = f.Name + sep + f.Type.String()
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
