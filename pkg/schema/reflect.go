package schema

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
	"time"
	"unicode"
)

// Typer lets a Go type declare its wire shape explicitly instead of being reflected.
type Typer interface {
	SchemaType() *Type
}

var (
	typerType         = reflect.TypeFor[Typer]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	rawMessageType    = reflect.TypeFor[json.RawMessage]()
	durationType      = reflect.TypeFor[time.Duration]()
)

// Of returns the wire shape of T.
func Of[T any]() *Type {
	return Reflect(reflect.TypeFor[T]())
}

// Reflect maps a Go type onto a Type following encoding/json conventions.
// Recursive named structs produce a cyclic Type graph.
func Reflect(rt reflect.Type) *Type {
	r := &reflector{seen: make(map[reflect.Type]*Type)}
	return r.typeOf(rt)
}

// FieldsOf returns the fields of a struct type in declaration order, with
// embedded structs flattened. It reports false when rt is not a struct.
func FieldsOf(rt reflect.Type) ([]Field, bool) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, false
	}
	r := &reflector{seen: make(map[reflect.Type]*Type)}
	return r.fields(rt), true
}

type reflector struct {
	seen map[reflect.Type]*Type
}

func (r *reflector) typeOf(rt reflect.Type) *Type {
	if rt == nil {
		return Unknown()
	}
	if t, ok := r.seen[rt]; ok {
		return t
	}

	if rt.Kind() != reflect.Pointer && rt.Kind() != reflect.Interface {
		if rt.Implements(typerType) {
			if t := reflect.Zero(rt).Interface().(Typer).SchemaType(); t != nil {
				return t
			}
		}
		if reflect.PointerTo(rt).Implements(typerType) {
			if t := reflect.New(rt).Interface().(Typer).SchemaType(); t != nil {
				return t
			}
		}
	}

	switch {
	case rt == rawMessageType:
		return Unknown()
	case rt == durationType:
		return Integer()
	case rt.Kind() != reflect.Pointer && rt.Kind() != reflect.Interface &&
		(rt.Implements(textMarshalerType) || reflect.PointerTo(rt).Implements(textMarshalerType)):
		return String()
	case rt.Kind() != reflect.Pointer && rt.Kind() != reflect.Interface &&
		(rt.Implements(jsonMarshalerType) || reflect.PointerTo(rt).Implements(jsonMarshalerType)):
		return Unknown()
	}

	switch rt.Kind() {
	case reflect.Bool:
		return Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Integer()
	case reflect.Float32, reflect.Float64:
		return Number()
	case reflect.String:
		return String()
	case reflect.Slice, reflect.Array:
		if rt.Elem().Kind() == reflect.Uint8 && rt.Kind() == reflect.Slice {
			// encoding/json writes []byte as base64 text.
			return String()
		}
		return Array(r.typeOf(rt.Elem()))
	case reflect.Map:
		return Map(r.typeOf(rt.Elem()))
	case reflect.Pointer:
		return Optional(r.typeOf(rt.Elem()))
	case reflect.Struct:
		return r.structOf(rt)
	default:
		return Unknown()
	}
}

func (r *reflector) structOf(rt reflect.Type) *Type {
	t := &Type{Kind: KindObject, Name: TypeName(rt)}
	if t.Name != "" {
		// Register before walking fields so self references resolve to t.
		r.seen[rt] = t
	}
	t.Fields = r.fields(rt)
	return t
}

func (r *reflector) fields(rt reflect.Type) []Field {
	var out []Field
	for i := range rt.NumField() {
		sf := rt.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = append(out, r.fields(ft)...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		field := Field{
			Name:     name,
			Type:     r.typeOf(sf.Type),
			Optional: hasOption(opts, "omitempty") || hasOption(opts, "omitzero"),
			Doc:      sf.Tag.Get("doc"),
		}
		if hasOption(opts, "string") {
			field.Type = String()
		}
		out = append(out, field)
	}
	return out
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// TypeName returns the table name of a named Go type. Generic instantiations are
// flattened so that Page[pkg.User] becomes PageUser; anonymous types return "".
func TypeName(rt reflect.Type) string {
	name := rt.Name()
	if name == "" {
		return ""
	}
	base, rest, generic := strings.Cut(name, "[")
	if !generic {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	for _, token := range strings.FieldsFunc(rest, func(r rune) bool {
		return r == '[' || r == ']' || r == ',' || r == ' ' || r == '*'
	}) {
		if i := strings.LastIndexAny(token, "./"); i >= 0 {
			token = token[i+1:]
		}
		b.WriteString(exportedIdent(token))
	}
	return b.String()
}

func exportedIdent(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
