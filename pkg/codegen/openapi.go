package codegen

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/getkin/kin-openapi/openapi3"
)

const componentPrefix = "#/components/schemas/"

// OpenAPI describes the HTTP surface of the manifest: every Query is served by
// GET (params as the JSON-encoded input query parameter) and POST, every
// Mutation by POST. Subscriptions have no request/response form and are left out.
func OpenAPI(m *Manifest) *openapi3.T {
	b := &openapiBuilder{schemas: openapi3.Schemas{}}
	b.schemas["RpcError"] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewIntegerSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("data", openapi3.NewSchema()))
	b.schemas["RpcError"].Value.Required = []string{"code", "message"}

	doc := &openapi3.T{
		OpenAPI:    "3.0.3",
		Info:       &openapi3.Info{Title: m.opts.title, Version: m.opts.version},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: b.schemas},
	}

	for _, op := range m.Operations {
		if op.Kind == domain.KindSubscription {
			continue
		}
		item := &openapi3.PathItem{}
		item.Post = b.operation(op, false)
		if op.Kind == domain.KindQuery {
			item.Get = b.operation(op, true)
		}
		doc.Paths.Set("/rpc/"+op.Path, item)
	}
	return doc
}

// OpenAPIJSON renders OpenAPI(m) as indented JSON.
func (m *Manifest) OpenAPIJSON() ([]byte, error) {
	return json.MarshalIndent(OpenAPI(m), "", "  ")
}

type openapiBuilder struct {
	schemas openapi3.Schemas
}

func (b *openapiBuilder) operation(op *Operation, get bool) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.OperationID = operationID(op.Path, get)
	o.Summary = op.Signature
	o.Description = op.Doc
	o.Tags = []string{op.Kind.String()}

	params := b.paramsSchema(op)
	if get {
		input := openapi3.NewQueryParameter("input").WithDescription("JSON-encoded params object or array")
		input.Content = openapi3.NewContentWithJSONSchema(params)
		o.AddParameter(input)
	} else {
		o.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithJSONSchema(params)}
	}

	envelope := openapi3.NewObjectSchema().
		WithProperty("jsonrpc", openapi3.NewStringSchema()).
		WithProperty("id", openapi3.NewSchema())
	envelope.WithPropertyRef("result", b.ref(op.Returns, nil))
	envelope.WithPropertyRef("error", openapi3.NewSchemaRef(componentPrefix+"RpcError", nil))
	o.AddResponse(200, openapi3.NewResponse().WithDescription("JSON-RPC response").WithJSONSchema(envelope))
	return o
}

func (b *openapiBuilder) paramsSchema(op *Operation) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for _, p := range op.Params {
		s.WithPropertyRef(p.Name, b.ref(p.Type, nil))
		if !p.Optional {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// ref returns a reference for named types and an inline schema otherwise.
// bindings resolve the type parameters of the generic definition being expanded.
func (b *openapiBuilder) ref(t *schema.Type, bindings map[string]*schema.Type) *openapi3.SchemaRef {
	if t == nil {
		return openapi3.NewSchemaRef("", openapi3.NewSchema())
	}
	if t.Kind == schema.KindParam {
		if bound, ok := bindings[t.Name]; ok {
			return b.ref(bound, nil)
		}
		return openapi3.NewSchemaRef("", openapi3.NewSchema())
	}
	if t.IsNamed() {
		name := componentName(t, bindings)
		if _, ok := b.schemas[name]; !ok {
			// Reserve the slot first so self references terminate.
			b.schemas[name] = openapi3.NewSchemaRef("", openapi3.NewObjectSchema())
			b.schemas[name] = openapi3.NewSchemaRef("", b.object(t, argBindings(t, bindings)))
		}
		return openapi3.NewSchemaRef(componentPrefix+name, nil)
	}
	return openapi3.NewSchemaRef("", b.inline(t, bindings))
}

func (b *openapiBuilder) inline(t *schema.Type, bindings map[string]*schema.Type) *openapi3.Schema {
	switch t.Kind {
	case schema.KindNull:
		return &openapi3.Schema{Nullable: true}
	case schema.KindString:
		return openapi3.NewStringSchema()
	case schema.KindNumber:
		return openapi3.NewFloat64Schema()
	case schema.KindInteger:
		return openapi3.NewIntegerSchema()
	case schema.KindBoolean:
		return openapi3.NewBoolSchema()
	case schema.KindArray:
		s := openapi3.NewArraySchema()
		s.Items = b.ref(t.Elem, bindings)
		return s
	case schema.KindTuple:
		members := make(openapi3.SchemaRefs, len(t.Items))
		for i, item := range t.Items {
			members[i] = b.ref(item, bindings)
		}
		s := openapi3.NewArraySchema()
		s.Items = openapi3.NewSchemaRef("", &openapi3.Schema{OneOf: members})
		n := uint64(len(t.Items))
		s.MinItems = n
		s.MaxItems = &n
		return s
	case schema.KindMap:
		s := openapi3.NewObjectSchema()
		s.AdditionalProperties = openapi3.AdditionalProperties{Schema: b.ref(t.Elem, bindings)}
		return s
	case schema.KindOptional:
		inner := b.ref(t.Elem, bindings)
		if inner.Ref != "" {
			return &openapi3.Schema{Nullable: true, AllOf: openapi3.SchemaRefs{inner}}
		}
		inner.Value.Nullable = true
		return inner.Value
	case schema.KindObject:
		return b.object(t, bindings)
	default:
		return openapi3.NewSchema()
	}
}

func (b *openapiBuilder) object(t *schema.Type, bindings map[string]*schema.Type) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Description = t.Doc
	for _, f := range t.Fields {
		s.WithPropertyRef(f.Name, b.ref(f.Type, bindings))
		if !f.Optional {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func argBindings(t *schema.Type, outer map[string]*schema.Type) map[string]*schema.Type {
	if len(t.Args) == 0 {
		return nil
	}
	bindings := make(map[string]*schema.Type, len(t.Args))
	for i, param := range t.TypeParams {
		arg := t.Args[i]
		if arg.Kind == schema.KindParam && outer != nil {
			if bound, ok := outer[arg.Name]; ok {
				arg = bound
			}
		}
		bindings[param] = arg
	}
	return bindings
}

// componentName flattens an instantiation like Page<User> into PageUser.
func componentName(t *schema.Type, bindings map[string]*schema.Type) string {
	if len(t.Args) == 0 {
		return t.Name
	}
	bound := argBindings(t, bindings)
	var b strings.Builder
	b.WriteString(t.Name)
	for _, param := range t.TypeParams {
		b.WriteString(sanitize(bound[param].String()))
	}
	return b.String()
}

func sanitize(s string) string {
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

func operationID(path string, get bool) string {
	id := sanitize(path)
	if get {
		return "get" + id
	}
	return "post" + id
}
