package handler

import (
	"context"
	"encoding/json"
	"iter"
	"reflect"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// Param is one named, typed operation parameter.
type Param = schema.Field

// Descriptor is the immutable record of one operation.
type Descriptor struct {
	name    string
	kind    domain.Kind
	doc     string
	params  []Param
	returns *schema.Type

	appType     reflect.Type
	contextName string

	decode func(raw json.RawMessage) (any, error)
	derive func(ctx context.Context, app any, md domain.Metadata) (any, error)
	invoke func(ctx context.Context, c any, p any) (json.RawMessage, error)
	open   func(ctx context.Context, c any, p any) (iter.Seq2[json.RawMessage, error], error)

	err error
}

// Name returns the operation name, unique within its namespace.
func (d *Descriptor) Name() string { return d.name }

// Kind returns Query, Mutation or Subscription.
func (d *Descriptor) Kind() domain.Kind { return d.kind }

// Doc returns the operation description.
func (d *Descriptor) Doc() string { return d.doc }

// Params returns a copy of the ordered parameter list.
func (d *Descriptor) Params() []Param {
	out := make([]Param, len(d.params))
	copy(out, d.params)
	return out
}

// Returns is the result type, or the item type of a subscription.
func (d *Descriptor) Returns() *schema.Type { return d.returns }

// AppType is the application context type the derivation expects.
func (d *Descriptor) AppType() reflect.Type { return d.appType }

// ContextName names the handler's derived context type.
func (d *Descriptor) ContextName() string { return d.contextName }

// Err reports a construction failure. Routers refuse descriptors with errors.
func (d *Descriptor) Err() error { return d.err }

// Signature renders the operation as Kind<[name: Type, ...], Result>.
func (d *Descriptor) Signature() string {
	var b strings.Builder
	b.WriteString(d.kind.String())
	b.WriteString("<[")
	for i, p := range d.params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if p.Optional {
			b.WriteString("?")
		}
		b.WriteString(": ")
		b.WriteString(p.Type.String())
	}
	b.WriteString("], ")
	b.WriteString(d.returns.String())
	b.WriteString(">")
	return b.String()
}

// Decode validates and binds raw params. Failures are InvalidParams errors and
// carry every field problem found.
func (d *Descriptor) Decode(raw json.RawMessage) (any, *domain.RpcError) {
	if err := validateParams(d.params, raw); err != nil {
		return nil, paramsError(err)
	}
	p, err := d.decode(raw)
	if err != nil {
		return nil, paramsError(err)
	}
	return p, nil
}

// Derive runs the context derivation for one call.
func (d *Descriptor) Derive(ctx context.Context, app any, md domain.Metadata) (any, error) {
	return d.derive(ctx, app, md)
}

// Invoke runs a Query or Mutation and encodes its result.
func (d *Descriptor) Invoke(ctx context.Context, c any, p any) (json.RawMessage, error) {
	if d.invoke == nil {
		return nil, domain.MethodNotFound()
	}
	return d.invoke(ctx, c, p)
}

// Open starts a Subscription, returning its lazily encoded item sequence.
func (d *Descriptor) Open(ctx context.Context, c any, p any) (iter.Seq2[json.RawMessage, error], error) {
	if d.open == nil {
		return nil, domain.MethodNotFound()
	}
	return d.open(ctx, c, p)
}
