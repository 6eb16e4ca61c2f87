package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/aretw0/tendril/pkg/codec"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// Separator joins namespace segments. Operation names may not contain it.
const Separator = "."

// Void is the result of operations that return nothing. It encodes as null.
type Void struct{}

func (Void) SchemaType() *schema.Type { return schema.Null() }

func (Void) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// NoParams is the params type of operations without parameters.
type NoParams struct{}

// Option configures a descriptor under construction.
type Option func(*config)

type config struct {
	doc   string
	codec codec.Codec
}

// Describe attaches a description carried into generated artefacts.
func Describe(doc string) Option {
	return func(c *config) {
		c.doc = doc
	}
}

// WithCodec overrides the codec used to bind params and encode results.
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// Query describes a side-effect-free request/response operation.
func Query[A, C, P, R any](name string, derive ctxresolve.Func[A, C], fn func(ctx context.Context, c C, p P) (R, error), opts ...Option) *Descriptor {
	return unary(domain.KindQuery, name, derive, fn, opts)
}

// Mutation describes a side-effect-ful request/response operation.
func Mutation[A, C, P, R any](name string, derive ctxresolve.Func[A, C], fn func(ctx context.Context, c C, p P) (R, error), opts ...Option) *Descriptor {
	return unary(domain.KindMutation, name, derive, fn, opts)
}

// Subscription describes a streaming operation. The sequence is pulled lazily
// and may be infinite; it must return once yield reports false or ctx is done.
// A non-nil error element ends the stream with that error.
func Subscription[A, C, P, T any](name string, derive ctxresolve.Func[A, C], fn func(ctx context.Context, c C, p P) (iter.Seq2[T, error], error), opts ...Option) *Descriptor {
	cfg := newConfig(opts)
	d := base[A, C, P](domain.KindSubscription, name, derive, cfg)
	d.returns = schema.Of[T]()
	d.open = func(ctx context.Context, c any, p any) (iter.Seq2[json.RawMessage, error], error) {
		hc, _ := c.(C)
		seq, err := fn(ctx, hc, p.(P))
		if err != nil {
			return nil, err
		}
		if seq == nil {
			return nil, fmt.Errorf("subscription %s: handler returned a nil sequence", name)
		}
		return func(yield func(json.RawMessage, error) bool) {
			for item, err := range seq {
				if err != nil {
					yield(nil, err)
					return
				}
				raw, encErr := cfg.codec.Marshal(item)
				if encErr != nil {
					yield(nil, fmt.Errorf("encode item: %w", encErr))
					return
				}
				if !yield(raw, nil) {
					return
				}
			}
		}, nil
	}
	return d
}

func unary[A, C, P, R any](kind domain.Kind, name string, derive ctxresolve.Func[A, C], fn func(ctx context.Context, c C, p P) (R, error), opts []Option) *Descriptor {
	cfg := newConfig(opts)
	d := base[A, C, P](kind, name, derive, cfg)
	d.returns = schema.Of[R]()
	d.invoke = func(ctx context.Context, c any, p any) (json.RawMessage, error) {
		hc, _ := c.(C)
		result, err := fn(ctx, hc, p.(P))
		if err != nil {
			return nil, err
		}
		raw, err := cfg.codec.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return raw, nil
	}
	return d
}

func newConfig(opts []Option) *config {
	cfg := &config{codec: codec.JSON}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func base[A, C, P any](kind domain.Kind, name string, derive ctxresolve.Func[A, C], cfg *config) *Descriptor {
	d := &Descriptor{
		name:        name,
		kind:        kind,
		doc:         cfg.doc,
		appType:     reflect.TypeFor[A](),
		contextName: ctxresolve.Name[C](),
	}

	switch {
	case name == "":
		d.err = fmt.Errorf("%w: empty operation name", domain.ErrInvalidSegment)
	case strings.Contains(name, Separator):
		d.err = fmt.Errorf("%w: operation name %q contains %q", domain.ErrInvalidSegment, name, Separator)
	case derive == nil:
		d.err = fmt.Errorf("%w: %s has no context derivation", domain.ErrInvalidDescriptor, name)
	}

	params, ok := schema.FieldsOf(reflect.TypeFor[P]())
	if !ok && d.err == nil {
		d.err = fmt.Errorf("%w: %s params must be a struct, got %s", domain.ErrInvalidDescriptor, name, reflect.TypeFor[P]())
	}
	d.params = params

	d.decode = func(raw json.RawMessage) (any, error) {
		var p P
		if err := codec.DecodeParams(cfg.codec, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	d.derive = func(ctx context.Context, app any, md domain.Metadata) (any, error) {
		a, ok := app.(A)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants %s, got %T", domain.ErrContextMismatch, name, d.appType, app)
		}
		return derive(ctx, a, md)
	}
	return d
}

func validateParams(params []Param, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return schema.ValidatePositional(params, nil)
	}

	switch trimmed[0] {
	case '[':
		var items []any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		return schema.ValidatePositional(params, items)
	case '{':
		var named map[string]any
		if err := json.Unmarshal(trimmed, &named); err != nil {
			return err
		}
		return schema.ValidateFields(params, named)
	default:
		return codec.ErrParamsShape
	}
}

func paramsError(err error) *domain.RpcError {
	if errs := schema.ValidationErrors(err); len(errs) > 0 {
		reasons := make([]string, len(errs))
		for i, e := range errs {
			reasons[i] = e.Error()
		}
		return domain.NewError(domain.CodeInvalidParams, "invalid params", reasons)
	}
	return domain.InvalidParams(err)
}
