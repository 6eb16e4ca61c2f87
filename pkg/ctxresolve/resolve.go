// Package ctxresolve derives the per-call context a handler receives from the
// shared application context and the transport metadata of the call.
//
// Derivations compose: Chain builds a context from another derived context, and
// every chain bottoms out at Identity, where the handler context is the
// application context itself. A derivation runs on every call and is never
// cached, since its result may depend on per-call headers.
package ctxresolve

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/tendril/pkg/domain"
)

// Func derives a handler context C from the application context A.
type Func[A, C any] func(ctx context.Context, app A, md domain.Metadata) (C, error)

// Identity passes the application context through unchanged.
func Identity[A any]() Func[A, A] {
	return func(_ context.Context, app A, _ domain.Metadata) (A, error) {
		return app, nil
	}
}

// Chain derives C from the B produced by first. The first failure short-circuits.
func Chain[A, B, C any](first Func[A, B], next Func[B, C]) Func[A, C] {
	return func(ctx context.Context, app A, md domain.Metadata) (C, error) {
		mid, err := first(ctx, app, md)
		if err != nil {
			var zero C
			return zero, err
		}
		return next(ctx, mid, md)
	}
}

// Map derives C from A with a function that cannot fail.
func Map[A, C any](fn func(A) C) Func[A, C] {
	return func(_ context.Context, app A, _ domain.Metadata) (C, error) {
		return fn(app), nil
	}
}

// Resolve runs fn and normalises any failure into a structured RpcError.
// RpcErrors pass through; other errors become CodeContextDerivation.
func Resolve[A, C any](ctx context.Context, fn Func[A, C], app A, md domain.Metadata) (C, *domain.RpcError) {
	c, err := fn(ctx, app, md)
	if err != nil {
		var zero C
		return zero, AsError(err)
	}
	return c, nil
}

// AsError converts a derivation failure into its wire form.
func AsError(err error) *domain.RpcError {
	if rpcErr, ok := domain.AsRpcError(err); ok {
		return rpcErr
	}
	return domain.NewError(domain.CodeContextDerivation, fmt.Sprintf("%s: %v", domain.ErrContextDerivation, err), nil)
}

// Name returns a readable name for a context type, used in route listings.
func Name[C any]() string {
	rt := reflect.TypeFor[C]()
	if rt.Kind() == reflect.Pointer {
		return "*" + rt.Elem().String()
	}
	return rt.String()
}
