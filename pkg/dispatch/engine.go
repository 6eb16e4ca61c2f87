package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"runtime/debug"
	"slices"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/aretw0/tendril/pkg/subscription"
	"golang.org/x/sync/semaphore"
)

type role int

const (
	roleCall role = iota
	roleNotif
	roleUnsub
)

type entry struct {
	path string
	// base is the operation path a companion method belongs to.
	base string
	d    *handler.Descriptor
	role role
}

// Engine dispatches calls to the operations of one router.
// It is safe for concurrent use once constructed.
type Engine struct {
	router  *router.Router
	app     any
	methods map[string]entry

	subs    *subscription.Manager
	logger  *slog.Logger
	metrics *observability.Metrics
	sem     *semaphore.Weighted

	maxInFlight      int
	batchLimit       int
	batchConcurrency int
}

// New builds the method index of r. Every descriptor must accept app as its
// application context.
func New(r *router.Router, app any, opts ...Option) (*Engine, error) {
	e := &Engine{
		router:           r,
		app:              app,
		methods:          make(map[string]entry, r.Len()),
		logger:           logging.NewNop(),
		batchLimit:       defaultBatchLimit,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.subs == nil {
		e.subs = subscription.NewManager(subscription.WithLogger(e.logger), subscription.WithMetrics(e.metrics))
	}
	if e.maxInFlight > 0 {
		e.sem = semaphore.NewWeighted(int64(e.maxInFlight))
	}

	for path, d := range r.Iterate() {
		if !acceptsApp(app, d.AppType()) {
			return nil, fmt.Errorf("%w: %s wants %s, got %T", domain.ErrContextMismatch, path, d.AppType(), app)
		}
		if err := e.index(entry{path: path, base: path, d: d, role: roleCall}); err != nil {
			return nil, err
		}
		if d.Kind() != domain.KindSubscription {
			continue
		}
		if err := e.index(entry{path: path + subscription.NotifSuffix, base: path, d: d, role: roleNotif}); err != nil {
			return nil, err
		}
		if err := e.index(entry{path: path + subscription.UnsubSuffix, base: path, d: d, role: roleUnsub}); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) index(en entry) error {
	if _, taken := e.methods[en.path]; taken {
		return fmt.Errorf("%w: method %s", domain.ErrDuplicateRoute, en.path)
	}
	e.methods[en.path] = en
	return nil
}

func acceptsApp(app any, want reflect.Type) bool {
	if want == nil {
		return true
	}
	if app == nil {
		return want.Kind() == reflect.Interface
	}
	return reflect.TypeOf(app).AssignableTo(want)
}

// Subscriptions returns the manager that owns this engine's streams.
func (e *Engine) Subscriptions() *subscription.Manager { return e.subs }

// Router returns the router the engine was built from.
func (e *Engine) Router() *router.Router { return e.router }

// Methods lists every callable method name, companions included, in lexical order.
func (e *Engine) Methods() []string {
	names := make([]string, 0, len(e.methods))
	for name := range e.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the operation served at path. Companion methods are not operations.
func (e *Engine) Lookup(path string) (*handler.Descriptor, bool) {
	en, ok := e.methods[path]
	if !ok || en.role != roleCall {
		return nil, false
	}
	return en.d, true
}

// Shutdown closes every live subscription.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.subs.Shutdown(ctx)
}

// Call runs one Query or Mutation, or a subscription's unsubscribe companion.
func (e *Engine) Call(ctx context.Context, method string, params json.RawMessage, md domain.Metadata) (json.RawMessage, *domain.RpcError) {
	en, ok := e.methods[method]
	if !ok {
		return nil, domain.MethodNotFound()
	}
	switch en.role {
	case roleNotif:
		return nil, domain.MethodNotFound()
	case roleUnsub:
		return e.unsubscribe(en, params)
	}
	d := en.d
	if d.Kind() == domain.KindSubscription || !md.Kind.Allows(d.Kind()) {
		return nil, domain.MethodNotFound()
	}

	start := time.Now()
	result, rpcErr := e.call(ctx, en, params, md)
	outcome := observability.OutcomeOK
	if rpcErr != nil {
		outcome = observability.OutcomeError
	}
	elapsed := time.Since(start)
	e.metrics.ObserveCall(method, d.Kind().String(), outcome, elapsed)
	e.logger.Debug("call", "method", method, "duration", elapsed, "outcome", outcome)
	return result, rpcErr
}

func (e *Engine) call(ctx context.Context, en entry, params json.RawMessage, md domain.Metadata) (result json.RawMessage, rpcErr *domain.RpcError) {
	defer e.recoverCall(en.path, &rpcErr)
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, domain.NewError(domain.CodeInternal, "request cancelled", nil)
		}
		defer e.sem.Release(1)
	}

	p, rpcErr := en.d.Decode(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	c, err := en.d.Derive(ctx, e.app, md)
	if err != nil {
		return nil, ctxresolve.AsError(err)
	}

	raw, err := en.d.Invoke(ctx, c, p)
	if err != nil {
		return nil, e.handlerError(en.path, err)
	}
	return raw, nil
}

// Subscribe opens a subscription for transports that carry no call envelope.
// A non-nil subscription must be Run even when an error is returned: it
// delivers the close notice of a rejection.
func (e *Engine) Subscribe(ctx context.Context, method string, params json.RawMessage, md domain.Metadata, sink ports.Sink) (*subscription.Subscription, *domain.RpcError) {
	en, ok := e.methods[method]
	if !ok || en.role != roleCall || en.d.Kind() != domain.KindSubscription || !md.Kind.Allows(en.d.Kind()) {
		return nil, domain.MethodNotFound()
	}

	p, rpcErr := en.d.Decode(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sub := e.subs.Open(ctx, subscription.Request{Method: method, Client: md.ClientKey(), Sink: sink})
	if rpcErr := sub.Err(); rpcErr != nil {
		return sub, rpcErr
	}

	c, err := en.d.Derive(ctx, e.app, md)
	if err != nil {
		rpcErr := ctxresolve.AsError(err)
		_ = sub.Reject(rpcErr)
		return sub, rpcErr
	}

	seq, rpcErr := e.open(sub, en, c, p)
	if rpcErr != nil {
		_ = sub.Reject(rpcErr)
		return sub, rpcErr
	}
	if err := sub.Accept(seq); err != nil {
		rpcErr := e.handlerError(method, err)
		_ = sub.Reject(rpcErr)
		return sub, rpcErr
	}
	e.logger.Debug("subscribed", "method", method, "subscription", sub.ID())
	return sub, nil
}

func (e *Engine) open(sub *subscription.Subscription, en entry, c, p any) (seq iter.Seq2[json.RawMessage, error], rpcErr *domain.RpcError) {
	defer e.recoverCall(en.path, &rpcErr)
	seq, err := en.d.Open(sub.Context(), c, p)
	if err != nil {
		return nil, e.handlerError(en.path, err)
	}
	return seq, nil
}

func (e *Engine) unsubscribe(en entry, params json.RawMessage) (json.RawMessage, *domain.RpcError) {
	var id string
	var positional []string
	if err := json.Unmarshal(params, &positional); err == nil && len(positional) == 1 {
		id = positional[0]
	} else {
		var named struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(params, &named); err != nil || named.ID == "" {
			return nil, domain.InvalidParams(fmt.Errorf("expected [subscription id]"))
		}
		id = named.ID
	}

	ok := false
	if sub, found := e.subs.Get(id); found && sub.Method() == en.base {
		ok = e.subs.Unsubscribe(id)
	}
	if ok {
		return json.RawMessage("true"), nil
	}
	return json.RawMessage("false"), nil
}

// handlerError forwards structured errors and hides everything else.
func (e *Engine) handlerError(method string, err error) *domain.RpcError {
	if rpcErr, ok := domain.AsRpcError(err); ok {
		return rpcErr
	}
	e.logger.Error("handler failed", "method", method, "error", err)
	return domain.Internal()
}

func (e *Engine) recoverCall(method string, rpcErr **domain.RpcError) {
	if r := recover(); r != nil {
		e.logger.Error("handler panicked", "method", method, "panic", r, "stack", string(debug.Stack()))
		*rpcErr = domain.Internal()
	}
}
