package dispatch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aretw0/tendril/pkg/codec"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/subscription"
	"golang.org/x/sync/errgroup"
)

// Reply is the outcome of one inbound frame.
type Reply struct {
	// Body is the encoded response, or nil when the frame held only notifications.
	Body []byte
	// Streams must be started after Body is written, so the subscribe answer
	// always precedes the first notification.
	Streams []*subscription.Subscription
}

// Start runs every stream in its own goroutine.
func (r Reply) Start(ctx context.Context) {
	for _, s := range r.Streams {
		go s.Run(ctx)
	}
}

// Serve handles one JSON-RPC 2.0 frame: a single request or a batch.
// Notifications of subscriptions opened by the frame are delivered to sink.
func (e *Engine) Serve(ctx context.Context, frame []byte, md domain.Metadata, sink ports.Sink) Reply {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Reply{Body: encode(domain.Failure(nil, domain.ParseError()))}
	}
	if trimmed[0] != '[' {
		resp, sub := e.serveOne(ctx, trimmed, md, sink)
		reply := Reply{}
		if resp != nil {
			reply.Body = encode(*resp)
		}
		if sub != nil {
			reply.Streams = []*subscription.Subscription{sub}
		}
		return reply
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil || len(batch) == 0 || len(batch) > e.batchLimit {
		return Reply{Body: encode(domain.Failure(nil, domain.InvalidRequest()))}
	}

	responses := make([]*domain.Response, len(batch))
	streams := make([]*subscription.Subscription, len(batch))
	g := new(errgroup.Group)
	g.SetLimit(e.batchConcurrency)
	for i, raw := range batch {
		g.Go(func() error {
			responses[i], streams[i] = e.serveOne(ctx, raw, md, sink)
			return nil
		})
	}
	_ = g.Wait()

	reply := Reply{}
	out := make([]domain.Response, 0, len(batch))
	for i := range batch {
		if responses[i] != nil {
			out = append(out, *responses[i])
		}
		if streams[i] != nil {
			reply.Streams = append(reply.Streams, streams[i])
		}
	}
	if len(out) > 0 {
		reply.Body = encode(out)
	}
	return reply
}

// serveOne returns a nil response for notifications.
func (e *Engine) serveOne(ctx context.Context, raw json.RawMessage, md domain.Metadata, sink ports.Sink) (*domain.Response, *subscription.Subscription) {
	var req domain.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := domain.Failure(nil, domain.InvalidRequest())
		return &resp, nil
	}
	if !req.Valid() {
		resp := domain.Failure(validID(req.ID), domain.InvalidRequest())
		return &resp, nil
	}

	if en, ok := e.methods[req.Method]; ok && en.role == roleCall && en.d.Kind() == domain.KindSubscription {
		if req.IsNotification() {
			// A subscription id nobody can learn is useless; nothing is opened.
			return nil, nil
		}
		sub, rpcErr := e.Subscribe(ctx, req.Method, req.Params, md, sink)
		var resp domain.Response
		if rpcErr != nil {
			resp = domain.Failure(req.ID, rpcErr)
		} else {
			resp = domain.Success(req.ID, encode(sub.ID()))
		}
		return &resp, sub
	}

	result, rpcErr := e.Call(ctx, req.Method, req.Params, md)
	if req.IsNotification() {
		return nil, nil
	}
	var resp domain.Response
	if rpcErr != nil {
		resp = domain.Failure(req.ID, rpcErr)
	} else {
		resp = domain.Success(req.ID, result)
	}
	return &resp, nil
}

func validID(id json.RawMessage) json.RawMessage {
	if (domain.Request{JSONRPC: domain.Version, Method: "x", ID: id}).Valid() {
		return id
	}
	return nil
}

func encode(v any) []byte {
	b, err := codec.JSON.Marshal(v)
	if err != nil {
		// Every value encoded here is built from already-valid JSON.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}
