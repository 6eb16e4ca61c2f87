package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aretw0/tendril/pkg/codec"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// ErrSinkClosed is returned by Send once the response is gone.
var ErrSinkClosed = errors.New("http: response closed")

// SSE event names.
const (
	EventSubscribed   = "subscribed"
	EventNotification = "notification"
	EventClose        = "close"
	EventError        = "error"
)

// responseSink writes notifications to a live response. Writes are serialised
// because batched subscriptions share the response.
type responseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	sse     bool
	done    chan struct{}
	stop    func() bool
}

func newSink(ctx context.Context, w http.ResponseWriter, sse bool) *responseSink {
	flusher, _ := w.(http.Flusher)
	s := &responseSink{w: w, flusher: flusher, sse: sse, done: make(chan struct{})}
	s.stop = context.AfterFunc(ctx, func() { close(s.done) })
	return s
}

func newLineSink(ctx context.Context, w http.ResponseWriter) *responseSink {
	return newSink(ctx, w, false)
}

func newEventSink(ctx context.Context, w http.ResponseWriter) *responseSink {
	return newSink(ctx, w, true)
}

func (s *responseSink) Done() <-chan struct{} { return s.done }

func (s *responseSink) Send(ctx context.Context, n domain.Notification) error {
	raw, err := codec.JSON.Marshal(n)
	if err != nil {
		return err
	}
	if !s.sse {
		return s.writeLine(raw)
	}
	event := EventNotification
	if isCloseNotice(n) {
		event = EventClose
	}
	return s.event(event, raw)
}

func (s *responseSink) writeLine(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.alive(); err != nil {
		return err
	}
	if _, err := s.w.Write(append(raw, '\n')); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *responseSink) event(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.alive(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *responseSink) alive() error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
		return nil
	}
}

func (s *responseSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// isCloseNotice reports whether n carries the close notice of its
// subscription rather than an item.
func isCloseNotice(n domain.Notification) bool {
	var msg domain.SubscriptionMessage
	if err := codec.JSON.Unmarshal(n.Params, &msg); err != nil {
		return false
	}
	var notice struct {
		CloseStream *string `json:"close_stream"`
	}
	if err := codec.JSON.Unmarshal(msg.Result, &notice); err != nil {
		return false
	}
	return notice.CloseStream != nil
}

// SubscribeEvents handles GET /rpc/{method}/events?input=<json> as a
// Server-Sent Events stream. The first event is either "subscribed" carrying
// the id or "error" carrying the rejection; "notification" events follow and
// a single "close" event ends the stream.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	params, rpcErr := inputParams(r)
	if rpcErr != nil {
		s.writeFailure(w, rpcErr)
		return
	}

	method := chi.URLParam(r, "method")
	sink := newEventSink(r.Context(), w)
	defer sink.stop()

	md := s.metadata(r, domain.RequestAny)
	md.Transport = domain.TransportSSE
	sub, rpcErr := s.engine.Subscribe(r.Context(), method, params, md, sink)
	if sub == nil {
		s.writeFailure(w, rpcErr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var first error
	if rpcErr != nil {
		raw, _ := codec.JSON.Marshal(rpcErr)
		first = sink.event(EventError, raw)
	} else {
		raw, _ := codec.JSON.Marshal(map[string]string{"subscription": sub.ID()})
		first = sink.event(EventSubscribed, raw)
	}
	if first != nil {
		s.logger.Warn("sse write failed", "method", method, "error", first)
	}
	sub.Run(r.Context())
}
