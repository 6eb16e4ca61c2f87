// Package ws carries JSON-RPC frames over WebSocket connections.
//
// Each text message holds one request or batch. Frames from every connection
// are processed by a shared worker pool, so responses on one connection may
// arrive out of order; clients correlate them by id.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/worker"
	"github.com/gorilla/websocket"
)

// Defaults for connection housekeeping.
const (
	DefaultReadLimit = 1 << 20
	DefaultWriteWait = 10 * time.Second
	DefaultPongWait  = 60 * time.Second
)

// Handler upgrades HTTP requests and serves them as JSON-RPC connections.
type Handler struct {
	engine   *dispatch.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *observability.Metrics
	pool     *worker.Pool[frame]

	workers   int
	queueSize int
	readLimit int64
	writeWait time.Duration
	pongWait  time.Duration

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type frame struct {
	c    *conn
	data []byte
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics reports the frame pool.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithPool sizes the frame worker pool.
func WithPool(workers, queueSize int) Option {
	return func(h *Handler) {
		h.workers = workers
		h.queueSize = queueSize
	}
}

// WithReadLimit caps the size of one inbound message.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithPongWait sets how long a silent peer is kept. Pings go out at 9/10 of it.
func WithPongWait(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// NewHandler creates a socket handler. Start must be called before serving.
func NewHandler(engine *dispatch.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:    logging.NewNop(),
		readLimit: DefaultReadLimit,
		writeWait: DefaultWriteWait,
		pongWait:  DefaultPongWait,
		conns:     make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pool = worker.NewPool(h.workers, h.queueSize, h.process,
		worker.WithMetrics[frame](h.metrics, "ws_frames"),
		worker.WithLogger[frame](h.logger),
	)
	return h
}

// Start launches the frame workers.
func (h *Handler) Start(ctx context.Context) error {
	return h.pool.Start(ctx)
}

// Close disconnects every peer and drains the frame pool.
func (h *Handler) Close(timeout time.Duration) error {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
	return h.pool.Stop(timeout)
}

// Len returns the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Stats exposes the frame pool counters.
func (h *Handler) Stats() worker.Stats {
	return h.pool.Stats()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(h, ws, domain.Metadata{
		Transport:  domain.TransportWS,
		Kind:       domain.RequestAny,
		Header:     r.Header.Clone(),
		RemoteAddr: remoteHost(r),
	})
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}()

	go c.pingLoop()
	c.readLoop()
}

func (h *Handler) process(_ context.Context, f frame) error {
	c := f.c
	md := c.md
	md.Header = c.md.Header.Clone()

	reply := h.engine.Serve(c.ctx, f.data, md, c)
	if reply.Body != nil {
		if err := c.write(reply.Body); err != nil {
			return err
		}
	}
	reply.Start(c.ctx)
	return nil
}

func (h *Handler) submit(c *conn, data []byte) {
	err := h.pool.Submit(frame{c: c, data: data})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrQueueFull):
		busy := domain.Failure(nil, domain.NewError(domain.CodeTooManyRequests, "server busy", nil))
		if raw, encErr := encode(busy); encErr == nil {
			_ = c.write(raw)
		}
	default:
		h.logger.Warn("websocket frame refused", "error", err)
		c.shutdown(websocket.CloseTryAgainLater, "not accepting frames")
	}
}

func remoteHost(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
