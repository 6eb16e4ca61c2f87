package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/codec"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the peer disconnected.
var ErrClosed = errors.New("ws: connection closed")

// conn is one peer. It is the sink of every subscription it opens; gorilla
// connections allow a single concurrent writer, so writes hold writeMu.
type conn struct {
	h  *Handler
	ws *websocket.Conn
	md domain.Metadata

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *Handler, ws *websocket.Conn, md domain.Metadata) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{h: h, ws: ws, md: md, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (c *conn) Send(_ context.Context, n domain.Notification) error {
	raw, err := encode(n)
	if err != nil {
		return err
	}
	return c.write(raw)
}

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.close()
		return err
	}
	return nil
}

func (c *conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(c.h.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.h.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.h.pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.h.pongWait))
		c.h.submit(c, data)
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.h.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.h.writeWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		}
	}
}

// shutdown sends a close frame before tearing the connection down.
func (c *conn) shutdown(code int, reason string) {
	deadline := time.Now().Add(c.h.writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.ws.Close()
	})
}

func encode(v any) ([]byte, error) {
	return codec.JSON.Marshal(v)
}
