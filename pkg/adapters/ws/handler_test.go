package ws_test

import (
	"context"
	"encoding/json"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/ws"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type app struct{}

type echoParams struct {
	Text string `json:"text"`
}

type countParams struct {
	Limit *int `json:"limit"`
}

func newServer(t *testing.T, opts ...ws.Option) (*ws.Handler, *dispatch.Engine, string) {
	t.Helper()
	self := ctxresolve.Identity[*app]()
	r := router.New()
	require.NoError(t, r.Handle(handler.Query("echo", self, func(_ context.Context, _ *app, p echoParams) (string, error) {
		return p.Text, nil
	})))
	require.NoError(t, r.Handle(handler.Subscription("count", self, func(ctx context.Context, _ *app, p countParams) (iter.Seq2[int, error], error) {
		return func(yield func(int, error) bool) {
			for i := 0; p.Limit == nil || i < *p.Limit; i++ {
				if p.Limit == nil {
					select {
					case <-ctx.Done():
						return
					case <-time.After(5 * time.Millisecond):
					}
				}
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})))
	e, err := dispatch.New(r, &app{})
	require.NoError(t, err)

	h := ws.NewHandler(e, opts...)
	require.NoError(t, h.Start(context.Background()))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close(time.Second)
		srv.Close()
	})
	return h, e, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHandler_Call(t *testing.T) {
	_, _, url := newServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"echo","params":["hi"]}`)))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"hi"}`, read(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`nope`)))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, read(t, conn))
}

func TestHandler_Subscription(t *testing.T) {
	_, _, url := newServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":"a","method":"count","params":{"limit":2}}`)))

	var resp domain.Response
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &resp))
	require.Nil(t, resp.Error)
	var id string
	require.NoError(t, json.Unmarshal(resp.Result, &id))

	for i, want := range []string{"0", "1"} {
		var n domain.Notification
		require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &n))
		assert.Equal(t, "count_notif", n.Method)
		var msg domain.SubscriptionMessage
		require.NoError(t, json.Unmarshal(n.Params, &msg))
		assert.Equal(t, id, msg.Subscription)
		assert.Equal(t, want, string(msg.Result), "item %d", i)
	}

	var closing domain.Notification
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &closing))
	assert.JSONEq(t, `{"subscription":"`+id+`","result":{"close_stream":"`+id+`","count":2}}`, string(closing.Params))
}

func TestHandler_UnsubscribeAndDisconnect(t *testing.T) {
	h, e, url := newServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"count"}`)))
	var resp domain.Response
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &resp))
	var id string
	require.NoError(t, json.Unmarshal(resp.Result, &id))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":2,"method":"count_unsub","params":["`+id+`"]}`)))
	sawAck, sawClose := false, false
	for !sawAck || !sawClose {
		msg := read(t, conn)
		switch {
		case strings.Contains(msg, `"id":2`):
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":true}`, msg)
			sawAck = true
		case strings.Contains(msg, `close_stream`):
			sawClose = true
		}
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":3,"method":"count"}`)))
	read(t, conn)
	assert.Eventually(t, func() bool { return e.Subscriptions().Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return e.Subscriptions().Len() == 0 }, 2*time.Second, 10*time.Millisecond,
		"disconnect ends every subscription of the connection")
	assert.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, h.Stats().Processed, int64(3))
}

func TestHandler_ReadLimit(t *testing.T) {
	h, _, url := newServer(t, ws.WithReadLimit(32))
	conn := dial(t, url)

	big := `{"jsonrpc":"2.0","id":1,"method":"echo","params":["` + strings.Repeat("x", 64) + `"]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "oversized frames close the connection")
	assert.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
