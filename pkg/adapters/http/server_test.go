package http

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/codegen"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type app struct{}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type idParams struct {
	ID string `json:"id"`
}

type nameParams struct {
	Name string `json:"name"`
}

type tickParams struct {
	Limit int `json:"limit"`
}

func testRouter(t *testing.T) *router.Router {
	t.Helper()
	self := ctxresolve.Identity[*app]()
	r := router.New()
	require.NoError(t, r.Handle(handler.Query("get", self, func(_ context.Context, _ *app, p idParams) (user, error) {
		return user{ID: p.ID, Name: "ada"}, nil
	})))
	require.NoError(t, r.Handle(handler.Mutation("create", self, func(_ context.Context, _ *app, p nameParams) (user, error) {
		return user{ID: "2", Name: p.Name}, nil
	})))
	require.NoError(t, r.Handle(handler.Subscription("ticks", self, func(_ context.Context, _ *app, p tickParams) (iter.Seq2[int, error], error) {
		return func(yield func(int, error) bool) {
			for i := range p.Limit {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})))
	return r
}

func newTestHandler(t *testing.T, opts ...Option) (http.Handler, *dispatch.Engine) {
	t.Helper()
	r := testRouter(t)
	e, err := dispatch.New(r, &app{})
	require.NoError(t, err)
	m, err := codegen.Generate(r)
	require.NoError(t, err)
	return NewHandler(e, append([]Option{WithManifest(m)}, opts...)...), e
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) domain.Response {
	t.Helper()
	var resp domain.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestServeRPC_Single(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(h, "POST", "/rpc/", `{"jsonrpc":"2.0","id":1,"method":"get","params":["7"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"id":"7","name":"ada"}}`, w.Body.String())

	w = do(h, "POST", "/rpc/", `{"jsonrpc":"2.0","method":"create","params":["bob"]}`)
	assert.Equal(t, http.StatusNoContent, w.Code, "notifications get no body")

	w = do(h, "POST", "/rpc/", `{"jsonrpc":`)
	assert.Equal(t, domain.CodeParseError, decode(t, w).Error.Code)
}

func TestQuery_GetOnlyReachesQueries(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(h, "GET", "/rpc/get?input="+url.QueryEscape(`{"id":"3"}`), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"result":{"id":"3","name":"ada"}}`, w.Body.String())

	w = do(h, "GET", "/rpc/create?input="+url.QueryEscape(`["bob"]`), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeMethodNotFound, decode(t, w).Error.Code)

	w = do(h, "GET", "/rpc/get?input=%7Bnope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeParseError, decode(t, w).Error.Code)
}

func TestInvoke_Post(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(h, "POST", "/rpc/create", `{"name":"bob"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"result":{"id":"2","name":"bob"}}`, w.Body.String())

	w = do(h, "POST", "/rpc/create", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeInvalidParams, decode(t, w).Error.Code)

	w = do(h, "POST", "/rpc/missing", ``)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeRPC_SubscriptionStreamsLines(t *testing.T) {
	h, e := newTestHandler(t)

	w := do(h, "POST", "/rpc/", `{"jsonrpc":"2.0","id":"s","method":"ticks","params":[2]}`)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	var lines []string
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 4)

	var resp domain.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	var id string
	require.NoError(t, json.Unmarshal(resp.Result, &id))

	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ticks_notif","params":{"subscription":"`+id+`","result":0}}`, lines[1])
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ticks_notif","params":{"subscription":"`+id+`","result":1}}`, lines[2])
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ticks_notif","params":{"subscription":"`+id+`","result":{"close_stream":"`+id+`","count":2}}}`, lines[3])
	assert.Zero(t, e.Subscriptions().Len())
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = v
			}
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = v
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestSubscribeEvents(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(h, "GET", "/rpc/ticks/events?input="+url.QueryEscape(`{"limit":2}`), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := readEvents(t, w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, EventSubscribed, events[0].name)
	var opened struct {
		Subscription string `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &opened))
	require.NotEmpty(t, opened.Subscription)

	assert.Equal(t, EventNotification, events[1].name)
	assert.Equal(t, EventNotification, events[2].name)
	assert.Equal(t, EventClose, events[3].name)
	assert.Contains(t, events[3].data, `"count":2`)
	assert.Contains(t, events[3].data, opened.Subscription)
}

func TestIsCloseNotice(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   bool
	}{
		{"item", `{"subscription":"s1","result":3}`, false},
		{"object item", `{"subscription":"s1","result":{"id":"u1"}}`, false},
		{"close notice", `{"subscription":"s1","result":{"close_stream":"s1","count":2}}`, true},
		{"close notice with error", `{"subscription":"s1","result":{"close_stream":"s1","count":0,"error":{"code":-32603,"message":"internal error"}}}`, true},
		{"bare close notice", `{"close_stream":"s1","count":2}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := domain.NewNotification("ticks_notif", json.RawMessage(tt.params))
			assert.Equal(t, tt.want, isCloseNotice(n))
		})
	}
}

func TestSubscribeEvents_UnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(h, "GET", "/rpc/get/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeMethodNotFound, decode(t, w).Error.Code)
}

func TestSubscribeEvents_ClientGone(t *testing.T) {
	r := router.New()
	require.NoError(t, r.Handle(handler.Subscription("forever", ctxresolve.Identity[*app](), func(ctx context.Context, _ *app, _ handler.NoParams) (iter.Seq2[int, error], error) {
		return func(yield func(int, error) bool) {
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Millisecond):
				}
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})))
	e, err := dispatch.New(r, &app{})
	require.NoError(t, err)
	srv := httptest.NewServer(NewHandler(e))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/rpc/forever/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: subscribed\n", line)
	cancel()

	assert.Eventually(t, func() bool { return e.Subscriptions().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestHandler(t, WithRateLimit(1, 1))

	first := do(h, "POST", "/rpc/create", `["bob"]`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(h, "POST", "/rpc/create", `["bob"]`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, domain.CodeTooManyRequests, decode(t, second).Error.Code)

	health := do(h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, health.Code, "health checks are not limited")
}

func TestRateLimiter_KeysAndSweep(t *testing.T) {
	l := newRateLimiter(1, 1)
	now := time.Now()
	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	assert.True(t, l.allow("b", now), "buckets are per client")

	later := now.Add(2 * limiterIdleTTL)
	for i := 0; i < 510; i++ {
		l.allow("c", later)
	}
	assert.Equal(t, 1, l.size(), "idle buckets are swept")

	var disabled *rateLimiter
	assert.True(t, disabled.allow("x", now))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "token:abc", limitKey(req))
	req.Header.Del("Authorization")
	assert.Equal(t, "ip:192.0.2.1", limitKey(req))
}

func TestMaxBodyBytes(t *testing.T) {
	h, _ := newTestHandler(t, WithMaxBodyBytes(16))

	w := do(h, "POST", "/rpc/", `{"jsonrpc":"2.0","id":1,"method":"get","params":["7"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeInvalidRequest, decode(t, w).Error.Code)
}

func TestArtefactsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	r := testRouter(t)
	e, err := dispatch.New(r, &app{}, dispatch.WithMetrics(metrics))
	require.NoError(t, err)
	m, err := codegen.Generate(r)
	require.NoError(t, err)
	h := NewHandler(e, WithManifest(m), WithGatherer(reg))

	ts := do(h, "GET", "/manifest.ts", "")
	assert.Equal(t, http.StatusOK, ts.Code)
	assert.Contains(t, ts.Body.String(), codegen.Header)
	assert.Contains(t, ts.Body.String(), "get: Query<[id: string], user>")

	doc := do(h, "GET", "/openapi.json", "")
	assert.Equal(t, http.StatusOK, doc.Code)
	assert.Contains(t, doc.Body.String(), `"/rpc/get"`)

	do(h, "GET", "/rpc/get?input=%5B%221%22%5D", "")
	scrape := do(h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), `tendril_calls_total{kind="Query",method="get",outcome="ok"} 1`)

	bare, _ := dispatch.New(r, &app{})
	w := do(NewHandler(bare), "GET", "/manifest.ts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(h, "OPTIONS", "/rpc/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
