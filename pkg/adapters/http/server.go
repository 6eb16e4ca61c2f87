package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/codegen"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Server exposes a dispatch engine over HTTP.
type Server struct {
	engine   *dispatch.Engine
	manifest *codegen.Manifest
	logger   *slog.Logger
	limiter  *rateLimiter
	gatherer prometheus.Gatherer
	ws       http.Handler
	maxBody  int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithManifest serves the generated bindings at /manifest.ts and /openapi.json.
func WithManifest(m *codegen.Manifest) Option {
	return func(s *Server) { s.manifest = m }
}

// WithRateLimit limits every client to rps requests per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = newRateLimiter(rps, burst) }
}

// WithGatherer serves the registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithWebSocket mounts a socket transport at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine *dispatch.Engine, opts ...Option) http.Handler {
	s := &Server{
		engine:  engine,
		logger:  logging.NewNop(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimd.RequestID, chimd.Recoverer, s.accessLog, enableCORS)

	r.Get("/healthz", s.GetHealth)
	r.Get("/manifest.ts", s.GetManifest)
	r.Get("/openapi.json", s.GetOpenAPI)
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, swaggerHTML)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limit)
		if s.ws != nil {
			r.Handle("/ws", s.ws)
		}
		r.Route("/rpc", func(r chi.Router) {
			r.Use(s.limitBody)
			r.Post("/", s.ServeRPC)
			r.Get("/{method}", s.Query)
			r.Post("/{method}", s.Invoke)
			r.Get("/{method}/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"request_id", chimd.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
		)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Tendril API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.json',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles the GET /healthz request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "subscriptions": s.engine.Subscriptions().Len()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// GetManifest handles the GET /manifest.ts request.
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.manifest.WriteTypeScript(w); err != nil {
		s.logger.Error("manifest write failed", "error", err)
	}
}

// GetOpenAPI handles the GET /openapi.json request.
func (s *Server) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil {
		http.NotFound(w, r)
		return
	}
	doc, err := s.manifest.OpenAPIJSON()
	if err != nil {
		http.Error(w, "Failed to build OpenAPI document", http.StatusInternalServerError)
		s.logger.Error("openapi build failed", "error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// ServeRPC handles POST /rpc: one JSON-RPC request or a batch. Subscriptions
// opened by the frame stream their notifications on the same response as
// newline-delimited JSON until they close or the client goes away.
func (s *Server) ServeRPC(w http.ResponseWriter, r *http.Request) {
	frame, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeFailure(w, domain.NewError(domain.CodeInvalidRequest, "request body too large or unreadable", nil))
		return
	}

	sink := newLineSink(r.Context(), w)
	defer sink.stop()
	reply := s.engine.Serve(r.Context(), frame, s.metadata(r, domain.RequestAny), sink)
	if len(reply.Streams) == 0 {
		if reply.Body == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(reply.Body)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	if reply.Body != nil {
		if err := sink.writeLine(reply.Body); err != nil {
			s.logger.Warn("rpc reply write failed", "error", err)
		}
	}
	reply.Start(r.Context())
	for _, sub := range reply.Streams {
		<-sub.Done()
	}
}

// Query handles GET /rpc/{method}?input=<json>. Only queries are reachable.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	params, rpcErr := inputParams(r)
	if rpcErr != nil {
		s.writeFailure(w, rpcErr)
		return
	}
	s.invoke(w, r, params, domain.RequestQuery)
}

// Invoke handles POST /rpc/{method} with the params as the body.
func (s *Server) Invoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeFailure(w, domain.NewError(domain.CodeInvalidRequest, "request body too large or unreadable", nil))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		s.writeFailure(w, domain.ParseError())
		return
	}
	s.invoke(w, r, json.RawMessage(body), domain.RequestAny)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, params json.RawMessage, kind domain.RequestKind) {
	method := chi.URLParam(r, "method")
	result, rpcErr := s.engine.Call(r.Context(), method, params, s.metadata(r, kind))
	if rpcErr != nil {
		s.writeFailure(w, rpcErr)
		return
	}
	writeJSON(w, http.StatusOK, domain.Success(nil, result))
}

func (s *Server) writeFailure(w http.ResponseWriter, rpcErr *domain.RpcError) {
	writeJSON(w, statusFor(rpcErr.Code), domain.Failure(nil, rpcErr))
}

func (s *Server) metadata(r *http.Request, kind domain.RequestKind) domain.Metadata {
	return domain.Metadata{
		Transport:  domain.TransportHTTP,
		Kind:       kind,
		Header:     r.Header.Clone(),
		RemoteAddr: remoteHost(r),
	}
}

func inputParams(r *http.Request) (json.RawMessage, *domain.RpcError) {
	input := r.URL.Query().Get("input")
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(input)) {
		return nil, domain.ParseError()
	}
	return json.RawMessage(input), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps error codes of the method routes onto HTTP statuses.
// POST /rpc always answers 200 as JSON-RPC prescribes.
func statusFor(code int) int {
	switch code {
	case domain.CodeParseError, domain.CodeInvalidRequest, domain.CodeInvalidParams:
		return http.StatusBadRequest
	case domain.CodeMethodNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeContextDerivation:
		return http.StatusForbidden
	case domain.CodeTooManyRequests, domain.CodeTooManySubscriptions:
		return http.StatusTooManyRequests
	case domain.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
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
