package tendril

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/file"
	httpadapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/mcp"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/adapters/ws"
	"github.com/aretw0/tendril/pkg/codegen"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/aretw0/tendril/pkg/subscription"
	"github.com/prometheus/client_golang/prometheus"
)

// Artefact names used by Publish.
const (
	TypeScriptArtifact = "client.ts"
	OpenAPIArtifact    = "openapi.json"
)

// Config is the server configuration.
type Config = config.Config

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML or TOML file, overlays TENDRIL_* variables and
// validates the result. An empty path loads defaults and the environment.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Server is the high-level entry point. It wires one router into an engine
// and exposes it over every transport.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	engine   *dispatch.Engine
	manifest *codegen.Manifest
	store    ports.ManifestStore
	ws       *ws.Handler
	handler  http.Handler
}

// Option defines a functional option for configuring the Server.
type Option func(*Server)

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Server) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore persists manifests somewhere other than the configured store.
func WithStore(store ports.ManifestStore) Option {
	return func(s *Server) { s.store = store }
}

// WithRegistry collects metrics into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New builds the engine, generates the manifest and assembles the transports.
// Registration problems surface here and nowhere later.
func New(r *router.Router, app any, opts ...Option) (*Server, error) {
	s := &Server{cfg: config.Default(), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = observability.NewMetrics(s.registry)

	cfg := s.cfg
	subs := subscription.NewManager(
		subscription.WithCapacity(cfg.Subscriptions.Capacity),
		subscription.WithMaxPerClient(cfg.Subscriptions.MaxPerClient),
		subscription.WithMaxGlobal(cfg.Subscriptions.MaxGlobal),
		subscription.WithLogger(s.logger),
		subscription.WithMetrics(s.metrics),
	)
	engine, err := dispatch.New(r, app,
		dispatch.WithLogger(s.logger),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithMaxInFlight(cfg.Dispatch.MaxInFlight),
		dispatch.WithBatchLimit(cfg.Dispatch.BatchLimit),
		dispatch.WithBatchConcurrency(cfg.Dispatch.BatchConcurrency),
		dispatch.WithSubscriptions(subs),
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	s.engine = engine

	s.manifest, err = codegen.Generate(r,
		codegen.WithRoot(cfg.Manifest.Root),
		codegen.WithClientPackage(cfg.Manifest.ClientPackage),
		codegen.WithInfo("tendril", Version),
	)
	if err != nil {
		return nil, fmt.Errorf("generate manifest: %w", err)
	}

	if s.store == nil {
		if s.store, err = OpenStore(cfg.Manifest); err != nil {
			return nil, err
		}
	}

	s.ws = ws.NewHandler(engine,
		ws.WithLogger(s.logger),
		ws.WithMetrics(s.metrics),
		ws.WithPool(cfg.WS.Workers, cfg.WS.QueueSize),
		ws.WithReadLimit(cfg.WS.ReadLimit),
		ws.WithPongWait(cfg.WS.PongWait),
	)
	s.handler = httpadapter.NewHandler(engine,
		httpadapter.WithLogger(s.logger),
		httpadapter.WithManifest(s.manifest),
		httpadapter.WithRateLimit(cfg.HTTP.RateLimit.RPS, cfg.HTTP.RateLimit.Burst),
		httpadapter.WithGatherer(s.registry),
		httpadapter.WithWebSocket(s.ws),
		httpadapter.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	return s, nil
}

// OpenStore builds the manifest store a configuration names.
func OpenStore(cfg config.ManifestConfig) (ports.ManifestStore, error) {
	switch cfg.Store {
	case "", config.StoreMemory:
		return memory.NewStore(), nil
	case config.StoreFile:
		st, err := file.New(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open manifest dir: %w", err)
		}
		return st, nil
	case config.StoreRedis:
		return redis.New(cfg.RedisAddr, redis.WithPrefix(cfg.Prefix), redis.WithTTL(cfg.TTL)), nil
	}
	return nil, fmt.Errorf("%w: unknown manifest store %q", config.ErrInvalid, cfg.Store)
}

// Config returns the configuration in use.
func (s *Server) Config() *Config { return s.cfg }

// Engine returns the dispatch engine.
func (s *Server) Engine() *dispatch.Engine { return s.engine }

// Manifest returns the generated bindings.
func (s *Server) Manifest() *codegen.Manifest { return s.manifest }

// Store returns the manifest store.
func (s *Server) Store() ports.ManifestStore { return s.store }

// Handler returns the HTTP surface: /rpc, /ws, /manifest.ts, /openapi.json,
// /healthz and /metrics.
func (s *Server) Handler() http.Handler { return s.handler }

// MCP exposes the queries and mutations as Model Context Protocol tools.
func (s *Server) MCP() *mcp.Server {
	return mcp.NewServer(s.engine,
		mcp.WithManifest(s.manifest),
		mcp.WithImplementation("tendril", Version),
		mcp.WithLogger(s.logger),
	)
}

// Publish saves the TypeScript bindings and the OpenAPI document to the store.
func (s *Server) Publish(ctx context.Context) error {
	if err := s.store.Save(ctx, TypeScriptArtifact, s.manifest.TypeScript()); err != nil {
		return fmt.Errorf("save %s: %w", TypeScriptArtifact, err)
	}
	doc, err := s.manifest.OpenAPIJSON()
	if err != nil {
		return fmt.Errorf("build openapi document: %w", err)
	}
	if err := s.store.Save(ctx, OpenAPIArtifact, doc); err != nil {
		return fmt.Errorf("save %s: %w", OpenAPIArtifact, err)
	}
	s.logger.Info("manifest published", "store", s.cfg.Manifest.Store, "operations", len(s.engine.Methods()))
	return nil
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully: subscriptions first, then sockets, then HTTP.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.ws.Start(ctx); err != nil {
		return fmt.Errorf("start websocket workers: %w", err)
	}

	cfg := s.cfg.HTTP
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("tendril listening", "addr", srv.Addr, "operations", len(s.engine.Methods()))
		serverErrors <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		s.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err := errors.Join(
		serveErr,
		s.engine.Shutdown(shutdownCtx),
		s.ws.Close(cfg.ShutdownTimeout),
		srv.Shutdown(shutdownCtx),
	)
	if err != nil {
		return err
	}
	s.logger.Info("tendril stopped gracefully")
	return nil
}
