package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/codegen"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Resource URIs.
const (
	ManifestURI = "tendril://manifest"
	OpenAPIURI  = "tendril://openapi"
)

// Server exposes every Query and Mutation of an engine as an MCP tool.
type Server struct {
	engine    *dispatch.Engine
	manifest  *codegen.Manifest
	logger    *slog.Logger
	name      string
	version   string
	tools     map[string]string
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithManifest publishes the generated bindings as resources.
func WithManifest(m *codegen.Manifest) Option {
	return func(s *Server) { s.manifest = m }
}

// WithImplementation sets the name and version announced to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
		if version != "" {
			s.version = version
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine *dispatch.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		logger:  logging.NewNop(),
		name:    "tendril-mcp",
		version: "dev",
		tools:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer(s.name, s.version)
	s.registerTools()
	s.registerResources()
	return s
}

// ToolName maps an operation path onto the MCP tool alphabet.
func ToolName(path string) string {
	return strings.ReplaceAll(path, handler.Separator, "_")
}

// Tools lists the registered tool names, sorted.
func (s *Server) Tools() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeStdio serves on Stdin/Stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	for path, d := range s.engine.Router().Iterate() {
		if d.Kind() == domain.KindSubscription {
			continue
		}
		name := ToolName(path)
		if _, taken := s.tools[name]; taken {
			s.logger.Warn("mcp tool name collision, skipped", "method", path, "tool", name)
			continue
		}
		s.tools[name] = path
		s.mcpServer.AddTool(newTool(name, d), s.callTool(path))
	}
}

func newTool(name string, d *handler.Descriptor) mcp.Tool {
	desc := d.Doc()
	if desc == "" {
		desc = d.Signature()
	}
	opts := []mcp.ToolOption{mcp.WithDescription(desc)}
	for _, p := range d.Params() {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(name, opts...)
}

func paramOption(p handler.Param) mcp.ToolOption {
	t := p.Type
	optional := p.Optional
	if t.Kind == schema.KindOptional {
		optional = true
		t = t.Elem
	}
	var props []mcp.PropertyOption
	if p.Doc != "" {
		props = append(props, mcp.Description(p.Doc))
	} else {
		props = append(props, mcp.Description(t.String()))
	}
	if !optional {
		props = append(props, mcp.Required())
	}

	switch t.Kind {
	case schema.KindString:
		return mcp.WithString(p.Name, props...)
	case schema.KindNumber, schema.KindInteger:
		return mcp.WithNumber(p.Name, props...)
	case schema.KindBoolean:
		return mcp.WithBoolean(p.Name, props...)
	case schema.KindArray, schema.KindTuple:
		return mcp.WithArray(p.Name, props...)
	default:
		return mcp.WithObject(p.Name, props...)
	}
}

func (s *Server) callTool(path string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
		}
		md := domain.Metadata{Transport: domain.TransportMCP, Kind: domain.RequestAny, Header: http.Header{}}
		result, rpcErr := s.engine.Call(ctx, path, params, md)
		if rpcErr != nil {
			return mcp.NewToolResultError(rpcErr.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	}
}

func (s *Server) registerResources() {
	if s.manifest == nil {
		return
	}
	s.mcpServer.AddResource(mcp.NewResource(ManifestURI, "TypeScript bindings",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: ManifestURI, MIMEType: "text/plain", Text: string(s.manifest.TypeScript())},
		}, nil
	})
	s.mcpServer.AddResource(mcp.NewResource(OpenAPIURI, "OpenAPI document",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc, err := s.manifest.OpenAPIJSON()
		if err != nil {
			return nil, fmt.Errorf("build openapi document: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: OpenAPIURI, MIMEType: "application/json", Text: string(doc)},
		}, nil
	})
}
