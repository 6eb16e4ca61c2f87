package mcp

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/aretw0/tendril/pkg/codegen"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/dispatch"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type app struct{ greeting string }

type greetParams struct {
	Name  string `json:"name"`
	Times *int   `json:"times"`
}

type banParams struct {
	User string `json:"user"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	self := ctxresolve.Identity[*app]()
	r := router.New()
	require.NoError(t, r.Handle(handler.Query("greet", self, func(_ context.Context, a *app, p greetParams) (string, error) {
		n := 1
		if p.Times != nil {
			n = *p.Times
		}
		return strings.Repeat(a.greeting+" "+p.Name+"!", n), nil
	}, handler.Describe("Greets somebody."))))
	require.NoError(t, r.Attach("admin", handler.Mutation("ban", self, func(_ context.Context, _ *app, p banParams) (bool, error) {
		return p.User != "", nil
	})))
	require.NoError(t, r.Handle(handler.Subscription("ticks", self, func(context.Context, *app, handler.NoParams) (iter.Seq2[int, error], error) {
		return func(func(int, error) bool) {}, nil
	})))

	e, err := dispatch.New(r, &app{greeting: "hello"})
	require.NoError(t, err)
	m, err := codegen.Generate(r)
	require.NoError(t, err)
	return NewServer(e, WithManifest(m), WithImplementation("test", "0.0.1"))
}

func call(t *testing.T, s *Server, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	path, ok := s.tools[tool]
	require.True(t, ok, "tool %s is registered", tool)
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := s.callTool(path)(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	content, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestServer_ToolsSkipSubscriptions(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, []string{"admin_ban", "greet"}, s.Tools())
}

func TestServer_CallTool(t *testing.T) {
	s := newTestServer(t)

	res := call(t, s, "greet", map[string]any{"name": "ada", "times": 2})
	assert.False(t, res.IsError)
	assert.Equal(t, `"hello ada!hello ada!"`, text(t, res))

	res = call(t, s, "admin_ban", map[string]any{"user": "eve"})
	assert.Equal(t, "true", text(t, res))
}

func TestServer_CallToolErrors(t *testing.T) {
	s := newTestServer(t)

	res := call(t, s, "greet", map[string]any{"times": "many"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "-32602")
}

func TestNewTool_Schema(t *testing.T) {
	s := newTestServer(t)
	d, ok := s.engine.Lookup("greet")
	require.True(t, ok)

	tool := newTool("greet", d)
	assert.Equal(t, "Greets somebody.", tool.Description)
	assert.Equal(t, []string{"name"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "name")
	assert.Contains(t, tool.InputSchema.Properties, "times")

	ban, ok := s.engine.Lookup("admin.ban")
	require.True(t, ok)
	assert.Equal(t, "Mutation<[user: string], boolean>", newTool("admin_ban", ban).Description)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "a_b_c", ToolName("a.b.c"))
	assert.Equal(t, "get", ToolName("get"))
}
