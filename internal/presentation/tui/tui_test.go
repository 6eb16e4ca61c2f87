package tui

import (
	"bytes"
	"context"
	"testing"

	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type app struct{}

type getParams struct {
	ID *string `json:"id"`
}

func TestRoutesMarkdown(t *testing.T) {
	self := ctxresolve.Identity[*app]()
	r := router.New()
	require.NoError(t, r.Attach("users", handler.Query("get", self, func(context.Context, *app, getParams) (string, error) {
		return "", nil
	}, handler.Describe("Fetches a user."))))

	md := RoutesMarkdown(r)
	assert.Contains(t, md, "# Operations (1)")
	assert.Contains(t, md, "| `users.get` | Query | `Query<[id: string \\| null], string>` | Fetches a user. |")
}

func TestNewRenderer_PlainWhenPiped(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))
	out, err := NewRenderer(&buf)("# title")
	require.NoError(t, err)
	assert.Equal(t, "# title", out)
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
	assert.NotContains(t, buf.String(), "\x1b[", "no escape codes for a non-terminal writer")
}
