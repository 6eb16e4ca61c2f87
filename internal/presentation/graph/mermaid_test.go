package graph_test

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
)

type app struct{}

type idParams struct {
	ID string `json:"id"`
}

func newRouter(t *testing.T) *router.Router {
	t.Helper()
	self := ctxresolve.Identity[*app]()
	r := router.New()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.Handle(handler.Query("get", self, func(context.Context, *app, idParams) (string, error) { return "", nil })))
	must(r.Attach("users.admin", handler.Mutation("ban", self, func(context.Context, *app, idParams) (bool, error) { return true, nil })))
	must(r.Attach("users", handler.Subscription("created", self, func(context.Context, *app, handler.NoParams) (iter.Seq2[string, error], error) {
		return func(func(string, error) bool) {}, nil
	})))
	return r
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(newRouter(t), nil)

	tests := []struct {
		name string
		want string
	}{
		{"Root", `root(("/"))`},
		{"Query Shape", `get["get<br/>Query&lt;[id: string], string&gt;"]`},
		{"Mutation Shape", `users_admin_ban[["ban<br/>Mutation&lt;[id: string], boolean&gt;"]]`},
		{"Subscription Shape", `users_created[/"created<br/>Subscription&lt;[], string&gt;"/]`},
		{"Namespace", `ns_users(("users"))`},
		{"Nested Namespace Edge", "ns_users --> ns_users_admin"},
		{"Subscription Edge", "ns_users -.-> users_created"},
		{"Root Edge", "root --> get"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(got, tt.want) {
				t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, tt.want)
			}
		})
	}

	if n := strings.Count(got, `ns_users(("users"))`); n != 1 {
		t.Errorf("namespace declared %d times, want 1", n)
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	got := graph.GenerateMermaid(newRouter(t), &graph.Overlay{
		Restricted: []string{"users.admin.ban", "users.admin.ban"},
		Current:    "get",
	})
	if n := strings.Count(got, "class users_admin_ban restricted;"); n != 1 {
		t.Errorf("restricted class applied %d times, want 1", n)
	}
	if !strings.Contains(got, "class get current;") {
		t.Errorf("missing current class in\n%v", got)
	}
}
