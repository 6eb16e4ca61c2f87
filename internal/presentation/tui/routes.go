package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/router"
)

// RoutesMarkdown lists every operation of r as a markdown table.
func RoutesMarkdown(r *router.Router) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Operations (%d)\n\n", r.Len()))
	sb.WriteString("| Method | Kind | Signature | Doc |\n")
	sb.WriteString("| --- | --- | --- | --- |\n")
	for path, d := range r.Iterate() {
		sb.WriteString(fmt.Sprintf("| `%s` | %s | `%s` | %s |\n", path, d.Kind(), cell(d.Signature()), cell(d.Doc())))
	}
	return sb.String()
}

// cell escapes the pipes of union types.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
