package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
)

// RootID is the Mermaid id of the namespace root.
const RootID = "root"

// Overlay marks operations to highlight on the graph.
type Overlay struct {
	Restricted []string
	Current    string
}

// GenerateMermaid produces a Mermaid flowchart of the namespace tree.
// Shapes follow the operation kind:
// - Namespace: ((Circle))
// - Query: [Rectangle]
// - Mutation: [[Subroutine]]
// - Subscription: [/Parallelogram/]
func GenerateMermaid(r *router.Router, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString(fmt.Sprintf("    %s((\"%s\"))\n", RootID, "/"))

	seen := map[string]bool{}
	for path, d := range r.Iterate() {
		segments := strings.Split(path, handler.Separator)
		parent := RootID
		for i := range segments[:len(segments)-1] {
			ns := strings.Join(segments[:i+1], handler.Separator)
			id := sanitizeMermaidID("ns." + ns)
			if !seen[id] {
				seen[id] = true
				sb.WriteString(fmt.Sprintf("    %s((\"%s\"))\n", id, segments[i]))
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", parent, id))
			}
			parent = id
		}

		opener, closer := shape(d)
		id := sanitizeMermaidID(path)
		label := fmt.Sprintf("%s<br/>%s", segments[len(segments)-1], escape(d.Signature()))
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", id, opener, label, closer))
		arrow := "-->"
		if d.Kind() == domain.KindSubscription {
			arrow = "-.->"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", parent, arrow, id))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef restricted fill:#fde2e2,stroke:#b91c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		done := map[string]bool{}
		for _, path := range overlay.Restricted {
			id := sanitizeMermaidID(path)
			if !done[id] && id != "" {
				done[id] = true
				sb.WriteString(fmt.Sprintf("    class %s restricted;\n", id))
			}
		}
		if overlay.Current != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.Current)))
		}
	}

	return sb.String()
}

func shape(d *handler.Descriptor) (string, string) {
	switch d.Kind() {
	case domain.KindMutation:
		return "[[", "]]"
	case domain.KindSubscription:
		return "[/", "/]"
	default:
		return "[", "]"
	}
}

// escape keeps generic brackets and quotes from breaking Mermaid labels.
func escape(s string) string {
	r := strings.NewReplacer(`"`, "'", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
