package codegen

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Header opens every generated TypeScript file.
const Header = "// Code generated by tendril codegen. DO NOT EDIT."

// TypeScript renders the manifest as a TypeScript module.
func (m *Manifest) TypeScript() []byte {
	var buf bytes.Buffer
	_ = m.WriteTypeScript(&buf)
	return buf.Bytes()
}

// WriteTypeScript writes the type table followed by the root declaration.
func (m *Manifest) WriteTypeScript(w io.Writer) error {
	var b strings.Builder
	b.WriteString("/* eslint-disable */\n")
	b.WriteString("// @ts-nocheck\n")
	b.WriteString(Header + "\n\n")
	fmt.Fprintf(&b, "import type { Query, Mutation, Subscription } from %q;\n\n", m.opts.clientPackage)

	for _, def := range m.Types {
		if def.Doc != "" {
			writeDoc(&b, def.Doc)
		}
		name := def.Name
		if len(def.Params) > 0 {
			name += "<" + strings.Join(def.Params, ", ") + ">"
		}
		fmt.Fprintf(&b, "export type %s = %s;\n", name, def.Body)
	}
	if len(m.Types) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "export type %s = ", m.opts.root)
	m.Root.writeTS(&b)
	b.WriteString(";\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func (n *Namespace) writeTS(b *strings.Builder) {
	type member struct {
		key   string
		op    *Operation
		child *Namespace
	}
	members := make([]member, 0, len(n.Operations)+len(n.Children))
	for _, op := range n.Operations {
		members = append(members, member{key: op.key(), op: op})
	}
	for _, child := range n.Children {
		members = append(members, member{key: child.Name, child: child})
	}
	slices.SortFunc(members, func(a, b member) int { return strings.Compare(a.key, b.key) })

	b.WriteString("{ ")
	for _, mem := range members {
		b.WriteString(mem.key)
		b.WriteString(": ")
		if mem.op != nil {
			b.WriteString(mem.op.Signature)
		} else {
			mem.child.writeTS(b)
		}
		b.WriteString(", ")
	}
	b.WriteString("}")
}

func writeDoc(b *strings.Builder, doc string) {
	lines := strings.Split(strings.TrimSpace(doc), "\n")
	if len(lines) == 1 {
		fmt.Fprintf(b, "/** %s */\n", lines[0])
		return
	}
	b.WriteString("/**\n")
	for _, line := range lines {
		fmt.Fprintf(b, " * %s\n", strings.TrimRight(line, " "))
	}
	b.WriteString(" */\n")
}
