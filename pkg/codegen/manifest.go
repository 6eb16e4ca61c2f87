package codegen

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
	"github.com/aretw0/tendril/pkg/schema"
)

const (
	DefaultRoot          = "Server"
	DefaultClientPackage = "@tendril/client"
)

// Option configures generation.
type Option func(*options)

type options struct {
	root          string
	clientPackage string
	title         string
	version       string
}

// WithRoot names the root TypeScript type.
func WithRoot(name string) Option {
	return func(o *options) {
		if name != "" {
			o.root = name
		}
	}
}

// WithClientPackage sets the package the Query, Mutation and Subscription helpers are imported from.
func WithClientPackage(pkg string) Option {
	return func(o *options) {
		if pkg != "" {
			o.clientPackage = pkg
		}
	}
}

// WithInfo sets the title and version of the OpenAPI document.
func WithInfo(title, version string) Option {
	return func(o *options) {
		o.title = title
		o.version = version
	}
}

// TypeDef is one entry of the type table.
type TypeDef struct {
	Name string
	// Params names the type parameters of a generic definition.
	Params []string
	Doc    string
	// Body is the structural definition with type parameters left symbolic.
	Body string
	Type *schema.Type
}

// Operation is one exposed operation.
type Operation struct {
	Path      string
	Kind      domain.Kind
	Doc       string
	Params    []handler.Param
	Returns   *schema.Type
	Signature string
}

// Namespace is one level of the operation tree. Keys are sorted.
type Namespace struct {
	Name       string
	Operations []*Operation
	Children   []*Namespace
}

// Manifest is the result of one generation run.
type Manifest struct {
	// Types is sorted by name.
	Types []TypeDef
	// Operations is sorted by path.
	Operations []*Operation
	Root       *Namespace

	opts options
}

// Generate collects the types and signatures of every operation in r.
func Generate(r *router.Router, opts ...Option) (*Manifest, error) {
	o := options{root: DefaultRoot, clientPackage: DefaultClientPackage, title: "Tendril API", version: "0.0.0"}
	for _, opt := range opts {
		opt(&o)
	}

	g := &collector{defs: make(map[string]*TypeDef), seen: make(map[string]bool)}
	m := &Manifest{Root: &Namespace{}, opts: o}

	for path, d := range r.Iterate() {
		for _, p := range d.Params() {
			if err := g.visit(p.Type); err != nil {
				return nil, fmt.Errorf("%s param %s: %w", path, p.Name, err)
			}
		}
		if err := g.visit(d.Returns()); err != nil {
			return nil, fmt.Errorf("%s result: %w", path, err)
		}

		op := &Operation{
			Path:      path,
			Kind:      d.Kind(),
			Doc:       d.Doc(),
			Params:    d.Params(),
			Returns:   d.Returns(),
			Signature: d.Signature(),
		}
		m.Operations = append(m.Operations, op)
		m.Root.insert(strings.Split(path, router.Separator), op)
	}

	m.Types = make([]TypeDef, 0, len(g.defs))
	for _, def := range g.defs {
		m.Types = append(m.Types, *def)
	}
	slices.SortFunc(m.Types, func(a, b TypeDef) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(m.Operations, func(a, b *Operation) int { return strings.Compare(a.Path, b.Path) })
	m.Root.sort()
	return m, nil
}

// collector is the throwaway visited set of one run.
type collector struct {
	defs map[string]*TypeDef
	// seen is keyed on identity: base name plus instantiation.
	seen map[string]bool
}

func (c *collector) visit(t *schema.Type) error {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case schema.KindArray, schema.KindOptional, schema.KindMap:
		return c.visit(t.Elem)
	case schema.KindTuple:
		for _, item := range t.Items {
			if err := c.visit(item); err != nil {
				return err
			}
		}
		return nil
	case schema.KindObject:
	default:
		return nil
	}

	if !t.IsNamed() {
		return c.visitFields(t)
	}

	body := t.Body()
	if def, ok := c.defs[t.Name]; ok {
		if def.Body != body || !slices.Equal(def.Params, t.TypeParams) {
			return fmt.Errorf("%w: %s is defined as %s and as %s", domain.ErrDuplicateType, t.Name, def.Body, body)
		}
	}

	key := identity(t)
	if c.seen[key] {
		return nil
	}
	c.seen[key] = true

	for _, arg := range t.Args {
		if err := c.visit(arg); err != nil {
			return err
		}
	}
	if _, ok := c.defs[t.Name]; ok {
		// Another instantiation already walked the shared definition.
		return nil
	}
	c.defs[t.Name] = &TypeDef{Name: t.Name, Params: t.TypeParams, Doc: t.Doc, Body: body, Type: t}
	return c.visitFields(t)
}

func (c *collector) visitFields(t *schema.Type) error {
	for _, f := range t.Fields {
		if err := c.visit(f.Type); err != nil {
			return fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
		}
	}
	return nil
}

func identity(t *schema.Type) string {
	if len(t.Args) == 0 {
		return t.Name
	}
	return t.String()
}

func (n *Namespace) insert(segments []string, op *Operation) {
	if len(segments) == 1 {
		n.Operations = append(n.Operations, op)
		return
	}
	for _, child := range n.Children {
		if child.Name == segments[0] {
			child.insert(segments[1:], op)
			return
		}
	}
	child := &Namespace{Name: segments[0]}
	n.Children = append(n.Children, child)
	child.insert(segments[1:], op)
}

func (n *Namespace) sort() {
	slices.SortFunc(n.Operations, func(a, b *Operation) int { return strings.Compare(a.Path, b.Path) })
	slices.SortFunc(n.Children, func(a, b *Namespace) int { return strings.Compare(a.Name, b.Name) })
	for _, child := range n.Children {
		child.sort()
	}
}

// key is the last path segment of an operation.
func (op *Operation) key() string {
	if i := strings.LastIndex(op.Path, router.Separator); i >= 0 {
		return op.Path[i+1:]
	}
	return op.Path
}
