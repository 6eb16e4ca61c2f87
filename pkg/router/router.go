// Package router composes handler descriptors into a namespace tree.
//
// A Router is built during a construction phase with Attach, Handle and Nest,
// and is read-only once serving begins. It is not safe for concurrent mutation.
package router

import (
	"fmt"
	"iter"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
)

// Separator joins the segments of a fully-qualified path.
const Separator = handler.Separator

// Router is the root of a namespace tree.
type Router struct {
	root *node
	size int
}

// node is one namespace. Entries keep registration order; byName indexes them.
type node struct {
	segment string
	parent  *node
	entries []*entry
	byName  map[string]*entry
}

// entry is either a leaf descriptor or a child namespace.
type entry struct {
	name  string
	leaf  *handler.Descriptor
	child *node
}

// New creates an empty router.
func New() *Router {
	return &Router{root: newNode("", nil)}
}

func newNode(segment string, parent *node) *node {
	return &node{segment: segment, parent: parent, byName: make(map[string]*entry)}
}

// Handle attaches d at the root namespace.
func (r *Router) Handle(d *handler.Descriptor) error {
	return r.Attach("", d)
}

// Attach places d under the dotted namespace path, creating intermediate
// namespaces as needed. A duplicate fully-qualified path is an error.
func (r *Router) Attach(path string, d *handler.Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", domain.ErrInvalidDescriptor)
	}
	if err := d.Err(); err != nil {
		return fmt.Errorf("attach %s: %w", d.Name(), err)
	}
	segments, err := split(path)
	if err != nil {
		return err
	}

	// Validate the whole walk before mutating so a failed attach changes nothing.
	n := r.root
	for i, seg := range segments {
		e, ok := n.byName[seg]
		if !ok {
			break
		}
		if e.leaf != nil {
			return fmt.Errorf("%w: %s is an operation, not a namespace", domain.ErrDuplicateRoute, join(segments[:i+1]))
		}
		n = e.child
		if i == len(segments)-1 {
			if _, taken := n.byName[d.Name()]; taken {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateRoute, join(append(segments, d.Name())))
			}
		}
	}
	if len(segments) == 0 {
		if _, taken := r.root.byName[d.Name()]; taken {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRoute, d.Name())
		}
	}

	n = r.root
	for _, seg := range segments {
		n = n.namespace(seg)
	}
	n.add(&entry{name: d.Name(), leaf: d})
	r.size++
	return nil
}

// Nest grafts sub under the dotted prefix. The descriptors are shared, not
// copied, and sub itself is left untouched. Conflicts are reported exactly
// like Attach and leave the receiver unchanged. Nesting a router into itself
// grafts the operations it holds at call time.
func (r *Router) Nest(prefix string, sub *Router) error {
	if sub == nil {
		return fmt.Errorf("%w: nil router", domain.ErrInvalidDescriptor)
	}
	segments, err := split(prefix)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: nest requires a prefix", domain.ErrInvalidSegment)
	}

	n := r.root
	for i, seg := range segments {
		e, ok := n.byName[seg]
		if !ok {
			break
		}
		if e.leaf != nil {
			return fmt.Errorf("%w: %s is an operation, not a namespace", domain.ErrDuplicateRoute, join(segments[:i+1]))
		}
		n = e.child
	}

	// Snapshot sub before mutating r; sub may be r.
	type leaf struct {
		segments []string
		d        *handler.Descriptor
	}
	var leaves []leaf
	for path, d := range sub.Iterate() {
		full := prefix + Separator + path
		if err := r.conflict(full); err != nil {
			return err
		}
		leaves = append(leaves, leaf{segments: strings.Split(path, Separator), d: d})
	}

	base := r.root
	for _, seg := range segments {
		base = base.namespace(seg)
	}
	for _, l := range leaves {
		n := base
		for _, seg := range l.segments[:len(l.segments)-1] {
			n = n.namespace(seg)
		}
		n.add(&entry{name: l.d.Name(), leaf: l.d})
	}
	r.size += len(leaves)
	return nil
}

// conflict reports whether path can not be inserted as a leaf.
func (r *Router) conflict(path string) error {
	segments := strings.Split(path, Separator)
	n := r.root
	for i, seg := range segments {
		e, ok := n.byName[seg]
		if !ok {
			return nil
		}
		if i == len(segments)-1 || e.leaf != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateRoute, join(segments[:i+1]))
		}
		n = e.child
	}
	return nil
}

// namespace returns the child namespace seg, creating it if needed.
func (n *node) namespace(seg string) *node {
	if e, ok := n.byName[seg]; ok {
		return e.child
	}
	child := newNode(seg, n)
	n.add(&entry{name: seg, child: child})
	return child
}

func (n *node) add(e *entry) {
	n.entries = append(n.entries, e)
	n.byName[e.name] = e
}

// path reconstructs the fully-qualified namespace of n through its parents.
func (n *node) path() []string {
	var segments []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		segments = append(segments, cur.segment)
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments
}

// Iterate yields every (fully-qualified path, descriptor) pair depth first in
// registration order. The sequence is lazy and may be iterated repeatedly.
func (r *Router) Iterate() iter.Seq2[string, *handler.Descriptor] {
	return func(yield func(string, *handler.Descriptor) bool) {
		walk(r.root, yield)
	}
}

func walk(n *node, yield func(string, *handler.Descriptor) bool) bool {
	for _, e := range n.entries {
		if e.leaf != nil {
			if !yield(join(append(n.path(), e.name)), e.leaf) {
				return false
			}
			continue
		}
		if !walk(e.child, yield) {
			return false
		}
	}
	return true
}

// Lookup finds the descriptor at a fully-qualified path.
func (r *Router) Lookup(path string) (*handler.Descriptor, bool) {
	segments := strings.Split(path, Separator)
	n := r.root
	for i, seg := range segments {
		e, ok := n.byName[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return e.leaf, e.leaf != nil
		}
		if e.child == nil {
			return nil, false
		}
		n = e.child
	}
	return nil, false
}

// Len returns the number of operations in the tree.
func (r *Router) Len() int { return r.size }

// Paths lists every fully-qualified path in iteration order.
func (r *Router) Paths() []string {
	paths := make([]string, 0, r.size)
	for path := range r.Iterate() {
		paths = append(paths, path)
	}
	return paths
}

func split(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	segments := strings.Split(path, Separator)
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSegment, path)
		}
	}
	return segments, nil
}

func join(segments []string) string {
	return strings.Join(segments, Separator)
}
