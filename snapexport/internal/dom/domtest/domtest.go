// Package domtest provides an in-memory dom.Document for tests.
//
// Trees are built with El and Append; computed styles are supplied
// directly since there is no cascade. Failure injection fields let tests
// exercise the recovery paths of the pipeline.
package domtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// Node is one element of the in-memory tree.
type Node struct {
	Tag      string
	ID       string
	Role     string
	Classes  []string
	Computed map[string]string
	Inline   dom.Style
	Box      dom.Rect
	Children []*Node

	Canvas  string // data URL returned for canvases
	Tainted bool   // canvas pixels are not readable
	Markup  string // svg markup
	Src     string // img source after substitution

	parent *Node
}

// Opt configures a Node.
type Opt func(*Node)

// ID sets the id attribute.
func ID(id string) Opt { return func(n *Node) { n.ID = id } }

// Role sets the ARIA role.
func Role(r string) Opt { return func(n *Node) { n.Role = r } }

// Class appends class names.
func Class(c ...string) Opt { return func(n *Node) { n.Classes = append(n.Classes, c...) } }

// CSS sets a computed property.
func CSS(prop, value string) Opt { return func(n *Node) { n.Computed[prop] = value } }

// Inline sets an inline declaration.
func Inline(prop, value, priority string) Opt {
	return func(n *Node) { n.Inline[prop] = dom.Decl{Value: value, Priority: priority} }
}

// Box sets the rendered bounding box.
func Box(x, y, w, h float64) Opt {
	return func(n *Node) { n.Box = dom.Rect{X: x, Y: y, Width: w, Height: h} }
}

// Pixels sets the data URL a canvas yields.
func Pixels(dataURL string) Opt { return func(n *Node) { n.Canvas = dataURL } }

// Tainted marks a canvas as cross-origin tainted.
func Tainted() Opt { return func(n *Node) { n.Tainted = true } }

// Markup sets the serialised form of an svg.
func Markup(m string) Opt { return func(n *Node) { n.Markup = m } }

// El creates a detached node.
func El(tag string, opts ...Opt) *Node {
	n := &Node{Tag: tag, Computed: map[string]string{}, Inline: dom.Style{}}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Append adds children and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Parent returns the parent node, nil for detached nodes and the root.
func (n *Node) Parent() *Node { return n.parent }

func (n *Node) kind() dom.Kind {
	switch n.Tag {
	case "canvas":
		return dom.KindCanvas
	case "svg":
		return dom.KindSVG
	}
	return dom.KindElement
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

func (n *Node) contains(o *Node) bool {
	for p := o; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

func (n *Node) deepCopy() *Node {
	cp := &Node{
		Tag:      n.Tag,
		ID:       n.ID,
		Role:     n.Role,
		Classes:  append([]string(nil), n.Classes...),
		Computed: make(map[string]string, len(n.Computed)),
		Inline:   n.Inline.Clone(),
		Box:      n.Box,
		Canvas:   "", // cloned canvases start blank, as in a browser
		Markup:   n.Markup,
		Src:      n.Src,
	}
	for k, v := range n.Computed {
		cp.Computed[k] = v
	}
	for _, c := range n.Children {
		cp.Append(c.deepCopy())
	}
	return cp
}

// Document is an in-memory dom.Document.
type Document struct {
	mu      sync.Mutex
	Root    *Node
	Body    *Node
	handles []*Node

	// Counters observed by tests.
	Mounts   int
	Unmounts int
	Releases int
	Writes   int

	// Failure injection.
	FailProbe      error
	FailInspect    map[*Node]bool
	FailSet        map[*Node]error
	FailMount      error
	FailComputed   error
	FailSubstitute error
}

// New returns a document with an html root and the given body children.
func New(body ...*Node) *Document {
	b := El("body").Append(body...)
	root := El("html").Append(El("head"), b)
	return &Document{
		Root:        root,
		Body:        b,
		FailInspect: map[*Node]bool{},
		FailSet:     map[*Node]error{},
	}
}

// Handle registers n and returns its handle.
func (d *Document) Handle(n *Node) dom.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.register(n)
}

// Node resolves a handle.
func (d *Document) Node(h dom.Handle) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, _ := d.node(h)
	return n
}

// Attached reports whether n is part of the live tree.
func (d *Document) Attached(n *Node) bool {
	return d.Root.contains(n)
}

// Count returns the number of nodes with the given tag under root.
func Count(root *Node, tag string) int {
	c := 0
	root.walk(func(n *Node) {
		if n.Tag == tag {
			c++
		}
	})
	return c
}

func (d *Document) register(n *Node) dom.Handle {
	for i, e := range d.handles {
		if e == n {
			return dom.Handle(i)
		}
	}
	d.handles = append(d.handles, n)
	return dom.Handle(len(d.handles) - 1)
}

func (d *Document) node(h dom.Handle) (*Node, error) {
	if int(h) < 0 || int(h) >= len(d.handles) || d.handles[h] == nil {
		return nil, fmt.Errorf("%w: %d", dom.ErrStaleHandle, h)
	}
	return d.handles[h], nil
}

func (d *Document) Lookup(_ context.Context, id string) (dom.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *Node
	d.Root.walk(func(n *Node) {
		if found == nil && n.ID == id {
			found = n
		}
	})
	if found == nil {
		return 0, fmt.Errorf("%w: #%s", dom.ErrNotFound, id)
	}
	return d.register(found), nil
}

func (d *Document) Probe(_ context.Context, anchor dom.Handle) ([]dom.Probe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailProbe != nil {
		return nil, d.FailProbe
	}
	a, err := d.node(anchor)
	if err != nil {
		return nil, err
	}

	var out []dom.Probe
	d.Root.walk(func(n *Node) {
		p := dom.Probe{
			Handle:     d.register(n),
			Tag:        n.Tag,
			Role:       n.Role,
			Classes:    n.Classes,
			Position:   valueOr(n.Computed["position"], "static"),
			ZIndex:     valueOr(n.Computed["z-index"], "auto"),
			Opacity:    1,
			Background: valueOr(n.Computed["background-color"], "rgba(0, 0, 0, 0)"),
			Related:    a.contains(n) || n.contains(a),
		}
		if v, ok := n.Computed["opacity"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				p.Opacity = f
			}
		}
		if d.FailInspect[n] {
			p = dom.Probe{Handle: p.Handle, Tag: n.Tag, Err: "inspection failed"}
		}
		out = append(out, p)
	})
	return out, nil
}

func (d *Document) InlineStyle(_ context.Context, h dom.Handle, props []string) (dom.Style, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return nil, err
	}
	s := make(dom.Style, len(props))
	for _, p := range props {
		s[p] = n.Inline[p]
	}
	return s, nil
}

func (d *Document) SetInlineStyle(_ context.Context, h dom.Handle, s dom.Style) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return err
	}
	if err := d.FailSet[n]; err != nil {
		return err
	}
	d.Writes++
	for k, v := range s {
		if v.Unset() {
			delete(n.Inline, k)
			continue
		}
		n.Inline[k] = v
	}
	return nil
}

func (d *Document) Rect(_ context.Context, h dom.Handle) (dom.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return dom.Rect{}, err
	}
	return n.Box, nil
}

func (d *Document) Mount(_ context.Context, target dom.Handle, container dom.Style) (dom.Mount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailMount != nil {
		return dom.Mount{}, d.FailMount
	}
	t, err := d.node(target)
	if err != nil {
		return dom.Mount{}, err
	}

	cp := t.deepCopy()
	box := El("div")
	box.Inline = container.Clone()
	box.Append(cp)
	d.Body.Append(box)
	d.Mounts++

	m := dom.Mount{Container: d.register(box), Root: d.register(cp)}
	var orig, clones []*Node
	t.walk(func(n *Node) { orig = append(orig, n) })
	cp.walk(func(n *Node) { clones = append(clones, n) })
	for i := range orig {
		m.Pairs = append(m.Pairs, dom.Pair{
			Original: d.register(orig[i]),
			Clone:    d.register(clones[i]),
			Kind:     orig[i].kind(),
		})
	}
	return m, nil
}

func (d *Document) Unmount(_ context.Context, container dom.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(container)
	if err != nil {
		return err
	}
	p := n.parent
	if p == nil {
		return fmt.Errorf("domtest: container %d is not attached", container)
	}
	detach(n)
	d.Unmounts++
	return nil
}

func detach(n *Node) {
	p := n.parent
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func (d *Document) Computed(_ context.Context, hs []dom.Handle, props []string) ([]map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailComputed != nil {
		return nil, d.FailComputed
	}
	out := make([]map[string]string, len(hs))
	for i, h := range hs {
		n, err := d.node(h)
		if err != nil {
			return nil, err
		}
		m := make(map[string]string, len(props))
		for _, p := range props {
			if v, ok := n.Computed[p]; ok {
				m[p] = v
			}
		}
		out[i] = m
	}
	return out, nil
}

func (d *Document) Query(_ context.Context, root dom.Handle, kind dom.Kind) ([]dom.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.node(root)
	if err != nil {
		return nil, err
	}
	var out []dom.Handle
	r.walk(func(n *Node) {
		if n.kind() == kind {
			out = append(out, d.register(n))
		}
	})
	return out, nil
}

func (d *Document) CanvasData(_ context.Context, h dom.Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return "", err
	}
	if n.Tainted {
		return "", dom.ErrSnapshotDenied
	}
	return valueOr(n.Canvas, "data:image/png;base64,iVBORw0KGgo="), nil
}

func (d *Document) SVGMarkup(_ context.Context, h dom.Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return "", err
	}
	return valueOr(n.Markup, `<svg xmlns="http://www.w3.org/2000/svg"></svg>`), nil
}

func (d *Document) Substitute(_ context.Context, h dom.Handle, img dom.Image) (dom.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSubstitute != nil {
		return 0, d.FailSubstitute
	}
	n, err := d.node(h)
	if err != nil {
		return 0, err
	}
	p := n.parent
	if p == nil {
		return 0, fmt.Errorf("domtest: node %d is detached", h)
	}
	repl := El("img")
	repl.Src = img.Src
	repl.Inline = n.Inline.Clone()
	repl.Inline["width"] = dom.Important(px(img.Width))
	repl.Inline["height"] = dom.Important(px(img.Height))
	repl.Box = dom.Rect{X: n.Box.X, Y: n.Box.Y, Width: img.Width, Height: img.Height}
	repl.parent = p
	for i, c := range p.Children {
		if c == n {
			p.Children[i] = repl
		}
	}
	n.parent = nil
	return d.register(repl), nil
}

func (d *Document) Release(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles = nil
	d.Releases++
	return nil
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
