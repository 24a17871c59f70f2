// CLAUDE:SUMMARY Abstract live visual tree consumed by the export pipeline: handles, styles, probes, clone pairs.
// Package dom describes the live visual tree the export pipeline operates on.
//
// The pipeline never touches a browser directly. It talks to a Document,
// which the cdp package implements on top of a Chrome tab and the domtest
// package implements in memory for tests. Element references are opaque
// Handles, valid for the lifetime of one export operation.
package dom

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by Lookup when no element carries the id.
var ErrNotFound = errors.New("dom: element not found")

// ErrSnapshotDenied is returned by CanvasData when the surface is tainted
// by cross-origin content and its pixels cannot be read.
var ErrSnapshotDenied = errors.New("dom: drawing surface is not readable")

// ErrStaleHandle is returned when a handle does not resolve in the document.
var ErrStaleHandle = errors.New("dom: stale handle")

// Handle references one element for the duration of an operation.
type Handle int

// Kind classifies nodes the freezer cares about.
type Kind int

const (
	KindElement Kind = iota
	KindCanvas       // continuously redrawn bitmap surface
	KindSVG          // inline vector graphic
)

func (k Kind) String() string {
	switch k {
	case KindCanvas:
		return "canvas"
	case KindSVG:
		return "svg"
	default:
		return "element"
	}
}

// Rect is a bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Decl is one inline style declaration. An empty Value means the property
// is not set inline.
type Decl struct {
	Value    string `json:"value"`
	Priority string `json:"priority"`
}

// Important returns a declaration at maximum precedence.
func Important(v string) Decl { return Decl{Value: v, Priority: "important"} }

// Unset reports whether the declaration is absent.
func (d Decl) Unset() bool { return d.Value == "" }

// Style maps property names to inline declarations.
type Style map[string]Decl

// Clone returns a copy of s.
func (s Style) Clone() Style {
	out := make(Style, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both styles hold the same declarations.
func (s Style) Equal(o Style) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders the style as CSS text with properties sorted.
func (s Style) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		d := s[k]
		if d.Unset() {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Priority != "" {
			b.WriteString(" !")
			b.WriteString(d.Priority)
		}
		b.WriteString("; ")
	}
	return strings.TrimSpace(b.String())
}

// Probe carries the resolved facts overlay detection looks at.
type Probe struct {
	Handle     Handle   `json:"handle"`
	Tag        string   `json:"tag"`
	Role       string   `json:"role"`
	Classes    []string `json:"classes"`
	Position   string   `json:"position"`
	ZIndex     string   `json:"z_index"`
	Opacity    float64  `json:"opacity"`
	Background string   `json:"background"`

	// Related is true for the anchor element, its ancestors and its
	// descendants.
	Related bool `json:"related"`

	// Err is set when the element could not be inspected.
	Err string `json:"err,omitempty"`
}

// Pair links an original node to its clone, captured at clone time.
type Pair struct {
	Original Handle `json:"original"`
	Clone    Handle `json:"clone"`
	Kind     Kind   `json:"kind"`
}

// Mount is the result of cloning a subtree into an off-screen container.
type Mount struct {
	Container Handle `json:"container"`
	Root      Handle `json:"root"`
	Pairs     []Pair `json:"pairs"`
}

// Image describes a static replacement for a dynamic node.
type Image struct {
	Src    string
	Width  float64
	Height float64
}

// Document is the live visual tree of one page.
type Document interface {
	// Lookup resolves an element by its id attribute.
	Lookup(ctx context.Context, id string) (Handle, error)

	// Probe inspects every element of the tree in document order. Elements
	// related to anchor are flagged rather than omitted.
	Probe(ctx context.Context, anchor Handle) ([]Probe, error)

	// InlineStyle reads the inline declarations of the named properties.
	InlineStyle(ctx context.Context, h Handle, props []string) (Style, error)

	// SetInlineStyle writes declarations; an unset Decl removes the property.
	SetInlineStyle(ctx context.Context, h Handle, s Style) error

	// Rect returns the rendered bounding box of h.
	Rect(ctx context.Context, h Handle) (Rect, error)

	// Mount deep-clones target into a new container carrying the given
	// inline style, appended to the document body.
	Mount(ctx context.Context, target Handle, container Style) (Mount, error)

	// Unmount detaches a container created by Mount.
	Unmount(ctx context.Context, container Handle) error

	// Computed resolves the named properties for each handle.
	Computed(ctx context.Context, hs []Handle, props []string) ([]map[string]string, error)

	// Query lists descendants of root of the given kind in document order.
	Query(ctx context.Context, root Handle, kind Kind) ([]Handle, error)

	// CanvasData encodes the current pixels of a drawing surface as a PNG
	// data URL. It returns ErrSnapshotDenied for tainted surfaces.
	CanvasData(ctx context.Context, h Handle) (string, error)

	// SVGMarkup serialises an inline vector graphic.
	SVGMarkup(ctx context.Context, h Handle) (string, error)

	// Substitute replaces h by a static image, keeping h's inline style.
	Substitute(ctx context.Context, h Handle, img Image) (Handle, error)

	// Release drops every handle issued during the operation.
	Release(ctx context.Context) error
}

// Handles extracts one side of a pair list.
func Handles(pairs []Pair, clone bool) []Handle {
	out := make([]Handle, len(pairs))
	for i, p := range pairs {
		if clone {
			out[i] = p.Clone
		} else {
			out[i] = p.Original
		}
	}
	return out
}

// OfKind filters pairs by node kind, keeping order.
func OfKind(pairs []Pair, k Kind) []Pair {
	var out []Pair
	for _, p := range pairs {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}
