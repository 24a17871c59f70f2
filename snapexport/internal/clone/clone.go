// CLAUDE:SUMMARY Builds the off-screen replica of the target region and flattens live computed styles onto it.
// Package clone builds an isolated, off-screen replica of a rendered region
// and flattens the live cascade onto it, so the replica renders the same
// without any external styling context.
package clone

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// DefaultOffset is how far beyond the left edge of the page the container
// is placed, in CSS pixels.
const DefaultOffset = 10000

// Context is the scaffolding of one operation. It is detached exactly once
// through the lifecycle scope.
type Context struct {
	Container dom.Handle
	Root      dom.Handle
	Target    dom.Handle
	Width     float64
	Height    float64

	// Pairs links every original node to its clone. It is captured while
	// cloning, before anything mutates the replica.
	Pairs []dom.Pair
}

// Build measures target, deep-copies it and mounts the copy in a container
// positioned outside the viewport, its width pinned to the measured width.
func Build(ctx context.Context, doc dom.Document, target dom.Handle, offset float64) (*Context, error) {
	if offset <= 0 {
		offset = DefaultOffset
	}

	box, err := doc.Rect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("clone: measure: %w", err)
	}
	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("clone: region has no rendered area (%gx%g)", box.Width, box.Height)
	}

	w := px(box.Width)
	container := dom.Style{
		"position":       dom.Important("absolute"),
		"left":           dom.Important(px(-(box.Width + offset))),
		"top":            dom.Important("0px"),
		"width":          dom.Important(w),
		"min-width":      dom.Important(w),
		"max-width":      dom.Important(w),
		"margin":         dom.Important("0px"),
		"padding":        dom.Important("0px"),
		"overflow":       dom.Important("visible"),
		"pointer-events": dom.Important("none"),
	}

	m, err := doc.Mount(ctx, target, container)
	if err != nil {
		return nil, fmt.Errorf("clone: mount: %w", err)
	}

	return &Context{
		Container: m.Container,
		Root:      m.Root,
		Target:    target,
		Width:     box.Width,
		Height:    box.Height,
		Pairs:     m.Pairs,
	}, nil
}

// PixelSize returns the bitmap size for the given oversampling factor.
func (c *Context) PixelSize(scale float64) (int, int) {
	return int(math.Round(c.Width * scale)), int(math.Round(c.Height * scale))
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
