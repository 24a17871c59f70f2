package clone

import (
	"context"
	"fmt"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// Whitelist is the set of computed properties copied onto every clone node.
var Whitelist = []string{
	"display", "position", "box-sizing",
	"width", "height", "top", "left", "right", "bottom",
	"background-color", "background-image", "background-size", "background-position", "background-repeat",
	"color", "font-family", "font-size", "font-weight", "font-style", "line-height",
	"letter-spacing", "text-align", "text-transform", "white-space",
	"padding-top", "padding-right", "padding-bottom", "padding-left",
	"margin-top", "margin-right", "margin-bottom", "margin-left",
	"border-top-width", "border-right-width", "border-bottom-width", "border-left-width",
	"border-top-style", "border-right-style", "border-bottom-style", "border-left-style",
	"border-top-color", "border-right-color", "border-bottom-color", "border-left-color",
	"border-top-left-radius", "border-top-right-radius", "border-bottom-right-radius", "border-bottom-left-radius",
	"box-shadow", "mix-blend-mode", "opacity", "transform",
	"flex-direction", "flex-wrap", "justify-content", "align-items", "gap",
	"overflow",
}

// Neutral resets effects the rasterizer cannot reproduce reliably.
var Neutral = dom.Style{
	"box-shadow":      dom.Important("none"),
	"text-shadow":     dom.Important("none"),
	"mix-blend-mode":  dom.Important("normal"),
	"filter":          dom.Important("none"),
	"backdrop-filter": dom.Important("none"),
}

// DefaultBackground fills a transparent clone root.
const DefaultBackground = "#ffffff"

// Flatten turns resolved values into inline declarations at maximum
// precedence, with effects neutralised.
func Flatten(computed map[string]string) dom.Style {
	s := make(dom.Style, len(computed)+len(Neutral))
	for _, p := range Whitelist {
		if v, ok := computed[p]; ok && v != "" {
			s[p] = dom.Important(v)
		}
	}
	for k, v := range Neutral {
		s[k] = v
	}
	return s
}

// anchorRoot pins the clone root to the container origin.
func anchorRoot(s dom.Style, computed map[string]string, background string) {
	s["position"] = dom.Important("relative")
	for _, p := range []string{"top", "left", "right", "bottom"} {
		s[p] = dom.Important("auto")
	}
	for _, p := range []string{"margin-top", "margin-right", "margin-bottom", "margin-left"} {
		s[p] = dom.Important("0px")
	}
	img := computed["background-image"]
	if dom.Alpha(computed["background-color"]) == 0 && (img == "" || img == "none") {
		s["background-color"] = dom.Important(background)
	}
}

// Inline writes the computed style of every original node onto its clone.
// Correspondence comes from the pairs captured at clone time.
func Inline(ctx context.Context, doc dom.Document, cc *Context, background string) error {
	if background == "" {
		background = DefaultBackground
	}
	if len(cc.Pairs) == 0 {
		return fmt.Errorf("clone: inline: no node pairs")
	}

	computed, err := doc.Computed(ctx, dom.Handles(cc.Pairs, false), Whitelist)
	if err != nil {
		return fmt.Errorf("clone: inline: computed: %w", err)
	}
	if len(computed) != len(cc.Pairs) {
		return fmt.Errorf("clone: inline: got %d styles for %d nodes", len(computed), len(cc.Pairs))
	}

	for i, p := range cc.Pairs {
		s := Flatten(computed[i])
		if p.Clone == cc.Root {
			anchorRoot(s, computed[i], background)
		}
		if err := doc.SetInlineStyle(ctx, p.Clone, s); err != nil {
			return fmt.Errorf("clone: inline node %d: %w", p.Clone, err)
		}
	}
	return nil
}
