// CLAUDE:SUMMARY Replaces drawing surfaces and inline SVGs inside the clone with static images read from the live originals.
// Package freeze replaces content that is redrawn by script (chart
// canvases) or described declaratively (inline SVG) with static images, so
// the rasterizer sees a fixed picture.
package freeze

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/snapexport/snapexport/internal/clone"
	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// Stats counts the substitutions of one operation.
type Stats struct {
	Canvases int `json:"canvases"`
	SVGs     int `json:"svgs"`
	Skipped  int `json:"skipped"`
}

// Freezer substitutes dynamic content.
type Freezer struct {
	logger *slog.Logger
}

// New creates a Freezer.
func New(logger *slog.Logger) *Freezer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Freezer{logger: logger}
}

// Freeze substitutes every canvas and inline svg of the clone. A canvas
// whose pixels cannot be read is left as is and counted in Skipped.
func (f *Freezer) Freeze(ctx context.Context, doc dom.Document, cc *clone.Context) (Stats, error) {
	var st Stats

	canvases := dom.OfKind(cc.Pairs, dom.KindCanvas)
	svgs := dom.OfKind(cc.Pairs, dom.KindSVG)
	f.checkCorrespondence(ctx, doc, cc.Target, dom.KindCanvas, len(canvases))
	f.checkCorrespondence(ctx, doc, cc.Target, dom.KindSVG, len(svgs))

	for _, p := range canvases {
		data, err := doc.CanvasData(ctx, p.Original)
		if errors.Is(err, dom.ErrSnapshotDenied) {
			f.logger.Debug("freeze: canvas not readable, skipped", "handle", p.Original)
			st.Skipped++
			continue
		}
		if err != nil {
			return st, fmt.Errorf("freeze: canvas %d: %w", p.Original, err)
		}
		box, err := doc.Rect(ctx, p.Original)
		if err != nil {
			return st, fmt.Errorf("freeze: canvas %d: measure: %w", p.Original, err)
		}
		if _, err := doc.Substitute(ctx, p.Clone, dom.Image{Src: data, Width: box.Width, Height: box.Height}); err != nil {
			return st, fmt.Errorf("freeze: canvas %d: substitute: %w", p.Clone, err)
		}
		st.Canvases++
	}

	for _, p := range svgs {
		markup, err := doc.SVGMarkup(ctx, p.Original)
		if err != nil {
			return st, fmt.Errorf("freeze: svg %d: %w", p.Original, err)
		}
		box, err := doc.Rect(ctx, p.Original)
		if err != nil {
			return st, fmt.Errorf("freeze: svg %d: measure: %w", p.Original, err)
		}
		img := dom.Image{Src: SVGDataURL(markup), Width: box.Width, Height: box.Height}
		if _, err := doc.Substitute(ctx, p.Clone, img); err != nil {
			return st, fmt.Errorf("freeze: svg %d: substitute: %w", p.Clone, err)
		}
		st.SVGs++
	}

	f.logger.Debug("freeze: done", "canvases", st.Canvases, "svgs", st.SVGs, "skipped", st.Skipped)
	return st, nil
}

// checkCorrespondence compares the live original with the pairs captured at
// clone time. The pairs stay authoritative; a difference means the region
// changed structure while the operation was running.
func (f *Freezer) checkCorrespondence(ctx context.Context, doc dom.Document, target dom.Handle, k dom.Kind, paired int) {
	live, err := doc.Query(ctx, target, k)
	if err != nil {
		f.logger.Debug("freeze: live query failed", "kind", k.String(), "error", err)
		return
	}
	if len(live) != paired {
		f.logger.Warn("freeze: original and clone disagree",
			"kind", k.String(), "original", len(live), "clone", paired)
	}
}

const svgNS = `xmlns="http://www.w3.org/2000/svg"`

// SVGDataURL encodes serialised svg markup as a self-contained data URL.
// The namespace is added when missing so the image decoder accepts it.
func SVGDataURL(markup string) string {
	m := strings.TrimSpace(markup)
	if strings.HasPrefix(m, "<svg") && !strings.Contains(m[:strings.IndexByte(m, '>')+1], "xmlns=") {
		m = "<svg " + svgNS + m[len("<svg"):]
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(m))
}
