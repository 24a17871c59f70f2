// CLAUDE:SUMMARY Public export API: request/result types, sentinel errors, notice wording for raster (PNG) and document (PDF) exports.
// Package snapexport captures one rendered region of a live page as a 2x
// PNG and as a single-page A4 PDF.
//
// The page keeps running: overlays are hidden for the duration of an
// export and restored afterwards, the region is deep-cloned off-screen
// with its computed styles inlined, canvases and inline SVGs are frozen
// into images, and the clone is rasterized by Chrome. Every export undoes
// its page mutations on every exit path.
package snapexport

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/snapexport/snapexport/internal/pdfpack"
)

var (
	// ErrTargetNotFound is returned when the region id matches no element.
	// Nothing on the page has been touched.
	ErrTargetNotFound = errors.New("snapexport: target not found")

	// ErrPreparation wraps page failures while cloning, inlining or freezing.
	ErrPreparation = errors.New("snapexport: preparation failed")

	// ErrRasterization wraps rasterizer failures.
	ErrRasterization = errors.New("snapexport: rasterization failed")

	// ErrPackaging wraps layout, encoding and artifact write failures.
	ErrPackaging = errors.New("snapexport: packaging failed")

	// ErrBusy is returned when the context ends while another export holds
	// the session.
	ErrBusy = errors.New("snapexport: session busy")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("snapexport: invalid request")
)

// Kind selects the artifact.
type Kind int

const (
	KindRaster   Kind = iota // {name}.png
	KindDocument             // {name}.pdf
)

// ParseKind maps "png"/"raster" and "pdf"/"document" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "png", "raster", "image":
		return KindRaster, nil
	case "pdf", "document":
		return KindDocument, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, s)
}

func (k Kind) String() string {
	if k == KindDocument {
		return "pdf"
	}
	return "png"
}

// Ext is the artifact file extension.
func (k Kind) Ext() string { return "." + k.String() }

// Request is one export trigger.
type Request struct {
	RegionID string `json:"region"`
	BaseName string `json:"name"`
	Kind     Kind   `json:"-"`

	// isolated writes the artifact under a directory named after the
	// operation, so concurrent remote callers never share a file.
	isolated bool
}

// Result describes a finished export.
type Result struct {
	OpID     string          `json:"op_id"`
	Kind     string          `json:"kind"`
	Path     string          `json:"path"`
	Width    int             `json:"width_px"`
	Height   int             `json:"height_px"`
	Overlays int             `json:"overlays"`
	Canvases int             `json:"canvases"`
	SVGs     int             `json:"svgs"`
	Skipped  int             `json:"skipped"`
	Layout   *pdfpack.Layout `json:"layout,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Notice wording.
func startMessage(k Kind) string {
	if k == KindDocument {
		return "Generating PDF..."
	}
	return "Generating image..."
}

func successMessage(k Kind) string {
	if k == KindDocument {
		return "PDF downloaded"
	}
	return "PNG downloaded"
}

func failureMessage(k Kind, err error) string {
	if errors.Is(err, ErrTargetNotFound) {
		return "Element not found!"
	}
	if k == KindDocument {
		return "PDF export failed: " + err.Error()
	}
	return "PNG export failed: " + err.Error()
}
