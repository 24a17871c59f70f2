package cdp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
)

// Rasterizer captures prepared clones with Page.captureScreenshot.
//
// The off-screen container is moved into the capture frame for the duration
// of one screenshot and parked again afterwards. Captures use a document
// clip and captureBeyondViewport, so the viewport size does not matter.
type Rasterizer struct {
	doc    *Document
	logger *slog.Logger
}

// NewRasterizer binds a rasterizer to the document of one operation.
func NewRasterizer(doc *Document, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{doc: doc, logger: logger}
}

// stageScript brings the container holding the element to the page origin,
// waits for pending image decodes and two animation frames, then reports the
// element box in document coordinates.
const stageScript = `
	const el = get(args[0]);
	const box = el.closest('[data-snapexport]') || el;
	R.parked = {
		left: [box.style.getPropertyValue('left'), box.style.getPropertyPriority('left')],
		z: [box.style.getPropertyValue('z-index'), box.style.getPropertyPriority('z-index')],
	};
	box.style.setProperty('left', '0px', 'important');
	box.style.setProperty('z-index', '2147483647', 'important');
	await Promise.all(Array.from(box.querySelectorAll('img')).map((i) => i.decode().catch(() => {})));
	await new Promise((r) => requestAnimationFrame(() => requestAnimationFrame(r)));
	const b = el.getBoundingClientRect();
	return JSON.stringify({x: b.left + window.scrollX, y: b.top + window.scrollY, width: b.width, height: b.height});`

const unstageScript = `
	const el = get(args[0]);
	const box = el.closest('[data-snapexport]') || el;
	const p = R.parked;
	if (!p) return false;
	const put = (prop, v) => v[0] ? box.style.setProperty(prop, v[0], v[1]) : box.style.removeProperty(prop);
	put('left', p.left);
	put('z-index', p.z);
	delete R.parked;
	return true;`

// Rasterize captures h at width x height device pixels.
func (r *Rasterizer) Rasterize(ctx context.Context, h dom.Handle, width, height int) (*raster.Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, raster.ErrEmpty
	}

	var box dom.Rect
	if err := r.doc.evalJSON(ctx, &box, stageScript, int(h)); err != nil {
		return nil, fmt.Errorf("cdp: stage %d: %w", h, err)
	}
	defer func() {
		if _, err := r.doc.eval(context.WithoutCancel(ctx), unstageScript, int(h)); err != nil {
			r.logger.Warn("cdp: unstage failed", "handle", int(h), "error", err)
		}
	}()
	if box.Width <= 0 {
		return nil, fmt.Errorf("cdp: element %d has no width after staging", h)
	}

	scale := float64(width) / box.Width
	shot, err := proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      box.X,
			Y:      box.Y,
			Width:  box.Width,
			Height: float64(height) / scale,
			Scale:  scale,
		},
		FromSurface:           true,
		CaptureBeyondViewport: true,
	}.Call(r.doc.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("cdp: capture: %w", err)
	}

	bmp, err := raster.Decode(bytes.NewReader(shot.Data))
	if err != nil {
		return nil, err
	}
	if bmp.Width != width || bmp.Height != height {
		r.logger.Debug("cdp: resampling capture",
			"got_w", bmp.Width, "got_h", bmp.Height, "want_w", width, "want_h", height)
	}
	return bmp.Resample(width, height), nil
}

var _ raster.Rasterizer = (*Rasterizer)(nil)
