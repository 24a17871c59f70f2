package snapexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/snapexport/auditlog"
	"github.com/hazyhaar/snapexport/idgen"
	"github.com/hazyhaar/snapexport/kit"
	"github.com/hazyhaar/snapexport/snapexport/internal/artifact"
	"github.com/hazyhaar/snapexport/snapexport/internal/clone"
	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
	"github.com/hazyhaar/snapexport/snapexport/internal/freeze"
	"github.com/hazyhaar/snapexport/snapexport/internal/lifecycle"
	"github.com/hazyhaar/snapexport/snapexport/internal/notify"
	"github.com/hazyhaar/snapexport/snapexport/internal/overlay"
	"github.com/hazyhaar/snapexport/snapexport/internal/pdfpack"
	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
)

// binder yields the document view and rasterizer of one operation. The
// operation ID namespaces whatever state the view keeps on the page.
type binder interface {
	Bind(opID string) (dom.Document, raster.Rasterizer)
}

// pipeline holds everything an export needs that outlives a page.
type pipeline struct {
	region     string
	name       string
	scale      float64
	background string
	offset     float64
	page       pdfpack.Page

	suppressor *overlay.Suppressor
	freezer    *freeze.Freezer
	pdf        *pdfpack.Writer
	dir        *artifact.Dir
	notifier   notify.Notifier
	audit      *auditlog.Log
	newOpID    idgen.Generator
	logger     *slog.Logger
}

func newPipeline(cfg *Config, dir *artifact.Dir, n notify.Notifier, audit *auditlog.Log, logger *slog.Logger) *pipeline {
	ov := overlay.Config{Logger: logger}
	if len(cfg.Overlay.Roles) > 0 || len(cfg.Overlay.ClassPrefixes) > 0 {
		roles, prefixes := cfg.Overlay.Roles, cfg.Overlay.ClassPrefixes
		if len(roles) == 0 {
			roles = overlay.DefaultRoles
		}
		if len(prefixes) == 0 {
			prefixes = overlay.DefaultClassPrefixes
		}
		ov.Denylist = overlay.Denylist(roles, prefixes)
	}
	ov.Heuristic = overlay.Heuristic(cfg.Overlay.AlphaThreshold)

	if n == nil {
		n = notify.NewRouter(logger)
	}
	return &pipeline{
		region:     cfg.Export.Region,
		name:       cfg.Export.Name,
		scale:      cfg.Export.Scale,
		background: cfg.Export.Background,
		offset:     cfg.Export.OffscreenGap,
		page: pdfpack.Page{
			Width:       cfg.Page.Width,
			Height:      cfg.Page.Height,
			Margin:      cfg.Page.Margin,
			PixelToUnit: cfg.Page.PixelToUnit,
		},
		suppressor: overlay.New(ov),
		freezer:    freeze.New(logger),
		pdf:        pdfpack.NewWriter(logger),
		dir:        dir,
		notifier:   n,
		audit:      audit,
		newOpID:    idgen.Operation,
		logger:     logger,
	}
}

// normalize fills defaults and validates req.
func (p *pipeline) normalize(req Request) (Request, error) {
	if req.RegionID == "" {
		req.RegionID = p.region
	}
	if req.BaseName == "" {
		req.BaseName = p.name
	}
	if req.Kind != KindRaster && req.Kind != KindDocument {
		return req, fmt.Errorf("%w: kind %d", ErrInvalidRequest, req.Kind)
	}
	if err := artifact.ValidateName(req.BaseName); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, nil
}

// Session exports regions of one page. Exports on a session are
// serialised: a second export waits until the first has cleaned up.
// Sessions the Exporter opens on the same page share that guard.
type Session struct {
	p       *pipeline
	binder  binder
	pageURL string
	guard   chan struct{}
	onClose func() error
}

func newSession(p *pipeline, b binder, pageURL string, onClose func() error) *Session {
	return &Session{p: p, binder: b, pageURL: pageURL, guard: make(chan struct{}, 1), onClose: onClose}
}

// URL is the page the session works on.
func (s *Session) URL() string { return s.pageURL }

// Close releases the page. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.onClose == nil {
		return nil
	}
	fn := s.onClose
	s.onClose = nil
	return fn()
}

// ExportRaster writes {baseName}.png.
func (s *Session) ExportRaster(ctx context.Context, regionID, baseName string) (*Result, error) {
	return s.Export(ctx, Request{RegionID: regionID, BaseName: baseName, Kind: KindRaster})
}

// ExportDocument writes {baseName}.pdf.
func (s *Session) ExportDocument(ctx context.Context, regionID, baseName string) (*Result, error) {
	return s.Export(ctx, Request{RegionID: regionID, BaseName: baseName, Kind: KindDocument})
}

// Export runs one export. Empty region and name fall back to the
// configured defaults. Every failure is reported to the notifiers once.
func (s *Session) Export(ctx context.Context, req Request) (*Result, error) {
	p := s.p
	start := time.Now()
	res := &Result{Kind: req.Kind.String()}

	req, err := p.normalize(req)
	if err != nil {
		p.finish(ctx, s.pageURL, req, res, start, err)
		return nil, err
	}

	select {
	case s.guard <- struct{}{}:
	default:
		select {
		case s.guard <- struct{}{}:
		case <-ctx.Done():
			err := fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
			p.finish(ctx, s.pageURL, req, res, start, err)
			return nil, err
		}
	}
	defer func() { <-s.guard }()

	res.OpID = p.newOpID()
	doc, rz := s.binder.Bind(res.OpID)
	err = p.run(ctx, doc, rz, req, res)
	p.finish(ctx, s.pageURL, req, res, start, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// run is one export from lookup to artifact. The start notice goes out
// once the region is found. Page mutations are undone before the artifact
// is written, and on every error path.
func (p *pipeline) run(ctx context.Context, doc dom.Document, rz raster.Rasterizer, req Request, res *Result) error {
	log := p.logger.With("op_id", res.OpID, "kind", res.Kind, "region", req.RegionID)

	scope := lifecycle.New(log)
	defer func() {
		if err := scope.Close(ctx); err != nil {
			log.Warn("snapexport: cleanup incomplete", "error", err)
		}
	}()
	scope.Defer(ctx, "release registry", doc.Release)

	target, err := doc.Lookup(ctx, req.RegionID)
	if errors.Is(err, dom.ErrNotFound) {
		return fmt.Errorf("%w: #%s", ErrTargetNotFound, req.RegionID)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreparation, err)
	}
	p.notify(ctx, notify.Notice{
		Severity: notify.Info,
		Message:  startMessage(req.Kind),
		OpID:     res.OpID,
		Kind:     res.Kind,
		Region:   req.RegionID,
		Name:     req.BaseName,
	})

	sup := p.suppressor.Suppress(ctx, doc, target)
	scope.Defer(ctx, "restore overlays", sup.Restore)
	res.Overlays = sup.Len()

	cc, err := clone.Build(ctx, doc, target, p.offset)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreparation, err)
	}
	scope.Defer(ctx, "detach container", func(ctx context.Context) error {
		return doc.Unmount(ctx, cc.Container)
	})

	if err := clone.Inline(ctx, doc, cc, p.background); err != nil {
		return fmt.Errorf("%w: %w", ErrPreparation, err)
	}

	st, err := p.freezer.Freeze(ctx, doc, cc)
	res.Canvases, res.SVGs, res.Skipped = st.Canvases, st.SVGs, st.Skipped
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreparation, err)
	}

	w, h := cc.PixelSize(p.scale)
	bmp, err := rz.Rasterize(ctx, cc.Root, w, h)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRasterization, err)
	}
	res.Width, res.Height = bmp.Width, bmp.Height
	log.Debug("snapexport: rasterized", "width", w, "height", h, "overlays", res.Overlays)

	if err := scope.Close(ctx); err != nil {
		log.Warn("snapexport: cleanup incomplete", "error", err)
	}

	dir := p.dir
	if req.isolated {
		if dir, err = p.dir.Sub(res.OpID); err != nil {
			return fmt.Errorf("%w: %w", ErrPackaging, err)
		}
	}
	switch req.Kind {
	case KindDocument:
		err = p.writeDocument(dir, req, bmp, res)
	default:
		res.Path, err = dir.Write(req.BaseName, req.Kind.Ext(), bmp.EncodePNG)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	return nil
}

func (p *pipeline) writeDocument(dir *artifact.Dir, req Request, bmp *raster.Bitmap, res *Result) error {
	l, err := pdfpack.Fit(bmp.Width, bmp.Height, p.page)
	if err != nil {
		return err
	}
	res.Layout = &l

	data, err := bmp.PNG()
	if err != nil {
		return err
	}
	res.Path, err = dir.Write(req.BaseName, req.Kind.Ext(), func(w io.Writer) error {
		return p.pdf.Write(w, data, bmp.Width, l)
	})
	return err
}

// finish emits the outcome notice and audit row.
func (p *pipeline) finish(ctx context.Context, pageURL string, req Request, res *Result, start time.Time, err error) {
	res.Duration = time.Since(start)

	n := notify.Notice{
		OpID:   res.OpID,
		Kind:   req.Kind.String(),
		Region: req.RegionID,
		Name:   req.BaseName,
	}
	if err != nil {
		n.Severity = notify.Error
		n.Message = failureMessage(req.Kind, err)
		n.Error = err.Error()
		p.logger.Warn("snapexport: export failed", "op_id", res.OpID, "kind", res.Kind, "error", err)
	} else {
		n.Severity = notify.Success
		n.Message = successMessage(req.Kind)
		n.Path = res.Path
		p.logger.Info("snapexport: export done", "op_id", res.OpID, "kind", res.Kind,
			"path", res.Path, "duration", res.Duration)
	}
	p.notify(ctx, n)

	ev := auditlog.Event{
		OpID:      res.OpID,
		Kind:      res.Kind,
		Region:    req.RegionID,
		Name:      req.BaseName,
		PageURL:   pageURL,
		Path:      res.Path,
		Success:   err == nil,
		Overlays:  res.Overlays,
		Canvases:  res.Canvases,
		SVGs:      res.SVGs,
		Skipped:   res.Skipped,
		Width:     res.Width,
		Height:    res.Height,
		Duration:  res.Duration,
		Transport: kit.GetTransport(ctx),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.audit.Record(ctx, ev)
}

func (p *pipeline) notify(ctx context.Context, n notify.Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		p.logger.Debug("snapexport: notice not delivered", "error", err)
	}
}
