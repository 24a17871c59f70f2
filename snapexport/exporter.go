package snapexport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/snapexport/auditlog"
	"github.com/hazyhaar/snapexport/dbopen"
	"github.com/hazyhaar/snapexport/snapexport/internal/artifact"
	"github.com/hazyhaar/snapexport/snapexport/internal/browser"
	"github.com/hazyhaar/snapexport/snapexport/internal/cdp"
	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
	"github.com/hazyhaar/snapexport/snapexport/internal/notify"
	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
	"github.com/hazyhaar/snapexport/snapexport/internal/safeurl"
)

// Exporter is the top-level orchestrator. It owns the browser, the
// artifact directory, the notifiers and the optional audit log.
type Exporter struct {
	cfg    *Config
	mgr    *browser.Manager
	pipe   *pipeline
	router *notify.Router
	db     *sql.DB
	audit  *auditlog.Log
	urls   safeurl.Checker
	logger *slog.Logger

	// open creates a session on a fresh tab. Replaced in tests.
	open func(ctx context.Context, pageURL string) (*Session, error)

	mu     sync.Mutex
	guards map[string]*pageGuard
}

// pageGuard is the in-flight guard shared by every session on one page.
type pageGuard struct {
	ch   chan struct{}
	refs int
}

// New creates an Exporter from configuration. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, notifiers ...Notifier) (*Exporter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := artifact.NewDir(cfg.Export.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("snapexport: output dir: %w", err)
	}

	e := &Exporter{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:       cfg.Browser.Remote,
			MemoryLimit:     cfg.Browser.MemoryLimit,
			RecycleInterval: cfg.Browser.RecycleInterval,
			Block:           cfg.Browser.Block,
			Headers:         cfg.Browser.Headers,
			ViewportWidth:   cfg.Browser.ViewportWidth,
			ViewportHeight:  cfg.Browser.ViewportHeight,
			NavigateTimeout: cfg.Browser.NavigateTimeout,
			Mode:            browser.ParseMode(cfg.Browser.Mode),
			XvfbDisplay:     cfg.Browser.XvfbDisplay,
			Logger:          logger,
		}),
		router: notify.NewRouter(logger, notifiers...),
		urls:   safeurl.Checker{AllowPrivate: cfg.Export.AllowPrivate},
		logger: logger,
		guards: make(map[string]*pageGuard),
	}

	if cfg.Audit.Path != "" {
		db, err := dbopen.Open(cfg.Audit.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(auditlog.Schema))
		if err != nil {
			return nil, fmt.Errorf("snapexport: audit log: %w", err)
		}
		e.db = db
		e.audit = auditlog.New(db, auditlog.WithLogger(logger))
	}

	e.pipe = newPipeline(cfg, dir, e.router, e.audit, logger)
	e.open = e.openTab
	return e, nil
}

// Start launches Chrome, or connects to the configured remote instance.
func (e *Exporter) Start(ctx context.Context) error {
	if _, err := e.mgr.Start(ctx); err != nil {
		return fmt.Errorf("snapexport: start browser: %w", err)
	}
	return nil
}

// Open navigates a new tab to pageURL and returns a session on it.
// Closing the session closes the tab.
func (e *Exporter) Open(ctx context.Context, pageURL string) (*Session, error) {
	return e.open(ctx, pageURL)
}

func (e *Exporter) openTab(ctx context.Context, pageURL string) (*Session, error) {
	tab, err := browser.OpenTab(ctx, e.mgr, pageURL)
	if err != nil {
		return nil, fmt.Errorf("snapexport: %w", err)
	}
	return e.pageSession(string(tab.Page.TargetID), tabBinder{page: tab.Page, logger: e.logger}, tab.PageURL, tab.Close), nil
}

// pageSession returns a session whose exports are serialised with every
// other open session on the page identified by key.
func (e *Exporter) pageSession(key string, b binder, pageURL string, onClose func() error) *Session {
	e.mu.Lock()
	g := e.guards[key]
	if g == nil {
		g = &pageGuard{ch: make(chan struct{}, 1)}
		e.guards[key] = g
	}
	g.refs++
	e.mu.Unlock()

	s := newSession(e.pipe, b, pageURL, func() error {
		e.mu.Lock()
		if g.refs--; g.refs == 0 {
			delete(e.guards, key)
		}
		e.mu.Unlock()
		if onClose != nil {
			return onClose()
		}
		return nil
	})
	s.guard = g.ch
	return s
}

// Attach returns a session on an already open page whose URL starts with
// urlPrefix. Closing the session leaves the page open. Sessions attached
// to the same page share one in-flight guard.
func (e *Exporter) Attach(ctx context.Context, urlPrefix string) (*Session, error) {
	tab, err := browser.AttachTab(ctx, e.mgr, urlPrefix)
	if err != nil {
		return nil, fmt.Errorf("snapexport: %w", err)
	}
	return e.pageSession(string(tab.Page.TargetID), tabBinder{page: tab.Page, logger: e.logger}, tab.PageURL, tab.Close), nil
}

// ExportURL opens pageURL, runs one export and closes the tab.
func (e *Exporter) ExportURL(ctx context.Context, pageURL string, req Request) (*Result, error) {
	s, err := e.Open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			e.logger.Debug("snapexport: close session", "url", pageURL, "error", err)
		}
	}()
	return s.Export(ctx, req)
}

// exportRemote is ExportURL for the HTTP and MCP triggers: the URL must
// pass the safety check first.
func (e *Exporter) exportRemote(ctx context.Context, pageURL string, req Request) (*Result, error) {
	u, err := e.urls.Check(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.isolated = true
	return e.ExportURL(ctx, u.String(), req)
}

// Recent lists the latest audited exports, newest first.
func (e *Exporter) Recent(ctx context.Context, limit int) ([]auditlog.Event, error) {
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.Recent(ctx, limit)
}

// Close stops the browser and flushes notifiers.
func (e *Exporter) Close() error {
	var errs []error
	if err := e.router.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// tabBinder binds operations to a Chrome tab.
type tabBinder struct {
	page   *rod.Page
	logger *slog.Logger
}

func (b tabBinder) Bind(opID string) (dom.Document, raster.Rasterizer) {
	doc := cdp.NewDocument(b.page, opID)
	return doc, cdp.NewRasterizer(doc, b.logger)
}
