package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a page an export session works on. Tabs opened by the manager are
// closed with the session; attached tabs are left alone.
type Tab struct {
	Page    *rod.Page
	PageURL string
	owned   bool
	release func()
	restore []func()
}

// OpenTab creates a tab, applies stealth, headers and blocking, then
// navigates to pageURL and waits for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	cfg := mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Mode == ModePlain {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, PageURL: pageURL, owned: true, release: mgr.Acquire()}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		cfg.Logger.Warn("browser: set viewport failed", "error", err)
	}

	if len(cfg.Headers) > 0 {
		kv := make([]string, 0, 2*len(cfg.Headers))
		for k, v := range cfg.Headers {
			kv = append(kv, k, v)
		}
		undo, err := page.SetExtraHeaders(kv)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("browser: extra headers: %w", err)
		}
		t.restore = append(t.restore, undo)
	}

	if len(cfg.Block) > 0 {
		stop := applyRequestPolicy(page, NewRequestPolicy(cfg.Block), cfg.Logger)
		t.restore = append(t.restore, stop)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return t, nil
}

// AttachTab finds an existing page whose URL starts with urlPrefix.
// It is meant for a remote Chrome where a user is already on the page.
func AttachTab(ctx context.Context, mgr *Manager, urlPrefix string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, urlPrefix) {
			return &Tab{Page: p, PageURL: info.URL, release: mgr.Acquire()}, nil
		}
	}
	return nil, fmt.Errorf("browser: no page matches %q", urlPrefix)
}

// Owned reports whether closing the tab closes the page.
func (t *Tab) Owned() bool { return t.owned }

// Close undoes tab setup and closes the page if it was opened by OpenTab.
func (t *Tab) Close() error {
	for i := len(t.restore) - 1; i >= 0; i-- {
		t.restore[i]()
	}
	t.restore = nil
	if t.release != nil {
		t.release()
		t.release = nil
	}
	if t.owned && t.Page != nil {
		p := t.Page
		t.Page = nil
		return p.Close()
	}
	return nil
}
