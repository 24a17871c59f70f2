// CLAUDE:SUMMARY Owns the Chrome process used for exports: launch or remote connect, heap/age recycling, Xvfb for headful mode.
// Package browser owns the Chrome instance used by exports: launch or
// connect via Rod, watch memory, recycle on age or heap size.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode selects how Chrome is run.
type Mode int

const (
	ModeHeadless Mode = iota // Rod headless + stealth
	ModeHeadful              // Rod headful on Xvfb
	ModePlain                // headless, no stealth patches
)

// ParseMode maps a config string to a Mode. Unknown values are headless.
func ParseMode(s string) Mode {
	switch s {
	case "headful":
		return ModeHeadful
	case "plain":
		return ModePlain
	default:
		return ModeHeadless
	}
}

func (m Mode) String() string {
	switch m {
	case ModeHeadful:
		return "headful"
	case ModePlain:
		return "plain"
	default:
		return "headless"
	}
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// MemoryLimit in bytes of JS heap before a recycle. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a launched Chrome. Default: 4h.
	RecycleInterval time.Duration

	// Block lists resource types refused on opened tabs
	// (images, fonts, media, stylesheets or raw CDP type names).
	Block []string

	// Headers are sent with every request of opened tabs.
	Headers map[string]string

	// ViewportWidth/Height of opened tabs. Default: 1440x900.
	ViewportWidth  int
	ViewportHeight int

	// NavigateTimeout bounds navigation of opened tabs. Default: 30s.
	NavigateTimeout time.Duration

	Mode Mode

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1440
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 900
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the Chrome lifecycle. Recycling is skipped while a
// caller holds the browser through Acquire.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	busy    int
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to the remote instance) and starts
// the monitor goroutine, which stops with ctx.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	if m.cfg.RemoteURL == "" {
		go m.monitorLoop(ctx)
	}
	return b, nil
}

// Browser returns the current browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Acquire marks the browser as in use; the returned func releases it.
func (m *Manager) Acquire() func() {
	m.mu.Lock()
	m.busy++
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.busy--
			m.mu.Unlock()
		})
	}
}

// Recycle kills Chrome and starts a new one.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	return m.recycleLocked()
}

// Close shuts down Chrome and Xvfb. A remote Chrome is only disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if m.cfg.Mode == ModeHeadful {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}

		l := launcher.New()
		if m.cfg.Mode == ModeHeadful {
			l = l.Headless(false).Env("DISPLAY="+m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("hide-scrollbars")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode.String())
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() error {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	if err := m.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	log.Info("browser: recycled")
	return nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		// A remote Chrome belongs to someone else: leave it running.
		if m.cfg.RemoteURL == "" {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.closed || m.browser == nil {
			m.mu.Unlock()
			return
		}
		if m.busy > 0 {
			m.mu.Unlock()
			continue
		}

		if time.Since(m.startAt) > m.cfg.RecycleInterval {
			log.Info("browser: recycle interval reached")
			if err := m.recycleLocked(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
			m.mu.Unlock()
			continue
		}

		used, err := heapUsage(m.browser)
		if err != nil {
			log.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			if err := m.recycleLocked(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
		}
		m.mu.Unlock()
	}
}

// heapUsage sums the JS heap of all open pages.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
