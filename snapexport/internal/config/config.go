// CLAUDE:SUMMARY Defines snapexport config structs and parses YAML configuration files with defaults.
// Package config handles snapexport configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig  `yaml:"browser"`
	Export  ExportConfig   `yaml:"export"`
	Overlay OverlayConfig  `yaml:"overlay"`
	Page    PageConfig     `yaml:"page"`
	Notify  []NotifyConfig `yaml:"notify"`
	Audit   AuditConfig    `yaml:"audit"`
	HTTP    HTTPConfig     `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle and the tabs opened for exports.
type BrowserConfig struct {
	Remote          string            `yaml:"remote"`
	Mode            string            `yaml:"mode"` // headless | headful | plain
	MemoryLimit     int64             `yaml:"memory_limit"`
	RecycleInterval time.Duration     `yaml:"recycle_interval"`
	Block           []string          `yaml:"block"`
	Headers         map[string]string `yaml:"headers"`
	ViewportWidth   int               `yaml:"viewport_width"`
	ViewportHeight  int               `yaml:"viewport_height"`
	NavigateTimeout time.Duration     `yaml:"navigate_timeout"`
	XvfbDisplay     string            `yaml:"xvfb_display"`
}

// ExportConfig controls capture and artifacts.
type ExportConfig struct {
	OutputDir    string  `yaml:"output_dir"`
	Region       string  `yaml:"region"`
	Name         string  `yaml:"name"`
	Scale        float64 `yaml:"scale"`
	Background   string  `yaml:"background"`
	OffscreenGap float64 `yaml:"offscreen_gap"`
	// AllowPrivate lets the HTTP and MCP triggers open loopback and
	// private network URLs.
	AllowPrivate bool `yaml:"allow_private"`
}

// OverlayConfig tunes overlay suppression.
type OverlayConfig struct {
	Roles          []string `yaml:"roles"`
	ClassPrefixes  []string `yaml:"class_prefixes"`
	AlphaThreshold float64  `yaml:"alpha_threshold"`
}

// PageConfig is the document page in millimetres.
type PageConfig struct {
	Width       float64 `yaml:"width"`
	Height      float64 `yaml:"height"`
	Margin      float64 `yaml:"margin"`
	PixelToUnit float64 `yaml:"pixel_to_unit"`
}

// NotifyConfig defines a notification backend.
type NotifyConfig struct {
	Type    string            `yaml:"type"` // stdout | webhook
	URL     string            `yaml:"url"`  // for webhook
	Headers map[string]string `yaml:"headers"`
	Retries int               `yaml:"retries"`
}

// AuditConfig enables the SQLite export log. Empty path disables it.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig controls the HTTP trigger.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the number of exports per client and minute.
	// Negative disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1440
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 900
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "."
	}
	if c.Export.Region == "" {
		c.Export.Region = "poll-detail"
	}
	if c.Export.Name == "" {
		c.Export.Name = "poll-results"
	}
	if c.Export.Scale <= 0 {
		c.Export.Scale = 2
	}
	if c.Export.Background == "" {
		c.Export.Background = "#ffffff"
	}
	if c.Export.OffscreenGap <= 0 {
		c.Export.OffscreenGap = 10000
	}
	if c.Overlay.AlphaThreshold <= 0 {
		c.Overlay.AlphaThreshold = 0.05
	}
	if c.Page.Width <= 0 {
		c.Page.Width = 210
	}
	if c.Page.Height <= 0 {
		c.Page.Height = 297
	}
	if c.Page.Margin == 0 {
		c.Page.Margin = 10
	}
	if c.Page.PixelToUnit <= 0 {
		c.Page.PixelToUnit = 0.264583
	}
	for i := range c.Notify {
		if c.Notify[i].Type == "" {
			c.Notify[i].Type = "stdout"
		}
		if c.Notify[i].Retries <= 0 {
			c.Notify[i].Retries = 3
		}
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 10
	}
}

func (c *Config) validate() error {
	for i, n := range c.Notify {
		switch n.Type {
		case "stdout":
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("config: notify[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: notify[%d]: unknown type %q", i, n.Type)
		}
	}
	switch c.Browser.Mode {
	case "headless", "headful", "plain":
	default:
		return fmt.Errorf("config: browser.mode: unknown mode %q", c.Browser.Mode)
	}
	return nil
}
