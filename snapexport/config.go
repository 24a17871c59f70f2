package snapexport

import (
	"github.com/hazyhaar/snapexport/snapexport/internal/config"
)

// Config is the top-level snapexport configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// ExportConfig controls capture and artifacts.
type ExportConfig = config.ExportConfig

// OverlayConfig tunes overlay suppression.
type OverlayConfig = config.OverlayConfig

// PageConfig is the document page geometry.
type PageConfig = config.PageConfig

// NotifyConfig defines a notification backend.
type NotifyConfig = config.NotifyConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
