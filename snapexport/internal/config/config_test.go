package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Export.Region != "poll-detail" || c.Export.Name != "poll-results" {
		t.Errorf("export defaults: got %q / %q", c.Export.Region, c.Export.Name)
	}
	if c.Export.Scale != 2 || c.Export.Background != "#ffffff" {
		t.Errorf("capture defaults: got %v / %q", c.Export.Scale, c.Export.Background)
	}
	if c.Page.Width != 210 || c.Page.Height != 297 || c.Page.Margin != 10 || c.Page.PixelToUnit != 0.264583 {
		t.Errorf("page defaults: got %+v", c.Page)
	}
	if c.Overlay.AlphaThreshold != 0.05 {
		t.Errorf("alpha threshold: got %v", c.Overlay.AlphaThreshold)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapexport.yaml")
	data := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  navigate_timeout: 5s
  headers:
    Authorization: Bearer abc
export:
  output_dir: /tmp/out
  scale: 3
page:
  margin: 15
notify:
  - type: webhook
    url: http://hooks.local/export
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Browser.NavigateTimeout != 5*time.Second {
		t.Errorf("navigate_timeout: got %v", c.Browser.NavigateTimeout)
	}
	if c.Browser.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers: got %v", c.Browser.Headers)
	}
	if c.Export.Scale != 3 || c.Export.Region != "poll-detail" {
		t.Errorf("export: got %+v", c.Export)
	}
	if c.Page.Margin != 15 || c.Page.Width != 210 {
		t.Errorf("page: got %+v", c.Page)
	}
	if len(c.Notify) != 1 || c.Notify[0].Retries != 3 {
		t.Errorf("notify: got %+v", c.Notify)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"webhook without url": "notify:\n  - type: webhook\n",
		"unknown notifier":    "notify:\n  - type: nats\n",
		"unknown mode":        "browser:\n  mode: turbo\n",
		"bad yaml":            "export: [",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
