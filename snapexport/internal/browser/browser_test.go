package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestRequestPolicy_Aliases(t *testing.T) {
	p := NewRequestPolicy([]string{"Images", " fonts", "media", ""})
	cases := []struct {
		typ  proto.NetworkResourceType
		want bool
	}{
		{proto.NetworkResourceTypeImage, true},
		{proto.NetworkResourceTypeFont, true},
		{proto.NetworkResourceTypeMedia, true},
		{proto.NetworkResourceTypeStylesheet, false},
		{proto.NetworkResourceTypeDocument, false},
		{proto.NetworkResourceTypeScript, false},
	}
	for _, c := range cases {
		if got := p.Blocks(c.typ); got != c.want {
			t.Errorf("Blocks(%s): got %v, want %v", c.typ, got, c.want)
		}
	}
	if NewRequestPolicy(nil).Empty() != true {
		t.Error("nil list should give an empty policy")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"headful": ModeHeadful,
		"plain":   ModePlain,
		"":        ModeHeadless,
		"bogus":   ModeHeadless,
	} {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.MemoryLimit != 1<<30 || c.RecycleInterval != 4*time.Hour {
		t.Errorf("limits: got %d / %v", c.MemoryLimit, c.RecycleInterval)
	}
	if c.ViewportWidth != 1440 || c.ViewportHeight != 900 {
		t.Errorf("viewport: got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.Logger == nil {
		t.Error("Logger should default to slog.Default()")
	}
}

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager(Config{})
	r1 := m.Acquire()
	r2 := m.Acquire()
	r1()
	r1() // second call is a no-op
	if m.busy != 1 {
		t.Fatalf("busy: got %d, want 1", m.busy)
	}
	r2()
	if m.busy != 0 {
		t.Fatalf("busy: got %d, want 0", m.busy)
	}
}

func TestManager_ClosedRefusesStart(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Start(t.Context()); err == nil {
		t.Fatal("Start after Close should fail")
	}
	if m.Browser() != nil {
		t.Error("no browser expected")
	}
}
