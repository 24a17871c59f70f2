package snapexport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/snapexport/kit"
	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
	"github.com/hazyhaar/snapexport/snapexport/internal/dom/domtest"
	"github.com/hazyhaar/snapexport/snapexport/internal/pdfpack"
	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
)

// pollPage is a results page: a fixed translucent banner, the poll region
// with a chart canvas, and a footer.
type pollPage struct {
	doc    *domtest.Document
	target *domtest.Node
	chart  *domtest.Node
	banner *domtest.Node
	footer *domtest.Node
}

func newPollPage() *pollPage {
	p := &pollPage{}
	p.chart = domtest.El("canvas", domtest.Box(20, 60, 600, 300), domtest.Pixels("data:image/png;base64,CHART"))
	p.target = domtest.El("div", domtest.ID("poll-detail"), domtest.Box(0, 0, 800, 600),
		domtest.CSS("background-color", "rgb(255, 255, 255)"),
	).Append(domtest.El("h2"), p.chart, domtest.El("p"))
	p.banner = domtest.El("div",
		domtest.CSS("position", "fixed"),
		domtest.CSS("opacity", "0.5"),
		domtest.Inline("visibility", "visible", ""),
		domtest.Inline("pointer-events", "auto", "important"))
	p.footer = domtest.El("footer", domtest.CSS("background-color", "rgb(0, 0, 0)"))
	p.doc = domtest.New(p.banner, p.target, p.footer)
	return p
}

// fakeBinder hands out the same in-memory document for every operation.
type fakeBinder struct {
	doc *domtest.Document
	rz  raster.Rasterizer
	ops []string
}

func (b *fakeBinder) Bind(opID string) (dom.Document, raster.Rasterizer) {
	b.ops = append(b.ops, opID)
	return b.doc, b.rz
}

// attachedRasterizer returns a blank bitmap after checking the clone is
// mounted and the chart has been frozen.
func attachedRasterizer(t *testing.T, doc *domtest.Document) raster.Func {
	return func(_ context.Context, h dom.Handle, w, hh int) (*raster.Bitmap, error) {
		n := doc.Node(h)
		if n == nil || !doc.Attached(n) {
			t.Error("rasterizer: clone root is not attached")
			return nil, errors.New("detached")
		}
		if got := domtest.Count(n, "canvas"); got != 0 {
			t.Errorf("rasterizer: %d live canvases left in clone", got)
		}
		return raster.Blank(w, hh), nil
	}
}

type notices struct {
	mu   sync.Mutex
	list []Notice
}

func (ns *notices) notifier() Notifier {
	return NewCallbackNotifier(func(_ context.Context, n Notice) error {
		ns.mu.Lock()
		defer ns.mu.Unlock()
		ns.list = append(ns.list, n)
		return nil
	})
}

func (ns *notices) messages() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]string, len(ns.list))
	for i, n := range ns.list {
		out[i] = string(n.Severity) + ":" + n.Message
	}
	return out
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Export.OutputDir = t.TempDir()
	return cfg
}

func testExporter(t *testing.T, cfg *Config, ns ...Notifier) *Exporter {
	t.Helper()
	e, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), ns...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func testSession(e *Exporter, b binder) *Session {
	return newSession(e.pipe, b, "https://polls.example/p/7", nil)
}

func snapshot(nodes ...*domtest.Node) map[*domtest.Node]dom.Style {
	out := make(map[*domtest.Node]dom.Style, len(nodes))
	for _, n := range nodes {
		out[n] = n.Inline.Clone()
	}
	return out
}

func assertRestored(t *testing.T, before map[*domtest.Node]dom.Style) {
	t.Helper()
	for n, s := range before {
		if !n.Inline.Equal(s) {
			t.Errorf("%s inline style: got %q, want %q", n.Tag, n.Inline.String(), s.String())
		}
	}
}

func TestExportRaster_WritesPNGAndRestoresPage(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	before := snapshot(p.banner, p.target, p.chart, p.footer)
	var ns notices

	e := testExporter(t, testConfig(t), ns.notifier())
	b := &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)}
	res, err := testSession(e, b).ExportRaster(ctx, "", "")
	if err != nil {
		t.Fatalf("ExportRaster: %v", err)
	}

	if filepath.Base(res.Path) != "poll-results.png" {
		t.Errorf("path: got %q, want poll-results.png", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatal("artifact is not a PNG")
	}
	if res.Width != 1600 || res.Height != 1200 {
		t.Errorf("bitmap: got %dx%d, want 1600x1200", res.Width, res.Height)
	}
	if res.Canvases != 1 || res.SVGs != 0 {
		t.Errorf("frozen: got %d canvases, %d svgs", res.Canvases, res.SVGs)
	}
	if res.Overlays != 1 {
		t.Errorf("overlays: got %d, want 1 (banner)", res.Overlays)
	}
	if len(b.ops) != 1 || b.ops[0] != res.OpID {
		t.Errorf("bind: got %v, want [%s]", b.ops, res.OpID)
	}

	// Page left as found.
	assertRestored(t, before)
	if p.doc.Mounts != 1 || p.doc.Unmounts != 1 {
		t.Errorf("containers: %d mounted, %d unmounted", p.doc.Mounts, p.doc.Unmounts)
	}
	if p.doc.Releases != 1 {
		t.Errorf("releases: got %d, want 1", p.doc.Releases)
	}
	if len(p.doc.Body.Children) != 3 {
		t.Errorf("body children: got %d, want 3", len(p.doc.Body.Children))
	}
	if p.chart.Parent() != p.target {
		t.Error("live chart must stay in place")
	}

	want := []string{"info:Generating image...", "success:PNG downloaded"}
	if got := ns.messages(); !equalStrings(got, want) {
		t.Errorf("notices: got %v, want %v", got, want)
	}
}

func TestExportDocument_SinglePageLayout(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	var ns notices

	e := testExporter(t, testConfig(t), ns.notifier())
	res, err := testSession(e, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)}).
		ExportDocument(ctx, "poll-detail", "q3-results")
	if err != nil {
		t.Fatalf("ExportDocument: %v", err)
	}

	// 1600x1200 px on A4 with 10 mm margins: width-bound, no height rescale.
	l := res.Layout
	if l == nil {
		t.Fatal("Layout missing")
	}
	if math.Abs(l.Scale-0.449) > 0.001 {
		t.Errorf("scale: got %.4f, want ~0.449", l.Scale)
	}
	if math.Abs(l.Height-142.6) > 0.2 {
		t.Errorf("height: got %.2f, want ~142.6", l.Height)
	}
	if l.HeightBound {
		t.Error("no height-constrained rescale expected")
	}

	if filepath.Base(res.Path) != "q3-results.pdf" {
		t.Errorf("path: got %q", res.Path)
	}
	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	pctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if pctx.PageCount != 1 {
		t.Errorf("PageCount: got %d, want 1", pctx.PageCount)
	}

	want := []string{"info:Generating PDF...", "success:PDF downloaded"}
	if got := ns.messages(); !equalStrings(got, want) {
		t.Errorf("notices: got %v, want %v", got, want)
	}
}

func TestExport_TargetNotFoundTouchesNothing(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	before := snapshot(p.banner, p.target, p.footer)
	var ns notices
	called := false

	e := testExporter(t, testConfig(t), ns.notifier())
	rz := raster.Func(func(context.Context, dom.Handle, int, int) (*raster.Bitmap, error) {
		called = true
		return nil, errors.New("unexpected")
	})
	_, err := testSession(e, &fakeBinder{doc: p.doc, rz: rz}).ExportRaster(ctx, "no-such-region", "")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("err: got %v, want ErrTargetNotFound", err)
	}
	if called {
		t.Error("rasterizer must not run")
	}
	if p.doc.Writes != 0 || p.doc.Mounts != 0 {
		t.Errorf("page mutated: %d writes, %d mounts", p.doc.Writes, p.doc.Mounts)
	}
	assertRestored(t, before)

	want := []string{"error:Element not found!"}
	if got := ns.messages(); !equalStrings(got, want) {
		t.Errorf("notices: got %v, want %v", got, want)
	}
	entries, _ := os.ReadDir(e.cfg.Export.OutputDir)
	if len(entries) != 0 {
		t.Errorf("artifacts written: %d", len(entries))
	}
}

func TestExport_RasterFailureStillCleansUp(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	before := snapshot(p.banner, p.target, p.chart, p.footer)
	var ns notices

	e := testExporter(t, testConfig(t), ns.notifier())
	boom := errors.New("capture crashed")
	rz := raster.Func(func(context.Context, dom.Handle, int, int) (*raster.Bitmap, error) {
		return nil, boom
	})
	_, err := testSession(e, &fakeBinder{doc: p.doc, rz: rz}).ExportDocument(ctx, "", "")
	if !errors.Is(err, ErrRasterization) || !errors.Is(err, boom) {
		t.Fatalf("err: got %v, want ErrRasterization wrapping the cause", err)
	}

	assertRestored(t, before)
	if p.doc.Unmounts != p.doc.Mounts {
		t.Errorf("containers: %d mounted, %d unmounted", p.doc.Mounts, p.doc.Unmounts)
	}
	if p.doc.Releases != 1 {
		t.Errorf("releases: got %d, want 1", p.doc.Releases)
	}
	msgs := ns.messages()
	if len(msgs) != 2 || msgs[1] != "error:PDF export failed: "+err.Error() {
		t.Errorf("notices: got %v", msgs)
	}
}

func TestExport_PackagingFailureStillCleansUp(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	before := snapshot(p.banner, p.target, p.chart, p.footer)
	var ns notices

	e := testExporter(t, testConfig(t), ns.notifier())
	// Margins wider than the page leave no printable area.
	e.pipe.page = pdfpack.Page{Width: 20, Height: 20, Margin: 10, PixelToUnit: 0.264583}

	_, err := testSession(e, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)}).ExportDocument(ctx, "", "")
	if !errors.Is(err, ErrPackaging) || !errors.Is(err, pdfpack.ErrGeometry) {
		t.Fatalf("err: got %v, want ErrPackaging wrapping ErrGeometry", err)
	}

	assertRestored(t, before)
	if p.doc.Mounts != 1 || p.doc.Unmounts != 1 {
		t.Errorf("containers: %d mounted, %d unmounted", p.doc.Mounts, p.doc.Unmounts)
	}
	if p.doc.Releases != 1 {
		t.Errorf("releases: got %d, want 1", p.doc.Releases)
	}
	want := []string{"info:Generating PDF...", "error:PDF export failed: " + err.Error()}
	if got := ns.messages(); !equalStrings(got, want) {
		t.Errorf("notices: got %v, want %v", got, want)
	}
	entries, _ := os.ReadDir(e.cfg.Export.OutputDir)
	if len(entries) != 0 {
		t.Errorf("artifacts written: %d", len(entries))
	}
}

func TestExport_RepeatedExportSameSize(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	e := testExporter(t, testConfig(t))
	s := testSession(e, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)})

	first, err := s.ExportRaster(ctx, "", "first")
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	second, err := s.ExportRaster(ctx, "", "second")
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if first.Width != second.Width || first.Height != second.Height {
		t.Errorf("size: first %dx%d, second %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
	if p.doc.Mounts != 2 || p.doc.Unmounts != 2 {
		t.Errorf("containers: %d mounted, %d unmounted", p.doc.Mounts, p.doc.Unmounts)
	}
	if len(p.doc.Body.Children) != 3 {
		t.Errorf("body children: got %d, want 3", len(p.doc.Body.Children))
	}
}

func TestExport_MountFailureRestoresOverlays(t *testing.T) {
	ctx := context.Background()
	p := newPollPage()
	before := snapshot(p.banner)
	p.doc.FailMount = errors.New("clone refused")

	e := testExporter(t, testConfig(t))
	_, err := testSession(e, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)}).ExportRaster(ctx, "", "")
	if !errors.Is(err, ErrPreparation) {
		t.Fatalf("err: got %v, want ErrPreparation", err)
	}
	assertRestored(t, before)
	if p.doc.Releases != 1 {
		t.Errorf("releases: got %d, want 1", p.doc.Releases)
	}
}

func TestExport_InvalidName(t *testing.T) {
	p := newPollPage()
	e := testExporter(t, testConfig(t))
	for _, name := range []string{"../escape", ".hidden", "a/b"} {
		_, err := testSession(e, &fakeBinder{doc: p.doc}).ExportRaster(context.Background(), "", name)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("name %q: got %v, want ErrInvalidRequest", name, err)
		}
	}
	if p.doc.Mounts != 0 || p.doc.Releases != 0 {
		t.Error("invalid requests must not reach the page")
	}
}

func TestExport_SerialisedPerSession(t *testing.T) {
	p := newPollPage()
	e := testExporter(t, testConfig(t))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	rz := raster.Func(func(_ context.Context, _ dom.Handle, w, h int) (*raster.Bitmap, error) {
		close(entered)
		<-unblock
		return raster.Blank(w, h), nil
	})
	s := testSession(e, &fakeBinder{doc: p.doc, rz: rz})

	done := make(chan error, 1)
	go func() {
		_, err := s.ExportRaster(context.Background(), "", "first")
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.ExportRaster(ctx, "", "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second export: got %v, want ErrBusy", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first export: %v", err)
	}
	if p.doc.Mounts != 1 {
		t.Errorf("mounts: got %d, want 1", p.doc.Mounts)
	}
}

func TestExport_SerialisedPerPage(t *testing.T) {
	p := newPollPage()
	other := newPollPage()
	e := testExporter(t, testConfig(t))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	rz := raster.Func(func(_ context.Context, _ dom.Handle, w, h int) (*raster.Bitmap, error) {
		close(entered)
		<-unblock
		return raster.Blank(w, h), nil
	})
	s1 := e.pageSession("tab-1", &fakeBinder{doc: p.doc, rz: rz}, "https://app.example/", nil)
	s2 := e.pageSession("tab-1", &fakeBinder{doc: p.doc, rz: rz}, "https://app.example/", nil)
	s3 := e.pageSession("tab-2", &fakeBinder{doc: other.doc, rz: attachedRasterizer(t, other.doc)}, "https://app.example/b", nil)

	done := make(chan error, 1)
	go func() {
		_, err := s1.ExportRaster(context.Background(), "", "first")
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s2.ExportRaster(ctx, "", "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second session on the same page: got %v, want ErrBusy", err)
	}
	if _, err := s3.ExportRaster(context.Background(), "", "other"); err != nil {
		t.Fatalf("session on another page: %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first export: %v", err)
	}
	if p.doc.Mounts != 1 {
		t.Errorf("mounts: got %d, want 1", p.doc.Mounts)
	}

	s1.Close()
	s2.Close()
	s3.Close()
	e.mu.Lock()
	left := len(e.guards)
	e.mu.Unlock()
	if left != 0 {
		t.Errorf("guards left after close: %d", left)
	}
}

func TestExport_AuditTrail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit", "exports.db")
	e := testExporter(t, cfg)
	p := newPollPage()
	s := testSession(e, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)})

	ctx := kit.WithTransport(context.Background(), "cli")
	if _, err := s.ExportRaster(ctx, "", ""); err != nil {
		t.Fatalf("ExportRaster: %v", err)
	}
	if _, err := s.ExportRaster(ctx, "missing", ""); err == nil {
		t.Fatal("missing region should fail")
	}

	events, err := e.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	failed, ok := events[0], events[1]
	if failed.Success || failed.Region != "missing" || failed.Error == "" {
		t.Errorf("failed event: got %+v", failed)
	}
	if !ok.Success || ok.Kind != "png" || ok.Transport != "cli" || ok.Canvases != 1 {
		t.Errorf("success event: got %+v", ok)
	}
	if ok.PageURL != "https://polls.example/p/7" {
		t.Errorf("page url: got %q", ok.PageURL)
	}
}

func TestSession_CloseOnce(t *testing.T) {
	e := testExporter(t, testConfig(t))
	calls := 0
	s := newSession(e.pipe, &fakeBinder{}, "https://polls.example/", func() error {
		calls++
		return nil
	})
	s.Close()
	s.Close()
	if calls != 1 {
		t.Fatalf("close calls: got %d, want 1", calls)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"png":      KindRaster,
		"raster":   KindRaster,
		"pdf":      KindDocument,
		"document": KindDocument,
	} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q): got %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("gif"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ParseKind(gif): got %v, want ErrInvalidRequest", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
