package snapexport

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
	"github.com/hazyhaar/snapexport/snapexport/internal/raster"
)

const publicURL = "http://93.184.216.34/polls/7"

// serveFake routes every opened session to an in-memory poll page.
func serveFake(t *testing.T, e *Exporter) *pollPage {
	t.Helper()
	p := newPollPage()
	e.open = func(_ context.Context, pageURL string) (*Session, error) {
		return newSession(e.pipe, &fakeBinder{doc: p.doc, rz: attachedRasterizer(t, p.doc)}, pageURL, nil), nil
	}
	return p
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:4000"
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_ExportRaster(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = -1
	e := testExporter(t, cfg)
	serveFake(t, e)

	rec := post(t, e.Handler(), "/api/export/raster", `{"url":"`+publicURL+`","name":"poll-7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Kind != "png" || !strings.HasSuffix(res.Path, "poll-7.png") || res.Width != 1600 {
		t.Errorf("result: got %+v", res)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}
}

func TestHTTP_DownloadDocument(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = -1
	e := testExporter(t, cfg)
	serveFake(t, e)

	rec := post(t, e.Handler(), "/api/export/document?download=1", `{"url":"`+publicURL+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename=poll-results.pdf` {
		t.Errorf("Content-Disposition: got %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}
}

func TestHTTP_ErrorStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = -1
	e := testExporter(t, cfg)
	serveFake(t, e)
	h := e.Handler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"url":`, http.StatusBadRequest},
		{"no url", `{"region":"poll-detail"}`, http.StatusBadRequest},
		{"loopback", `{"url":"http://127.0.0.1:3000/polls/7"}`, http.StatusBadRequest},
		{"scheme", `{"url":"file:///etc/passwd"}`, http.StatusBadRequest},
		{"bad name", `{"url":"` + publicURL + `","name":"../x"}`, http.StatusBadRequest},
		{"missing region", `{"url":"` + publicURL + `","region":"nope"}`, http.StatusNotFound},
	}
	for _, c := range cases {
		rec := post(t, h, "/api/export/raster", c.body)
		if rec.Code != c.want {
			t.Errorf("%s: got %d, want %d (%s)", c.name, rec.Code, c.want, rec.Body.String())
		}
	}
}

func TestHTTP_RateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = 1
	e := testExporter(t, cfg)
	serveFake(t, e)
	h := e.Handler()

	if rec := post(t, h, "/api/export/raster", `{"url":"`+publicURL+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("first: got %d", rec.Code)
	}
	if rec := post(t, h, "/api/export/raster", `{"url":"`+publicURL+`"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: got %d, want 429", rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
}

func TestHTTP_RecentWithoutAudit(t *testing.T) {
	e := testExporter(t, testConfig(t))
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/exports", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

// servePerURL gives every URL its own page; the captured bitmap is
// widths[url] pixels wide so artifacts can be told apart.
func servePerURL(e *Exporter, widths map[string]int) {
	e.open = func(_ context.Context, pageURL string) (*Session, error) {
		p := newPollPage()
		w := widths[pageURL]
		rz := raster.Func(func(_ context.Context, _ dom.Handle, _, h int) (*raster.Bitmap, error) {
			return raster.Blank(w, h), nil
		})
		return newSession(e.pipe, &fakeBinder{doc: p.doc, rz: rz}, pageURL, nil), nil
	}
}

func TestHTTP_ConcurrentDownloadsKeepTheirArtifact(t *testing.T) {
	urlA, urlB := publicURL+"/a", publicURL+"/b"

	// The first success notice is held until the second export has been
	// served, so both writes land before the first download is streamed.
	held := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hold := NewCallbackNotifier(func(_ context.Context, n Notice) error {
		if n.Severity != SeveritySuccess {
			return nil
		}
		first := false
		once.Do(func() { first = true })
		if first {
			close(held)
			<-release
		}
		return nil
	})

	cfg := testConfig(t)
	cfg.HTTP.RateLimit = -1
	e := testExporter(t, cfg, hold)
	servePerURL(e, map[string]int{urlA: 111, urlB: 222})
	h := e.Handler()

	recA := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		recA <- post(t, h, "/api/export/raster?download=1", `{"url":"`+urlA+`"}`)
	}()
	<-held

	rb := post(t, h, "/api/export/raster?download=1", `{"url":"`+urlB+`"}`)
	close(release)
	ra := <-recA

	for _, c := range []struct {
		name string
		rec  *httptest.ResponseRecorder
		want int
	}{{"A", ra, 111}, {"B", rb, 222}} {
		if c.rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d (%s)", c.name, c.rec.Code, c.rec.Body.String())
		}
		img, err := png.DecodeConfig(bytes.NewReader(c.rec.Body.Bytes()))
		if err != nil {
			t.Fatalf("%s: decode: %v", c.name, err)
		}
		if img.Width != c.want {
			t.Errorf("%s: downloaded width %d, want %d", c.name, img.Width, c.want)
		}
	}
	if ra.Header().Get("X-Export-Op") == rb.Header().Get("X-Export-Op") {
		t.Error("both downloads report the same operation")
	}
}

func TestRecentLimit(t *testing.T) {
	for q, want := range map[string]int{
		"":          0,
		"-3":        0,
		"20":        20,
		"abc":       0,
		"100000000": 500,
	} {
		if got := recentLimit(q); got != want {
			t.Errorf("recentLimit(%q): got %d, want %d", q, got, want)
		}
	}
}
