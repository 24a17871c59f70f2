package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/snapexport/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q, want nosniff", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control: got %q, want no-store", got)
	}
}

func TestRequestID(t *testing.T) {
	var gotID, gotTransport string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/export/raster", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)
	if gotID != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("incoming ID: got %q / %q", gotID, rec.Header().Get("X-Request-ID"))
	}
	if gotTransport != "http" {
		t.Errorf("transport: got %q, want http", gotTransport)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/", nil)
	req.Header.Set("X-Request-ID", "bad id\n")
	h.ServeHTTP(rec, req)
	if gotID == "bad id\n" || len(gotID) < 4 || gotID[:4] != "req_" {
		t.Fatalf("malformed ID should be replaced: got %q", gotID)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, "/healthz")
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	do := func(path string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", path, nil)
		req.RemoteAddr = "203.0.113.7:5000"
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := range 2 {
		if code := do("/api/export/raster"); code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, code)
		}
	}
	if code := do("/api/export/raster"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", code)
	}
	if code := do("/healthz"); code != http.StatusOK {
		t.Fatalf("excluded path: got %d, want 200", code)
	}

	now = now.Add(2 * time.Minute)
	if code := do("/api/export/raster"); code != http.StatusOK {
		t.Fatalf("after window: got %d, want 200", code)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.2:1234"
	if got := ExtractIP(req); got != "198.51.100.2" {
		t.Errorf("RemoteAddr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}
