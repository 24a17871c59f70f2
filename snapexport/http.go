package snapexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/snapexport/auditlog"
	"github.com/hazyhaar/snapexport/kit"
	"github.com/hazyhaar/snapexport/shield"
)

// exportReq is the body of the export endpoints and the arguments of the
// export tools.
type exportReq struct {
	URL    string `json:"url"`
	Region string `json:"region"`
	Name   string `json:"name"`
}

// exportEndpoint opens the requested page, exports one region and closes
// the tab.
func (e *Exporter) exportEndpoint(kind Kind) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r := req.(*exportReq)
		if r.URL == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
		return e.exportRemote(ctx, r.URL, Request{RegionID: r.Region, BaseName: r.Name, Kind: kind})
	}
}

// Handler returns the HTTP trigger:
//
//	GET  /healthz
//	GET  /api/exports?limit=N          recent audited exports
//	POST /api/export/raster            {"url","region","name"} -> Result
//	POST /api/export/document          same, PDF
//
// Export endpoints stream the artifact instead of the Result when the
// query carries download=1.
func (e *Exporter) Handler() http.Handler {
	r := chi.NewRouter()

	var rl *shield.RateLimiter
	if e.cfg.HTTP.RateLimit > 0 {
		rl = shield.NewRateLimiter(e.cfg.HTTP.RateLimit, time.Minute, "/healthz", "/api/exports")
	}
	for _, mw := range shield.DefaultStack(rl) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/exports", e.handleRecent)
	r.Post("/api/export/raster", e.handleExport(KindRaster))
	r.Post("/api/export/document", e.handleExport(KindDocument))
	return r
}

func (e *Exporter) handleExport(kind Kind) http.HandlerFunc {
	endpoint := kit.Chain(
		kit.WithRequestIDs(nil),
		kit.Logging(e.logger, "export_"+kind.String()),
	)(e.exportEndpoint(kind))

	return func(w http.ResponseWriter, r *http.Request) {
		var req exportReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
			return
		}

		resp, err := endpoint(r.Context(), &req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		res := resp.(*Result)

		if r.URL.Query().Get("download") == "1" {
			serveArtifact(w, r, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// serveArtifact streams the file of res. The handle is opened once, so
// the bytes sent are the ones this operation wrote.
func serveArtifact(w http.ResponseWriter, r *http.Request, res *Result) {
	f, err := os.Open(res.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%w: %w", ErrPackaging, err))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%w: %w", ErrPackaging, err))
		return
	}

	name := filepath.Base(res.Path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-Export-Op", res.OpID)
	http.ServeContent(w, r, name, st.ModTime(), f)
}

func recentLimit(q string) int {
	n, _ := strconv.Atoi(q)
	return min(max(n, 0), auditlog.MaxRecent)
}

func (e *Exporter) handleRecent(w http.ResponseWriter, r *http.Request) {
	events, err := e.Recent(r.Context(), recentLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// statusOf maps export errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
