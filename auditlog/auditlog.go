// CLAUDE:SUMMARY SQLite trail of export outcomes (one row per operation) with retention cleanup; write-only for the pipeline.
// Package auditlog records export outcomes in SQLite.
//
// Writes never block or fail an export: errors are logged and dropped.
// Nothing in the export path reads the log back.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/snapexport/dbopen"
	"github.com/hazyhaar/snapexport/idgen"
)

// Schema is the DDL for the export log.
const Schema = `
CREATE TABLE IF NOT EXISTS export_events (
    event_id     TEXT PRIMARY KEY,
    op_id        TEXT NOT NULL,
    kind         TEXT NOT NULL,
    region       TEXT NOT NULL,
    name         TEXT NOT NULL,
    page_url     TEXT,
    path         TEXT,
    success      INTEGER NOT NULL,
    error        TEXT,
    overlays     INTEGER NOT NULL DEFAULT 0,
    canvases     INTEGER NOT NULL DEFAULT 0,
    svgs         INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    width_px     INTEGER NOT NULL DEFAULT 0,
    height_px    INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL,
    transport    TEXT,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_export_events_time ON export_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_export_events_op ON export_events(op_id);
`

// Init applies Schema.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("auditlog: init: %w", err)
	}
	return nil
}

// Event is one finished export.
type Event struct {
	OpID      string        `json:"op_id"`
	Kind      string        `json:"kind"`
	Region    string        `json:"region"`
	Name      string        `json:"name"`
	PageURL   string        `json:"page_url,omitempty"`
	Path      string        `json:"path,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Overlays  int           `json:"overlays"`
	Canvases  int           `json:"canvases"`
	SVGs      int           `json:"svgs"`
	Skipped   int           `json:"skipped"`
	Width     int           `json:"width_px"`
	Height    int           `json:"height_px"`
	Duration  time.Duration `json:"duration"`
	Transport string        `json:"transport,omitempty"`
	At        time.Time     `json:"at"`
}

// Log writes export events.
type Log struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator sets the event ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Log) { l.newID = gen }
}

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New creates a Log on db. The schema must already be applied.
func New(db *sql.DB, opts ...Option) *Log {
	l := &Log{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record stores e. Failures are logged, never returned.
func (l *Log) Record(ctx context.Context, e Event) {
	if l == nil || l.db == nil {
		return
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := dbopen.Exec(context.WithoutCancel(ctx), l.db, `
		INSERT INTO export_events (
			event_id, op_id, kind, region, name, page_url, path, success, error,
			overlays, canvases, svgs, skipped, width_px, height_px,
			duration_ms, transport, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), e.OpID, e.Kind, e.Region, e.Name, e.PageURL, e.Path, e.Success, e.Error,
		e.Overlays, e.Canvases, e.SVGs, e.Skipped, e.Width, e.Height,
		e.Duration.Milliseconds(), e.Transport, at.Unix())
	if err != nil {
		l.logger.Error("auditlog: record failed", "error", err, "op_id", e.OpID)
	}
}

// MaxRecent caps the number of events Recent returns.
const MaxRecent = 500

// Recent returns the latest events, newest first. limit defaults to 50 and
// is capped at MaxRecent.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, MaxRecent)
	rows, err := l.db.QueryContext(ctx, `
		SELECT op_id, kind, region, name, COALESCE(page_url, ''), COALESCE(path, ''),
		       success, COALESCE(error, ''), overlays, canvases, svgs, skipped,
		       width_px, height_px, duration_ms, COALESCE(transport, ''), created_at
		FROM export_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ms, at int64
		if err := rows.Scan(&e.OpID, &e.Kind, &e.Region, &e.Name, &e.PageURL, &e.Path,
			&e.Success, &e.Error, &e.Overlays, &e.Canvases, &e.SVGs, &e.Skipped,
			&e.Width, &e.Height, &ms, &e.Transport, &at); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than days. Zero or less keeps everything.
func (l *Log) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Unix() - int64(days*86400)
	res, err := dbopen.Exec(ctx, l.db, `DELETE FROM export_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("auditlog: cleanup: %w", err)
	}
	return res.RowsAffected()
}
