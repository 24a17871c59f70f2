// CLAUDE:SUMMARY Hides page-wide overlay candidates before capture and restores their exact inline state once.
// Package overlay neutralises elements that could paint over a captured
// region: modal backdrops, tooltips, toasts, sticky translucent bars. The
// scan covers the whole page because such elements can sit anywhere.
//
// Every change is recorded as the exact prior inline declarations, owned by
// the Suppression returned to the caller, and written back exactly once.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// Props are the inline properties snapshotted and overwritten. The
// background is handled through its longhands so restoring never clobbers
// declarations the shorthand would reset.
var Props = []string{"display", "visibility", "pointer-events", "background-color", "background-image"}

// structural tags are never suppressed.
var structural = map[string]bool{
	"html": true, "head": true, "body": true, "script": true,
	"style": true, "link": true, "meta": true, "title": true,
}

// Record is the prior inline state of one suppressed element.
type Record struct {
	Handle dom.Handle
	Prior  dom.Style
	Pass   string // "denylist" or "heuristic"
}

// Config configures a Suppressor.
type Config struct {
	// Denylist matches known overlays; they are removed from layout.
	// Default: Denylist(DefaultRoles, DefaultClassPrefixes).
	Denylist Predicate

	// Heuristic matches likely overlays; they keep their box but become
	// invisible. Default: Heuristic(DefaultAlphaThreshold).
	Heuristic Predicate

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Denylist == nil {
		c.Denylist = Denylist(DefaultRoles, DefaultClassPrefixes)
	}
	if c.Heuristic == nil {
		c.Heuristic = Heuristic(DefaultAlphaThreshold)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Suppressor scans a document for overlay candidates.
type Suppressor struct {
	cfg Config
}

// New creates a Suppressor.
func New(cfg Config) *Suppressor {
	cfg.defaults()
	return &Suppressor{cfg: cfg}
}

type pass struct {
	name  string
	match Predicate
	style dom.Style
}

// Suppress hides every candidate except anchor, its ancestors and its
// descendants. It never fails: an element that cannot be inspected or
// written is skipped.
func (s *Suppressor) Suppress(ctx context.Context, doc dom.Document, anchor dom.Handle) *Suppression {
	log := s.cfg.Logger
	sup := &Suppression{doc: doc, logger: log}

	probes, err := doc.Probe(ctx, anchor)
	if err != nil {
		log.Warn("overlay: probe failed, nothing suppressed", "error", err)
		return sup
	}

	passes := []pass{
		{name: "denylist", match: s.cfg.Denylist, style: dom.Style{
			"display":          dom.Important("none"),
			"pointer-events":   dom.Important("none"),
			"background-color": dom.Important("transparent"),
			"background-image": dom.Important("none"),
		}},
		{name: "heuristic", match: s.cfg.Heuristic, style: dom.Style{
			"visibility":       dom.Important("hidden"),
			"pointer-events":   dom.Important("none"),
			"background-color": dom.Important("transparent"),
			"background-image": dom.Important("none"),
		}},
	}

	done := make(map[dom.Handle]bool)
	for _, ps := range passes {
		for _, p := range probes {
			if p.Err != "" {
				log.Debug("overlay: element skipped", "handle", p.Handle, "tag", p.Tag, "error", p.Err)
				continue
			}
			if p.Related || structural[p.Tag] || done[p.Handle] || !ps.match(p) {
				continue
			}
			done[p.Handle] = true
			if err := sup.apply(ctx, p.Handle, ps); err != nil {
				log.Debug("overlay: suppress skipped", "handle", p.Handle, "tag", p.Tag, "error", err)
			}
		}
	}

	log.Debug("overlay: suppressed", "count", len(sup.records), "scanned", len(probes))
	return sup
}

// Suppression owns the records of one operation.
type Suppression struct {
	mu       sync.Mutex
	doc      dom.Document
	records  []Record
	restored bool
	logger   *slog.Logger
}

func (s *Suppression) apply(ctx context.Context, h dom.Handle, ps pass) error {
	prior, err := s.doc.InlineStyle(ctx, h, Props)
	if err != nil {
		return fmt.Errorf("read inline: %w", err)
	}
	if err := s.doc.SetInlineStyle(ctx, h, ps.style); err != nil {
		// Partial writes are undone before the element is forgotten.
		if rerr := s.doc.SetInlineStyle(ctx, h, prior); rerr != nil {
			s.logger.Warn("overlay: rollback failed", "handle", h, "error", rerr)
		}
		return fmt.Errorf("write inline: %w", err)
	}
	s.mu.Lock()
	s.records = append(s.records, Record{Handle: h, Prior: prior, Pass: ps.name})
	s.mu.Unlock()
	return nil
}

// Records returns a copy of the records.
func (s *Suppression) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of suppressed elements.
func (s *Suppression) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Restore writes back every prior inline state, most recent first. It runs
// once; later calls return nil without touching the page.
func (s *Suppression) Restore(ctx context.Context) error {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return nil
	}
	s.restored = true
	records := s.records
	s.mu.Unlock()

	var errs []error
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if err := s.doc.SetInlineStyle(ctx, r.Handle, r.Prior); err != nil {
			errs = append(errs, fmt.Errorf("overlay: restore %d: %w", r.Handle, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Debug("overlay: restored", "count", len(records))
	return nil
}
