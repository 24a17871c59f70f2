package notify

import (
	"context"
	"log/slog"
)

// Router fans out notices to every notifier. One failing notifier does
// not block the others; the first error is returned.
type Router struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewRouter creates a fan-out router. Nil notifiers are dropped.
func NewRouter(logger *slog.Logger, notifiers ...Notifier) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
	return r
}

// Add registers another notifier.
func (r *Router) Add(n Notifier) {
	if n != nil {
		r.notifiers = append(r.notifiers, n)
	}
}

// Len is the number of notifiers.
func (r *Router) Len() int { return len(r.notifiers) }

func (r *Router) Notify(ctx context.Context, n Notice) error {
	var firstErr error
	for _, s := range r.notifiers {
		if err := s.Notify(ctx, n); err != nil {
			r.logger.Warn("notify: delivery failed", "severity", n.Severity, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.notifiers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
