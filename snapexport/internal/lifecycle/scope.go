// CLAUDE:SUMMARY Cleanup scope guaranteeing each registered undo action runs exactly once, LIFO, on every exit path.
// Package lifecycle guarantees that everything an export operation changes
// on the page is undone exactly once, whatever step the operation reached.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Action undoes one change.
type Action func(ctx context.Context) error

type entry struct {
	name string
	fn   Action
}

// Scope collects undo actions and runs them in reverse registration order.
type Scope struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
	logger  *slog.Logger
}

// New creates an empty Scope.
func New(logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scope{logger: logger}
}

// Defer registers an action. Registering on a closed scope runs the action
// immediately so nothing leaks.
func (s *Scope) Defer(ctx context.Context, name string, fn Action) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.run(ctx, entry{name: name, fn: fn})
	}
	s.entries = append(s.entries, entry{name: name, fn: fn})
	s.mu.Unlock()
	return nil
}

// Len returns the number of pending actions.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close runs every pending action exactly once, last registered first. A
// failing action does not stop the others; failures are joined. The
// actions run on a context detached from ctx's cancellation.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := s.run(ctx, entries[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scope) run(ctx context.Context, e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lifecycle: %s: panic: %v", e.name, r)
		}
		if err != nil {
			s.logger.Warn("lifecycle: cleanup failed", "action", e.name, "error", err)
		}
	}()
	if err := e.fn(ctx); err != nil {
		return fmt.Errorf("lifecycle: %s: %w", e.name, err)
	}
	s.logger.Debug("lifecycle: cleanup done", "action", e.name)
	return nil
}
