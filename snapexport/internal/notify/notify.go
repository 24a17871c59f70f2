// CLAUDE:SUMMARY Export notifications (start/success/failure) and their delivery backends: stdout, webhook, callback, fan-out router.
// Package notify delivers export notifications to user-facing backends.
package notify

import (
	"context"
	"time"
)

// Severity of a notice.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
)

// Notice is one user-visible message about an export.
type Notice struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	OpID     string    `json:"op_id,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Region   string    `json:"region,omitempty"`
	Name     string    `json:"name,omitempty"`
	Path     string    `json:"path,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier is the output interface.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
	Close() error
}
