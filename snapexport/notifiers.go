package snapexport

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/snapexport/snapexport/internal/notify"
)

// Notifier receives export notices.
type Notifier = notify.Notifier

// Notice is one user-facing export message.
type Notice = notify.Notice

// Severity of a Notice.
type Severity = notify.Severity

const (
	SeverityInfo    = notify.Info
	SeveritySuccess = notify.Success
	SeverityError   = notify.Error
)

// NewStdoutNotifier writes notices as JSON lines. A nil writer means stdout.
func NewStdoutNotifier(w io.Writer) Notifier {
	return notify.NewStdout(w)
}

// NewWebhookNotifier POSTs notices to url with retry.
func NewWebhookNotifier(url string, headers map[string]string, retries int, logger *slog.Logger) Notifier {
	return notify.NewWebhook(url,
		notify.WithWebhookHeaders(headers),
		notify.WithWebhookRetries(retries),
		notify.WithWebhookLogger(logger),
	)
}

// NewCallbackNotifier calls fn in process for every notice.
func NewCallbackNotifier(fn func(ctx context.Context, n Notice) error) Notifier {
	return notify.Callback(fn)
}

// NotifiersFromConfig builds the notifiers listed in cfg.Notify. Unknown
// types are skipped with a warning.
func NotifiersFromConfig(cfg *Config, logger *slog.Logger) []Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Notifier
	for _, nc := range cfg.Notify {
		switch nc.Type {
		case "stdout":
			out = append(out, NewStdoutNotifier(nil))
		case "webhook":
			out = append(out, NewWebhookNotifier(nc.URL, nc.Headers, nc.Retries, logger))
		default:
			logger.Warn("snapexport: unknown notifier type", "type", nc.Type)
		}
	}
	return out
}
