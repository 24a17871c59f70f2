package notify

import "context"

// Callback delivers notices as in-process function calls.
type Callback func(ctx context.Context, n Notice) error

func (f Callback) Notify(ctx context.Context, n Notice) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

func (f Callback) Close() error { return nil }
