package kit

import "context"

type contextKey string

const (
	TransportKey  contextKey = "kit_transport"
	RequestIDKey  contextKey = "kit_request_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

// Transports an export can be triggered from. The audit log records them.
const (
	TransportHTTP    = "http"
	TransportMCP     = "mcp"
	TransportMCPQUIC = "mcp_quic"
	TransportCLI     = "cli"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport set on ctx, TransportHTTP if none.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

// withDefaultTransport sets t unless an outer layer already named the
// transport (MCP over QUIC wraps the plain MCP handlers).
func withDefaultTransport(ctx context.Context, t string) context.Context {
	if _, ok := ctx.Value(TransportKey).(string); ok {
		return ctx
	}
	return WithTransport(ctx, t)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}
