package mcpquic

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/snapexport/idgen"
	"github.com/hazyhaar/snapexport/kit"
)

// Handler serves one MCP session per QUIC connection against a shared
// mcp.Server. Tool calls see transport "mcp_quic" and the peer address in
// their context.
type Handler struct {
	mcpServer *mcp.Server
	logger    *slog.Logger
	newID     idgen.Generator
}

// NewHandler creates a connection handler.
func NewHandler(mcpSrv *mcp.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		mcpServer: mcpSrv,
		logger:    logger,
		newID:     idgen.Prefixed("quic_", idgen.NanoID(8)),
	}
}

// ServeConn runs the MCP session of conn until the peer goes away.
func (h *Handler) ServeConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		h.logger.Warn("mcpquic: accept stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		h.logger.Warn("mcpquic: bad preamble", "remote", remote, "error", err)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	sessionID := h.newID()
	log := h.logger.With("session", sessionID, "remote", remote)

	ctx = kit.WithTransport(ctx, kit.TransportMCPQUIC)
	ctx = kit.WithRemoteAddr(ctx, remote)
	ss, err := h.mcpServer.Connect(ctx, &serverTransport{stream: stream, sessionID: sessionID}, nil)
	if err != nil {
		log.Warn("mcpquic: connect", "error", err)
		stream.Close()
		return
	}
	log.Info("mcpquic: session started")
	if err := ss.Wait(); err != nil {
		log.Debug("mcpquic: session wait", "error", err)
	}
	log.Info("mcpquic: session ended")
}

// Listener accepts MCP-over-QUIC connections.
type Listener struct {
	listener *quic.Listener
	handler  *Handler
	logger   *slog.Logger
}

// NewListener binds addr (UDP). tlsCfg must advertise ALPNProtocolMCP.
func NewListener(addr string, tlsCfg *tls.Config, mcpSrv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("mcpquic: listening", "addr", l.Addr().String())
	return &Listener{listener: l, handler: NewHandler(mcpSrv, logger), logger: logger}, nil
}

// Addr is the bound address.
func (l *Listener) Addr() string { return l.listener.Addr().String() }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.handler.ServeConn(ctx, conn)
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

// serverTransport runs the SDK's IOTransport over one QUIC stream.
type serverTransport struct {
	stream    *quic.Stream
	sessionID string
}

func (t *serverTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.sessionID}, nil
}

// sessionConn reports our session ID instead of the empty one of ioConn.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }
