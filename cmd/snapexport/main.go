// CLAUDE:SUMMARY CLI entry point for snapexport: one-shot exports, HTTP trigger, and MCP over stdio or QUIC.
// Command snapexport captures one region of a web page as a PNG or an A4 PDF.
//
// Usage:
//
//	snapexport -url https://example.com/polls/7                 # PNG and PDF of #poll-detail
//	snapexport -url https://example.com/polls/7 -kind pdf -name results
//	snapexport -attach https://app.example.com/polls -config snapexport.yaml
//	snapexport -serve -config snapexport.yaml                   # HTTP trigger
//	snapexport -mcp stdio                                       # MCP tools on stdin/stdout
//	snapexport -mcp quic -mcp-addr :8443                        # MCP tools over QUIC
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/snapexport/kit"
	"github.com/hazyhaar/snapexport/mcpquic"
	"github.com/hazyhaar/snapexport/snapexport"
)

type options struct {
	configPath string
	url        string
	attach     string
	region     string
	name       string
	kind       string
	outDir     string
	serve      bool
	mcpMode    string
	mcpAddr    string
	tlsCert    string
	tlsKey     string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to snapexport.yaml config file")
	flag.StringVar(&o.url, "url", "", "open this URL and export")
	flag.StringVar(&o.attach, "attach", "", "export from an open tab whose URL starts with this prefix (needs browser.remote)")
	flag.StringVar(&o.region, "region", "", "id of the element to capture (default from config)")
	flag.StringVar(&o.name, "name", "", "artifact base name (default from config)")
	flag.StringVar(&o.kind, "kind", "both", "png, pdf or both")
	flag.StringVar(&o.outDir, "out", "", "output directory (overrides export.output_dir)")
	flag.BoolVar(&o.serve, "serve", false, "run the HTTP trigger")
	flag.StringVar(&o.mcpMode, "mcp", "", "serve MCP tools: stdio or quic")
	flag.StringVar(&o.mcpAddr, "mcp-addr", ":8443", "UDP address for -mcp quic")
	flag.StringVar(&o.tlsCert, "tls-cert", "", "certificate for -mcp quic (self-signed when empty)")
	flag.StringVar(&o.tlsKey, "tls-key", "", "key for -mcp quic")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("snapexport: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if !o.serve && o.mcpMode == "" && o.url == "" && o.attach == "" {
		fmt.Fprintln(os.Stderr, "usage: snapexport -url <url> | -attach <prefix> | -serve | -mcp stdio|quic [-config <file>]")
		os.Exit(2)
	}

	cfg := snapexport.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = snapexport.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if o.outDir != "" {
		cfg.Export.OutputDir = o.outDir
	}

	notifiers := snapexport.NotifiersFromConfig(cfg, logger)
	if len(notifiers) == 0 && o.mcpMode != "stdio" {
		notifiers = append(notifiers, snapexport.NewStdoutNotifier(nil))
	}

	e, err := snapexport.New(cfg, logger, notifiers...)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Start(ctx); err != nil {
		return err
	}

	switch {
	case o.serve:
		return runServe(ctx, logger, e, cfg.HTTP.Addr)
	case o.mcpMode != "":
		return runMCP(ctx, logger, e, o)
	default:
		return runOnce(kit.WithTransport(ctx, kit.TransportCLI), e, o)
	}
}

func runOnce(ctx context.Context, e *snapexport.Exporter, o options) error {
	kinds, err := parseKinds(o.kind)
	if err != nil {
		return err
	}

	var s *snapexport.Session
	if o.attach != "" {
		s, err = e.Attach(ctx, o.attach)
	} else {
		s, err = e.Open(ctx, o.url)
	}
	if err != nil {
		return err
	}
	defer s.Close()

	// Notifiers already report each failure; the exit status reflects any.
	var errs []error
	for _, k := range kinds {
		if _, err := s.Export(ctx, snapexport.Request{RegionID: o.region, BaseName: o.name, Kind: k}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseKinds(s string) ([]snapexport.Kind, error) {
	if s == "both" || s == "" {
		return []snapexport.Kind{snapexport.KindRaster, snapexport.KindDocument}, nil
	}
	k, err := snapexport.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []snapexport.Kind{k}, nil
}

func runServe(ctx context.Context, logger *slog.Logger, e *snapexport.Exporter, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("snapexport: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("snapexport: shutdown", "error", err)
	}
	logger.Info("snapexport: server stopped")
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, e *snapexport.Exporter, o options) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "snapexport", Version: "1.0.0"}, nil)
	e.RegisterMCP(srv)

	switch o.mcpMode {
	case "stdio":
		return srv.Run(ctx, &mcp.StdioTransport{})
	case "quic":
		tlsCfg, err := quicTLS(o.tlsCert, o.tlsKey)
		if err != nil {
			return err
		}
		l, err := mcpquic.NewListener(o.mcpAddr, tlsCfg, srv, logger)
		if err != nil {
			return fmt.Errorf("mcp quic: %w", err)
		}
		defer l.Close()
		if err := l.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown -mcp mode %q (want stdio or quic)", o.mcpMode)
	}
}

func quicTLS(cert, key string) (*tls.Config, error) {
	if cert == "" {
		return mcpquic.SelfSignedTLSConfig()
	}
	return mcpquic.ServerTLSConfig(cert, key)
}
