package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gasmeter/meterd"
	"github.com/gasmeter/meterd/metrics"
	"github.com/gasmeter/meterd/store"
)

// run serves until ctx is canceled or the listener fails. A bind failure
// is returned before anything is served. ready, when not nil, is called
// with the protocol and metrics addresses once both are bound.
func run(ctx context.Context, s settings, logger *slog.Logger, ready func(addr, metricsAddr net.Addr)) error {
	st, err := store.Open(s.StateDir, store.WithLogger(logger))
	if err != nil {
		return err
	}

	srv, err := meterd.NewServer(st, s.serverConfig(logger))
	if err != nil {
		return err
	}

	ln, err := srv.Listen(s.Listen)
	if err != nil {
		_ = srv.Close()
		return err
	}

	var (
		metricsSrv  *http.Server
		metricsAddr net.Addr
	)
	if s.MetricsListen != "" {
		mln, err := net.Listen("tcp", s.MetricsListen)
		if err != nil {
			_ = ln.Close()
			_ = srv.Close()
			return fmt.Errorf("metrics listen on %s: %w", s.MetricsListen, err)
		}
		metricsAddr = mln.Addr()

		exporter := metrics.NewExporter(srv)
		go exporter.Reading().Watch(ctx, store.NewPoller(st, s.PollInterval))

		metricsSrv = &http.Server{
			Handler:           exporter.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("meterd: metrics server failed", "error", err)
			}
		}()
		logger.Info("meterd: metrics enabled", "addr", metricsAddr.String())
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	if ready != nil {
		ready(ln.Addr(), metricsAddr)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("meterd: shutting down", "timeout", s.ShutdownTimeout)
	case serveErr = <-served:
		logger.Error("meterd: serve failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("meterd: shutdown incomplete", "error", err, "stats", srv.Stats())
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if serveErr != nil && !errors.Is(serveErr, meterd.ErrServerClosed) {
		return serveErr
	}
	return nil
}
