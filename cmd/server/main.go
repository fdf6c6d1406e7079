// The server command runs the dashboard storage server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juand-r/ius-dashboard/internal/api"
	"github.com/juand-r/ius-dashboard/internal/config"
	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/metrics"
	"github.com/juand-r/ius-dashboard/internal/storage"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logging.InitDefault()
		logging.Fatal("invalid configuration", logging.Err(err))
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logging.InitDefault()
	}
	defer logging.Sync()

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		logging.Fatal("failed to open storage", logging.Err(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(store, cfg.MaxUploadSize).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Info("metrics listening", logging.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", logging.Err(err))
		}
	}()

	go func() {
		logging.Info("server listening",
			logging.String("addr", cfg.ListenAddr),
			logging.String("data_dir", cfg.DataDir),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server failed", logging.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", logging.Err(err))
	}
	metricsSrv.Shutdown(shutdownCtx)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
