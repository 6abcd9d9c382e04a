// Command reconciler runs the Reconciler component (C4): it subscribes to
// the evaluation lifecycle channels on the bus and folds each event into
// the authoritative record through the persistence façade.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/app"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/reconciler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, pool, err := app.NewStore(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	evalBus, redisClient, err := app.NewBus(cfg)
	if err != nil {
		slog.Error("bus setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	rec := reconciler.New(store, evalBus)

	errCh := make(chan error, 2)
	go func() {
		errCh <- rec.Run(ctx)
	}()

	dbCheck, redisCheck, _ := app.BuildReadinessChecks(pool, redisClient, nil)
	metricsSrv := app.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), dbCheck, redisCheck)

	go func() {
		slog.Info("reconciler metrics server starting", slog.Int("port", cfg.MetricsPort))
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("reconciler process error", slog.Any("error", err))
		}
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
