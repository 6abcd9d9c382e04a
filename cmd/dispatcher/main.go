// Command dispatcher runs the Dispatcher component's (C3) event-driven
// status watcher, translating execution-unit lifecycle events from the
// cluster scheduler into bus events for the Reconciler to fold into C5.
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
	"github.com/fairyhunter13/ai-cv-evaluator/internal/dispatcher"
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

	evalBus, redisClient, err := app.NewBus(cfg)
	if err != nil {
		slog.Error("bus setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	cluster, err := app.NewClusterClient(cfg)
	if err != nil {
		slog.Error("cluster client setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	disp := dispatcher.New(cluster, evalBus, dispatcher.Config{
		Namespace:         cfg.KubernetesNamespace,
		ExecutorImage:     cfg.ExecutorImage,
		RegistryPrefix:    cfg.RegistryPrefix,
		DefaultImageTag:   cfg.DefaultImageTag,
		MaxJobTTL:         cfg.MaxJobTTL,
		JobCleanupTTL:     cfg.JobCleanupTTL,
		IsolationRequired: cfg.IsolationRequired(),
	})

	go disp.RunWatcher(ctx)
	go cluster.RunReaper(ctx, cfg.JobReapInterval)

	_, redisCheck, clusterCheck := app.BuildReadinessChecks(nil, redisClient, cluster)
	metricsSrv := app.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), redisCheck, clusterCheck)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher metrics server starting", slog.Int("port", cfg.MetricsPort))
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dispatcher process error", slog.Any("error", err))
		}
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
