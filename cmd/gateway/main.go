// Command gateway wires the intake component (C1) and exposes its ambient
// metrics and health endpoints. Request intake itself has no bound
// transport in this repository: SubmitEvaluation, GetEvaluation, and the
// rest of gateway.Gateway's API are consumed directly by whatever driving
// adapter (an RPC server, a CLI, a test harness) is deployed in front of
// this process.
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
	"github.com/fairyhunter13/ai-cv-evaluator/internal/broker"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/gateway"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/postgres"
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

	ctx := context.Background()
	store, pool, err := app.NewStore(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DataRetentionDays > 0 {
		cleanup := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
	}

	evalBus, redisClient, err := app.NewBus(cfg)
	if err != nil {
		slog.Error("bus setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	producer, err := broker.NewProducer(cfg.KafkaBrokers, cfg.TopicEvaluate, cfg.TopicDLQ, "evaluator-gateway")
	if err != nil {
		slog.Error("broker producer setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close broker producer", slog.Any("error", err))
		}
	}()

	cluster, err := app.NewClusterClient(cfg)
	if err != nil {
		slog.Error("cluster client setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	gw := gateway.New(store, producer, evalBus, cluster, cfg.MaxJobTTL)
	_ = gw // bound to a driving transport outside this repository's scope

	dbCheck, redisCheck, clusterCheck := app.BuildReadinessChecks(pool, redisClient, cluster)
	metricsSrv := app.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), dbCheck, redisCheck, clusterCheck)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway metrics server starting", slog.Int("port", cfg.MetricsPort))
		errCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
