// Command worker runs the Worker component (C2): it consumes work items
// from the broker, drives them through the Dispatcher, and runs the stuck
// job sweeper as a background safety net.
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
	"github.com/fairyhunter13/ai-cv-evaluator/internal/dispatcher"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/postgres"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/worker"
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

	producer, err := broker.NewProducer(cfg.KafkaBrokers, cfg.TopicEvaluate, cfg.TopicDLQ, "evaluator-worker")
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

	disp := dispatcher.New(cluster, evalBus, dispatcher.Config{
		Namespace:         cfg.KubernetesNamespace,
		ExecutorImage:     cfg.ExecutorImage,
		RegistryPrefix:    cfg.RegistryPrefix,
		DefaultImageTag:   cfg.DefaultImageTag,
		MaxJobTTL:         cfg.MaxJobTTL,
		JobCleanupTTL:     cfg.JobCleanupTTL,
		IsolationRequired: cfg.IsolationRequired(),
	})

	w := worker.New(store, evalBus, producer, disp, worker.Config{
		EnableEventMonitoring: cfg.EnableEventMonitoring,
		PollInterval:          cfg.PollInterval,
		PollMaxIterations:     cfg.PollMaxIterations,
		MaxRetries:            cfg.GetRetryConfig().MaxRetries,
		MaxQuotaRetries:       cfg.GetRetryConfig().MaxQuotaRetries,
		RetryBase:             cfg.GetRetryConfig().Base,
		RetryCap:              cfg.GetRetryConfig().Cap,
	})

	sweeper := worker.NewStuckSweeper(store, cfg.StuckJobGracePeriod, cfg.StuckJobSweepPeriod)
	go sweeper.Run(ctx)

	consumer, err := broker.NewConsumer(cfg.KafkaBrokers, "evaluator-worker", cfg.TopicEvaluate, "evaluator-worker",
		cfg.WorkerMinConcurrency, cfg.WorkerMaxConcurrency, w.Handle)
	if err != nil {
		slog.Error("broker consumer setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	dbCheck, redisCheck, clusterCheck := app.BuildReadinessChecks(pool, redisClient, cluster)
	metricsSrv := app.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), dbCheck, redisCheck, clusterCheck)

	errCh := make(chan error, 2)
	go func() {
		slog.Info("worker metrics server starting", slog.Int("port", cfg.MetricsPort))
		errCh <- metricsSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("worker consumer starting", slog.String("topic", cfg.TopicEvaluate))
		errCh <- consumer.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker process error", slog.Any("error", err))
		}
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
