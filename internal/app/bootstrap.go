package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/scheduler/docker"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/bus"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/config"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/blob"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/memory"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/postgres"
)

// NewStore connects and migrates the relational backend, wraps it with the
// blob overflow store and in-process cache, and returns the resulting
// persistence façade alongside the raw pool (the caller owns the pool's
// lifecycle, e.g. for a readiness check or a retention sweep).
func NewStore(ctx context.Context, cfg config.Config) (domain.Store, *pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("op=app.NewStore: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, nil, fmt.Errorf("op=app.NewStore: %w", err)
	}

	blobStore, err := blob.NewFileStore(ResolveBlobDir(cfg.ObjectStoreURL))
	if err != nil {
		return nil, nil, fmt.Errorf("op=app.NewStore: %w", err)
	}

	facade := persistence.New(postgres.NewStore(pool), nil, memory.NewCache(), blobStore, cfg.InlineThresholdBytes, cfg.PreviewSizeBytes)
	return facade, pool, nil
}

// NewBus connects a Redis client and wraps it as the domain.Bus. The raw
// client is also returned for readiness checks.
func NewBus(cfg config.Config) (domain.Bus, *redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("op=app.NewBus: %w", err)
	}
	client := redis.NewClient(opts)
	return bus.New(client), client, nil
}

// NewClusterClient constructs the Docker-backed domain.ClusterClient. It
// returns the concrete *docker.Client (which satisfies domain.ClusterClient)
// rather than the interface, since the caller that owns the reap loop needs
// docker.Client.RunReaper, a capability specific to this adapter and not
// part of the domain.ClusterClient contract. Swapping in a production
// orchestrator adapter means changing only this function and dropping the
// reap-loop wiring, which that adapter's own Job spec would make redundant.
func NewClusterClient(cfg config.Config) (*docker.Client, error) {
	cluster, err := docker.New(docker.Config{
		Namespace:            cfg.KubernetesNamespace,
		ImageCatalogPath:     cfg.ImageCatalogPath,
		ImageCatalogTTL:      cfg.ImageCatalogTTL,
		IsolationRuntimeName: cfg.RuntimeClassName,
	})
	if err != nil {
		return nil, fmt.Errorf("op=app.NewClusterClient: %w", err)
	}
	return cluster, nil
}
