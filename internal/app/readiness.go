// Package app wires application components and startup helpers shared
// across the cmd/* binaries.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns three independent readiness checks: the
// relational store, the Redis bus, and the cluster scheduler. A nil
// dependency reports itself unconfigured rather than panicking, so a
// binary that doesn't wire every dependency (e.g. the Reconciler has no
// cluster client) can still call this helper.
func BuildReadinessChecks(pool Pinger, redisClient *redis.Client, cluster domain.ClusterClient) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
	clusterCheck func(ctx context.Context) error,
) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck = func(ctx context.Context) error {
		if redisClient == nil {
			return fmt.Errorf("redis not configured")
		}
		return redisClient.Ping(ctx).Err()
	}
	clusterCheck = func(ctx context.Context) error {
		if cluster == nil {
			return fmt.Errorf("cluster client not configured")
		}
		_, err := cluster.ResourceQuota(ctx)
		return err
	}
	return dbCheck, redisCheck, clusterCheck
}
