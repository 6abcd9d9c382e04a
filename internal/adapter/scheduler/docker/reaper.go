package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// RunReaper periodically force-removes finished execution-unit containers
// once they have outlived the TTLSeconds recorded on them at creation — the
// Docker analogue of a cluster Job's ttlSecondsAfterFinished garbage
// collection. It blocks until ctx is cancelled.
func (c *Client) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.reapOnce(ctx); err != nil {
				slog.Error("execution-unit reap sweep failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) reapOnce(ctx context.Context) error {
	summaries, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", evaluationLabel)),
	})
	if err != nil {
		return fmt.Errorf("op=docker.reap: %w", err)
	}

	now := time.Now()
	for _, summary := range summaries {
		if summary.State != "exited" {
			continue
		}

		ttl := defaultTTLSeconds
		if v, ok := summary.Labels[labelTTLSeconds]; ok {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				ttl = parsed
			}
		}

		inspect, err := c.cli.ContainerInspect(ctx, summary.ID)
		if err != nil || inspect.State == nil || inspect.State.FinishedAt == "" {
			continue
		}
		finishedAt, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
		if err != nil || now.Sub(finishedAt) < time.Duration(ttl)*time.Second {
			continue
		}

		if err := c.cli.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			slog.Error("failed to reap finished execution-unit container",
				slog.String("container_id", summary.ID), slog.Any("error", err))
		}
	}
	return nil
}
