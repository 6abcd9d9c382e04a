package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

const evaluationLabel = "app=evaluation"

// ResourceQuota reports the host's total resources and the portion already
// reserved by running evaluation containers, standing in for a namespace
// ResourceQuota object. A daemon that can't be reached is treated
// as unbounded capacity, matching the "no quota object" behavior.
func (c *Client) ResourceQuota(ctx context.Context) (*domain.Quota, error) {
	info, err := c.cli.Info(ctx)
	if err != nil {
		return &domain.Quota{Unbounded: true}, nil
	}

	totalMemMB := info.MemTotal / 1024 / 1024
	totalCPUMilli := int64(info.NCPU) * 1000

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     false,
		Filters: filters.NewArgs(filters.Arg("label", evaluationLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("op=docker.ResourceQuota: %w", err)
	}

	var usedMemMB, usedCPUMilli int64
	for _, ctr := range containers {
		inspect, err := c.cli.ContainerInspect(ctx, ctr.ID)
		if err != nil || inspect.HostConfig == nil {
			continue
		}
		usedMemMB += inspect.HostConfig.Memory / 1024 / 1024
		usedCPUMilli += inspect.HostConfig.NanoCPUs / 1_000_000
	}

	return &domain.Quota{
		HardMemoryMB:     totalMemMB,
		UsedMemoryMB:     usedMemMB,
		HardCPUMillicore: totalCPUMilli,
		UsedCPUMillicore: usedCPUMilli,
	}, nil
}
