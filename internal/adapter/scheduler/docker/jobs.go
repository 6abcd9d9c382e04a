package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

const wrapperScript = "/usr/local/bin/timeout_wrapper.sh"

// Labels recording JobSpec's scheduling hints on the container itself, so a
// later reap sweep or DeleteJob call can recover them without needing the
// original JobSpec in hand.
const (
	labelTTLSeconds   = "ttl-seconds"
	labelGracePeriod  = "grace-period-seconds"
	defaultGraceSecs  = 1
	defaultTTLSeconds = 3600
)

// cpuSharesFor maps the coarse priority class composed by the Dispatcher to
// Docker's relative CPU share weight. Docker has no native job priority;
// CPU shares are the closest analogue for favoring one container over
// another under CPU contention.
func cpuSharesFor(priority string) int64 {
	switch priority {
	case "high":
		return 2048
	case "low":
		return 512
	default:
		return 1024
	}
}

// restartPolicyFor maps BackoffLimit to Docker's restart policy: 0 means
// never restart on failure, matching a cluster Job's backoffLimit=0 (let the
// Worker's own retry-via-re-enqueue own all retries instead of the runtime).
func restartPolicyFor(backoffLimit int) container.RestartPolicy {
	if backoffLimit <= 0 {
		return container.RestartPolicy{Name: "no"}
	}
	return container.RestartPolicy{Name: "on-failure", MaximumRetryCount: backoffLimit}
}

// CreateJob creates and starts a container for spec, applying the same
// isolation posture the execution-unit manifest describes: a
// non-root user, a read-only root filesystem, dropped capabilities, a
// size-capped scratch volume, no network access, and the sandboxing
// runtime when required.
func (c *Client) CreateJob(ctx context.Context, spec domain.JobSpec) error {
	cfg := &container.Config{
		Image: spec.Image,
		Labels: map[string]string{
			"app":            "evaluation",
			"eval-id":        spec.EvalID,
			"created-by":     "dispatcher",
			"created-at":     spec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			labelTTLSeconds:  strconv.Itoa(spec.TTLSeconds),
			labelGracePeriod: strconv.Itoa(spec.GracePeriod),
		},
		Env: []string{
			"EVAL_ID=" + spec.EvalID,
			"PYTHONUNBUFFERED=1",
		},
		Cmd:       []string{wrapperScript, strconv.Itoa(spec.TimeoutSeconds), "python3", "-u", "-c", spec.Code},
		User:      "1000:1000",
		StopSignal: "SIGKILL",
	}

	host := &container.HostConfig{
		Resources: container.Resources{
			Memory:            spec.MemoryLimitMB * 1024 * 1024,
			MemoryReservation: spec.MemoryRequestMB * 1024 * 1024,
			NanoCPUs:          spec.CPULimitMilli * 1_000_000,
			CPUShares:         cpuSharesFor(spec.Priority),
		},
		RestartPolicy:  restartPolicyFor(spec.BackoffLimit),
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "size=100m"},
		NetworkMode:    "none",
		AutoRemove:     false,
	}
	if spec.RuntimeClass != "" {
		host.Runtime = c.cfg.IsolationRuntimeName
	}

	resp, err := c.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("op=docker.CreateJob name=%s: %w: %v", spec.Name, domain.ErrInvalidRequest, err)
		}
		return fmt.Errorf("op=docker.CreateJob name=%s: %w: %v", spec.Name, domain.ErrSchedulerUnavailable, err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("op=docker.CreateJob name=%s: %w: %v", spec.Name, domain.ErrSchedulerUnavailable, err)
	}

	if spec.ActiveDeadline > 0 {
		go c.enforceActiveDeadline(resp.ID, time.Duration(spec.ActiveDeadline)*time.Second, spec.GracePeriod)
	}
	return nil
}

// enforceActiveDeadline is the scheduler-level backstop beyond the
// in-container wrapper script's own timeout: if the container is still
// running once the deadline elapses, it is stopped here independent of
// whatever the wrapper script itself is doing.
func (c *Client) enforceActiveDeadline(containerID string, deadline time.Duration, gracePeriod int) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	<-timer.C

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil || inspect.State == nil || !inspect.State.Running {
		return
	}

	slog.Warn("active deadline exceeded, stopping container",
		slog.String("container_id", containerID), slog.Duration("deadline", deadline))
	grace := gracePeriod
	if grace <= 0 {
		grace = defaultGraceSecs
	}
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		slog.Error("failed to stop container past active deadline",
			slog.String("container_id", containerID), slog.Any("error", err))
	}
}

// DeleteJob stops the container (honoring the grace period recorded on it at
// creation, falling back to defaultGraceSecs) and force-removes it, the
// Docker analogue of foreground propagation deletion.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	grace := defaultGraceSecs
	if inspect, err := c.cli.ContainerInspect(ctx, name); err == nil && inspect.Config != nil {
		if v, ok := inspect.Config.Labels[labelGracePeriod]; ok {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				grace = parsed
			}
		}
	}
	_ = c.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &grace})

	err := c.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("op=docker.DeleteJob name=%s: %w", name, domain.ErrNotFound)
		}
		return fmt.Errorf("op=docker.DeleteJob name=%s: %w", name, err)
	}
	return nil
}

// JobStatus classifies the container's current lifecycle state into
// domain.JobCounters.
func (c *Client) JobStatus(ctx context.Context, name string) (domain.JobCounters, error) {
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return domain.JobCounters{}, fmt.Errorf("op=docker.JobStatus name=%s: %w", name, domain.ErrNotFound)
		}
		return domain.JobCounters{}, fmt.Errorf("op=docker.JobStatus name=%s: %w", name, err)
	}

	if inspect.State == nil {
		return domain.JobCounters{}, nil
	}
	switch {
	case inspect.State.Running:
		return domain.JobCounters{Active: 1}, nil
	case inspect.State.Status == "exited" && inspect.State.ExitCode == 0:
		return domain.JobCounters{Succeeded: 1}, nil
	case inspect.State.Status == "exited":
		return domain.JobCounters{Failed: 1}, nil
	default:
		return domain.JobCounters{}, nil
	}
}

// JobLogs returns the container's stdout/stderr and exit code. Unlike a
// cluster Job's pod, a Docker container retains its logs until explicit
// removal, so no separate log-aggregation fallback is needed here.
func (c *Client) JobLogs(ctx context.Context, name string, tailLines int) (string, *int, error) {
	tail := "all"
	if tailLines > 0 {
		tail = strconv.Itoa(tailLines)
	}

	out, err := c.cli.ContainerLogs(ctx, name, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil, fmt.Errorf("op=docker.JobLogs name=%s: %w", name, domain.ErrNotFound)
		}
		return "", nil, fmt.Errorf("op=docker.JobLogs name=%s: %w", name, err)
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		return "", nil, fmt.Errorf("op=docker.JobLogs name=%s: %w", name, err)
	}

	var exitCode *int
	if inspect, err := c.cli.ContainerInspect(ctx, name); err == nil && inspect.State != nil {
		ec := inspect.State.ExitCode
		exitCode = &ec
	}

	return buf.String(), exitCode, nil
}
