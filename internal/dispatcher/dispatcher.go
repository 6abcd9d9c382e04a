// Package dispatcher implements the Dispatcher component (C3): resource
// admission checks, execution-unit composition and creation, status/log
// retrieval, deletion, and the event-driven status watcher, all expressed
// against the domain.ClusterClient port so the underlying scheduler
// (Docker locally, a production orchestrator in deployment) stays swappable.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// clusterBreaker guards the scheduler client: a scheduler outage trips it so
// CheckCapacity/Execute fail fast instead of piling up timeouts on every
// in-flight evaluation.
var clusterBreaker = observability.GetCircuitBreaker("dispatcher.cluster", 5, 30*time.Second)

// Config carries the Dispatcher's own tunables, distinct from the adapter
// it runs against.
type Config struct {
	Namespace         string
	ExecutorImage     string
	RegistryPrefix    string
	DefaultImageTag   string
	MaxJobTTL         int
	JobCleanupTTL     int
	IsolationRequired bool
}

// Dispatcher implements capacity-checked execution-unit scheduling against an injected
// domain.ClusterClient and publishes lifecycle events on a domain.Bus.
type Dispatcher struct {
	cluster domain.ClusterClient
	bus     domain.Bus
	cfg     Config
}

// New constructs a Dispatcher.
func New(cluster domain.ClusterClient, bus domain.Bus, cfg Config) *Dispatcher {
	return &Dispatcher{cluster: cluster, bus: bus, cfg: cfg}
}

// CheckCapacity compares requested resources against the cluster's quota,
// A missing quota object is treated as unbounded capacity.
func (d *Dispatcher) CheckCapacity(ctx context.Context, memoryLimit, cpuLimit string) (domain.Quota, bool, string, error) {
	memMB, err := ParseMemoryMB(memoryLimit)
	if err != nil {
		return domain.Quota{}, false, "", fmt.Errorf("op=dispatcher.CheckCapacity: %w: %v", domain.ErrInvalidRequest, err)
	}
	cpuMilli, err := ParseCPUMillicores(cpuLimit)
	if err != nil {
		return domain.Quota{}, false, "", fmt.Errorf("op=dispatcher.CheckCapacity: %w: %v", domain.ErrInvalidRequest, err)
	}

	q, err := d.cluster.ResourceQuota(ctx)
	if err != nil {
		return domain.Quota{}, false, "", fmt.Errorf("op=dispatcher.CheckCapacity: %w: %v", domain.ErrSchedulerUnavailable, err)
	}
	if q == nil || q.Unbounded {
		return domain.Quota{Unbounded: true}, true, "", nil
	}

	availMem := q.HardMemoryMB - q.UsedMemoryMB
	availCPU := q.HardCPUMillicore - q.UsedCPUMillicore
	hasCapacity := availMem >= memMB && availCPU >= cpuMilli

	var reason string
	if !hasCapacity {
		if availMem < memMB {
			reason = fmt.Sprintf("insufficient memory: %dMB available, %dMB requested", availMem, memMB)
		} else {
			reason = fmt.Sprintf("insufficient cpu: %dm available, %dm requested", availCPU, cpuMilli)
		}
	}
	return *q, hasCapacity, reason, nil
}

// ExecuteRequest is the validated input to Execute.
type ExecuteRequest struct {
	EvalID        string
	Code          string
	Language      string
	Timeout       int
	MemoryLimit   string
	CPULimit      string
	Priority      int
	ExecutorImage string
}

// ExecuteResult is Execute's successful output.
type ExecuteResult struct {
	JobName string
	Status  string
}

// Execute composes and creates the execution unit for an evaluation, per
// resource limits.
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	start := time.Now()
	result, err := d.execute(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveDispatcherExecute(time.Since(start).Seconds(), outcome)
	return result, err
}

func (d *Dispatcher) execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	q, hasCapacity, reason, err := d.CheckCapacity(ctx, req.MemoryLimit, req.CPULimit)
	if err != nil {
		return ExecuteResult{}, err
	}
	if !q.Unbounded {
		memMB, _ := ParseMemoryMB(req.MemoryLimit)
		cpuMilli, _ := ParseCPUMillicores(req.CPULimit)
		if memMB > q.HardMemoryMB || cpuMilli > q.HardCPUMillicore {
			return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: request exceeds cluster hard limits", req.EvalID, domain.ErrInvalidRequest)
		}
	}
	_ = hasCapacity // transient unavailability is the Worker's retryable path, not rejected here

	catalog, err := d.cluster.ImageCatalog(ctx)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: %v", req.EvalID, domain.ErrSchedulerUnavailable, err)
	}
	requested := req.ExecutorImage
	if requested == "" {
		requested = d.cfg.ExecutorImage
	}
	image := ResolveExecutorImage(requested, catalog, d.cfg.RegistryPrefix, d.cfg.DefaultImageTag)

	if d.cfg.IsolationRequired {
		available, err := d.cluster.IsolationRuntimeAvailable(ctx)
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: %v", req.EvalID, domain.ErrIsolationUnavailable, err)
		}
		if !available {
			return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: isolation runtime required but unavailable", req.EvalID, domain.ErrIsolationUnavailable)
		}
	}

	memMB, err := ParseMemoryMB(req.MemoryLimit)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: %v", req.EvalID, domain.ErrInvalidRequest, err)
	}
	cpuMilli, err := ParseCPUMillicores(req.CPULimit)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: %v", req.EvalID, domain.ErrInvalidRequest, err)
	}

	name := GenerateJobName(req.EvalID)
	spec := domain.JobSpec{
		Name:            name,
		EvalID:          req.EvalID,
		Image:           image,
		Code:            req.Code,
		TimeoutSeconds:  req.Timeout,
		MemoryLimitMB:   memMB,
		CPULimitMilli:   cpuMilli,
		MemoryRequestMB: RequestFor(memMB, DefaultRequestMB),
		CPURequestMilli: RequestFor(cpuMilli, DefaultRequestMilli),
		Priority:        priorityClass(req.Priority),
		TTLSeconds:      d.cfg.JobCleanupTTL,
		ActiveDeadline:  req.Timeout + 300,
		BackoffLimit:    0,
		GracePeriod:     1,
		RuntimeClass:    "",
		CreatedAt:       time.Now().UTC(),
	}
	if d.cfg.IsolationRequired {
		spec.RuntimeClass = "isolated"
	}

	if err := clusterBreaker.Call(func() error { return d.cluster.CreateJob(ctx, spec) }); err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaRejected):
			return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w", req.EvalID, domain.ErrQuotaRejected)
		default:
			return ExecuteResult{}, fmt.Errorf("op=dispatcher.Execute id=%s: %w: %v", req.EvalID, domain.ErrSchedulerUnavailable, err)
		}
	}

	return ExecuteResult{JobName: name, Status: "created"}, nil
}

func priorityClass(priority int) string {
	switch {
	case priority > 0:
		return "high"
	case priority < 0:
		return "low"
	default:
		return "normal"
	}
}

// GetJobStatus reads the execution unit's current status classification.
func (d *Dispatcher) GetJobStatus(ctx context.Context, jobName string) (string, domain.JobCounters, error) {
	counters, err := d.cluster.JobStatus(ctx, jobName)
	if err != nil {
		return "", domain.JobCounters{}, fmt.Errorf("op=dispatcher.GetJobStatus job=%s: %w", jobName, err)
	}
	return counters.ClassifyStatus(), counters, nil
}

// GetJobLogs returns the execution unit's captured logs and exit code.
func (d *Dispatcher) GetJobLogs(ctx context.Context, jobName string, tailLines int) (string, *int, error) {
	logs, exitCode, err := d.cluster.JobLogs(ctx, jobName, tailLines)
	if err != nil {
		return "", nil, fmt.Errorf("op=dispatcher.GetJobLogs job=%s: %w", jobName, err)
	}
	return logs, exitCode, nil
}

// DeleteJob removes the execution unit with foreground propagation. It
// publishes no event itself: the watcher publishes evaluation:cancelled when
// it observes the deletion of a unit whose last state was not terminal.
func (d *Dispatcher) DeleteJob(ctx context.Context, jobName string) error {
	if err := d.cluster.DeleteJob(ctx, jobName); err != nil {
		return fmt.Errorf("op=dispatcher.DeleteJob job=%s: %w", jobName, err)
	}
	return nil
}

