// Package worker implements the Worker component (C2): it consumes work
// items from the broker, asks the Dispatcher whether capacity is available,
// drives Execute, classifies failures into retry-or-fail decisions, and
// falls back to polling job status when event-driven monitoring is
// disabled. Retry state travels with the work item itself rather than in an
// external store, so it survives broker redelivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/dispatcher"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Dispatcher is the subset of the Dispatcher's API the Worker depends on.
type Dispatcher interface {
	CheckCapacity(ctx context.Context, memoryLimit, cpuLimit string) (domain.Quota, bool, string, error)
	Execute(ctx context.Context, req dispatcher.ExecuteRequest) (dispatcher.ExecuteResult, error)
	GetJobStatus(ctx context.Context, jobName string) (string, domain.JobCounters, error)
	GetJobLogs(ctx context.Context, jobName string, tailLines int) (string, *int, error)
}

// Config carries the Worker's own tunables.
type Config struct {
	ClientTimeout         time.Duration
	EnableEventMonitoring bool
	PollInterval          time.Duration
	PollMaxIterations     int

	MaxRetries      int
	MaxQuotaRetries int
	RetryBase       time.Duration
	RetryCap        time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollMaxIterations <= 0 {
		c.PollMaxIterations = 60
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = domain.MaxRetries
	}
	if c.MaxQuotaRetries <= 0 {
		c.MaxQuotaRetries = domain.MaxQuotaRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = domain.DefaultRetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = domain.DefaultRetryCap
	}
	return c
}

// Worker processes one WorkItem at a time on behalf of a broker.Consumer.
type Worker struct {
	store      domain.Store
	bus        domain.Bus
	broker     domain.Broker
	dispatcher Dispatcher
	cfg        Config
}

// New constructs a Worker.
func New(store domain.Store, bus domain.Bus, broker domain.Broker, disp Dispatcher, cfg Config) *Worker {
	return &Worker{store: store, bus: bus, broker: broker, dispatcher: disp, cfg: cfg.withDefaults()}
}

// Handle is the broker.Handler entry point: one pass of the per-item
// algorithm. It never blocks on a retry delay; retries are rescheduled on a
// background goroutine and re-enqueued, so a single slow backoff never ties
// up a consumer worker.
func (w *Worker) Handle(ctx context.Context, item domain.WorkItem) error {
	if err := w.store.Update(ctx, item.EvalID, map[string]any{"status": domain.StatusProvisioning}); err != nil {
		return fmt.Errorf("op=worker.Handle id=%s: %w", item.EvalID, err)
	}

	capCtx, cancel := context.WithTimeout(ctx, w.cfg.ClientTimeout)
	quota, hasCapacity, reason, err := w.dispatcher.CheckCapacity(capCtx, item.MemoryLimit, item.CPULimit)
	cancel()
	if err != nil {
		return w.onDispatcherError(ctx, item, err)
	}
	_ = quota
	if !hasCapacity {
		return w.retryOrFail(ctx, item, domain.PolicyQuota, reason)
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.ClientTimeout)
	result, err := w.dispatcher.Execute(execCtx, dispatcher.ExecuteRequest{
		EvalID:        item.EvalID,
		Code:          item.Code,
		Language:      item.Language,
		Timeout:       item.Timeout,
		MemoryLimit:   item.MemoryLimit,
		CPULimit:      item.CPULimit,
		Priority:      item.Priority,
		ExecutorImage: item.ExecutorImage,
	})
	cancel()
	if err != nil {
		return w.onDispatcherError(ctx, item, err)
	}

	if err := w.bus.SetRunning(ctx, item.EvalID, map[string]string{
		"job_name": result.JobName,
		"status":   result.Status,
	}, time.Hour); err != nil {
		slog.Warn("failed to record running job name on bus", slog.String("eval_id", item.EvalID), slog.Any("error", err))
	}

	if !w.cfg.EnableEventMonitoring {
		go w.pollJobStatus(context.Background(), item, result.JobName)
	}
	return nil
}

func classifyDispatcherError(err error) domain.FailureClass {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return domain.FailureClass{Retryable: false, Reason: "validation_error"}
	case errors.Is(err, domain.ErrQuotaRejected):
		return domain.FailureClass{Retryable: true, Policy: domain.PolicyQuota}
	default:
		return domain.FailureClass{Retryable: true, Policy: domain.PolicyDefault}
	}
}

func (w *Worker) onDispatcherError(ctx context.Context, item domain.WorkItem, err error) error {
	class := classifyDispatcherError(err)
	if !class.Retryable {
		return w.fail(ctx, item, class.Reason, err)
	}
	return w.retryOrFail(ctx, item, class.Policy, err.Error())
}

// retryOrFail advances the item's retry state under policy, rescheduling it
// on success or routing it to the dead-letter path once the budget for that
// policy is spent.
func (w *Worker) retryOrFail(ctx context.Context, item domain.WorkItem, policy domain.Policy, reason string) error {
	state := item.Retry
	if state.Policy != policy {
		state = domain.RetryState{Policy: policy}
	}
	if w.exhausted(state) {
		terminalReason := reason
		if policy == domain.PolicyQuota {
			terminalReason = "resource_exhaustion"
		}
		return w.exhaust(ctx, item, terminalReason)
	}

	delay := domain.NextDelayWithConfig(state.Attempt, w.cfg.RetryBase, w.cfg.RetryCap)
	state.Attempt++
	next := item
	next.Retry = state
	observability.RecordRetry(string(policy))
	go w.scheduleRetry(next, delay)
	return nil
}

func (w *Worker) exhausted(state domain.RetryState) bool {
	if state.Policy == domain.PolicyQuota {
		return state.Attempt >= w.cfg.MaxQuotaRetries
	}
	return state.Attempt >= w.cfg.MaxRetries
}

func (w *Worker) scheduleRetry(item domain.WorkItem, delay time.Duration) {
	time.Sleep(delay)
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ClientTimeout)
	defer cancel()
	if err := w.broker.Enqueue(ctx, item); err != nil {
		slog.Error("failed to re-enqueue work item for retry", slog.String("eval_id", item.EvalID), slog.Any("error", err))
	}
}

func (w *Worker) fail(ctx context.Context, item domain.WorkItem, reason string, cause error) error {
	msg := reason
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.store.Update(ctx, item.EvalID, map[string]any{"status": domain.StatusFailed, "error": msg}); err != nil {
		return fmt.Errorf("op=worker.fail id=%s: %w", item.EvalID, err)
	}
	_ = w.store.AddEvent(ctx, item.EvalID, "failed", reason, map[string]any{"reason": reason})
	observability.RecordEvaluationFailed("failed")
	return nil
}

// exhaust pushes a DLQ entry and marks the evaluation terminally failed once
// a retry budget runs out.
func (w *Worker) exhaust(ctx context.Context, item domain.WorkItem, reason string) error {
	entry := domain.DLQEntry{
		TaskID:       item.EvalID,
		Name:         "evaluate",
		EvaluationID: item.EvalID,
		Args: map[string]any{
			"code":         item.Code,
			"language":     item.Language,
			"timeout":      item.Timeout,
			"memory_limit": item.MemoryLimit,
			"cpu_limit":    item.CPULimit,
		},
		ExceptionType: "RetryBudgetExhausted",
		Traceback:     reason,
		Retries:       item.Retry.Attempt,
		Metadata:      map[string]any{"policy": string(item.Retry.Policy)},
		MovedAt:       time.Now().UTC(),
	}
	if err := w.broker.EnqueueDLQ(ctx, entry); err != nil {
		slog.Error("failed to enqueue DLQ entry", slog.String("eval_id", item.EvalID), slog.Any("error", err))
	}

	if err := w.store.Update(ctx, item.EvalID, map[string]any{
		"status":   domain.StatusFailed,
		"error":    reason,
		"metadata": map[string]any{"final_failure": true},
	}); err != nil {
		return fmt.Errorf("op=worker.exhaust id=%s: %w", item.EvalID, err)
	}
	_ = w.store.AddEvent(ctx, item.EvalID, "failed", reason, map[string]any{
		"final_failure": true,
		"retries":       item.Retry.Attempt,
	})
	observability.RecordEvaluationFailed("failed")
	return nil
}
