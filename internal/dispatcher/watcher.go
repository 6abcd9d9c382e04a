package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// reconnectInterval matches the original watch stream's per-connection
// timeout; the watcher resubscribes on expiry or on stream error.
const reconnectInterval = 5 * time.Minute

// lastStateTTL is how long job:{name}:last_state survives on the bus.
const lastStateTTL = 5 * time.Minute

// shutdownGrace bounds how long Watch waits for the underlying stream to
// drain once its context is cancelled.
const shutdownGrace = 10 * time.Second

const (
	channelRunning   = "evaluation:running"
	channelCompleted = "evaluation:completed"
	channelFailed    = "evaluation:failed"
	channelCancelled = "evaluation:cancelled"
)

// RunWatcher subscribes to the cluster's job event stream and republishes
// lifecycle events on the bus. It blocks until ctx is
// cancelled, reconnecting the underlying stream on error or timeout.
func (d *Dispatcher) RunWatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.watchOnce(ctx)
	}
}

func (d *Dispatcher) watchOnce(ctx context.Context) {
	watchCtx, cancel := context.WithTimeout(ctx, reconnectInterval)
	defer cancel()

	events, err := d.cluster.Watch(watchCtx)
	if err != nil {
		slog.Error("dispatcher watch stream failed to start", slog.Any("error", err))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			d.drainShutdown(events)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.handleEvent(ctx, evt)
		}
	}
}

func (d *Dispatcher) drainShutdown(events <-chan domain.JobEvent) {
	deadline := time.NewTimer(shutdownGrace)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		}
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, evt domain.JobEvent) {
	if evt.EvalID == "" {
		return
	}
	status := evt.Counters.ClassifyStatus()

	if evt.Type == "DELETED" {
		d.handleDeletion(ctx, evt)
		return
	}

	changed, err := d.bus.SetLastState(ctx, evt.Name, status, lastStateTTL)
	if err != nil {
		slog.Error("failed to record job last_state", slog.String("job", evt.Name), slog.Any("error", err))
		return
	}
	if !changed {
		return
	}

	switch status {
	case "running":
		d.publishRunning(ctx, evt)
	case "succeeded", "failed":
		d.publishCompletion(ctx, evt, status)
	}
}

// handleDeletion publishes a cancellation event only for execution units
// that were still pending or running when their container disappeared;
// units that had already reached a terminal state are a normal cleanup,
// not a cancellation.
func (d *Dispatcher) handleDeletion(ctx context.Context, evt domain.JobEvent) {
	last, err := d.bus.GetLastState(ctx, evt.Name)
	if err != nil {
		slog.Error("failed to read job last_state on deletion", slog.String("job", evt.Name), slog.Any("error", err))
		return
	}
	if last == "succeeded" || last == "failed" {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"eval_id":      evt.EvalID,
		"job_name":     evt.Name,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
		"reason":       "job deleted",
	})
	if err := d.bus.Publish(ctx, channelCancelled, payload); err != nil {
		slog.Error("failed to publish cancellation event", slog.String("job", evt.Name), slog.Any("error", err))
	}
}

func (d *Dispatcher) publishRunning(ctx context.Context, evt domain.JobEvent) {
	payload, _ := json.Marshal(map[string]any{
		"eval_id":     evt.EvalID,
		"executor_id": evt.Name,
		"container_id": evt.Name,
		"started_at":  evt.Timestamp.UTC().Format(time.RFC3339),
	})
	if err := d.bus.Publish(ctx, channelRunning, payload); err != nil {
		slog.Error("failed to publish running event", slog.String("job", evt.Name), slog.Any("error", err))
	}
}

func (d *Dispatcher) publishCompletion(ctx context.Context, evt domain.JobEvent, status string) {
	logs, exitCode, err := d.GetJobLogs(ctx, evt.Name, 0)
	if err != nil {
		slog.Error("failed to fetch job logs for completion event", slog.String("job", evt.Name), slog.Any("error", err))
		logs = ""
	}
	ec := 0
	if exitCode != nil {
		ec = *exitCode
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if status == "succeeded" && ec == 0 {
		payload, _ := json.Marshal(map[string]any{
			"eval_id":   evt.EvalID,
			"output":    logs,
			"exit_code": ec,
			"metadata":  map[string]any{"job_name": evt.Name, "completed_at": now},
		})
		if err := d.bus.Publish(ctx, channelCompleted, payload); err != nil {
			slog.Error("failed to publish completed event", slog.String("job", evt.Name), slog.Any("error", err))
		}
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"eval_id":   evt.EvalID,
		"error":     logs,
		"exit_code": ec,
		"metadata":  map[string]any{"job_name": evt.Name, "failed_at": now},
	})
	if err := d.bus.Publish(ctx, channelFailed, payload); err != nil {
		slog.Error("failed to publish failed event", slog.String("job", evt.Name), slog.Any("error", err))
	}
}
