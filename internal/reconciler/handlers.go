package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

type queuedEvent struct {
	EvalID   string `json:"eval_id"`
	QueuedAt string `json:"queued_at"`
}

type runningEvent struct {
	EvalID      string `json:"eval_id"`
	ExecutorID  string `json:"executor_id"`
	ContainerID string `json:"container_id"`
	StartedAt   string `json:"started_at"`
}

type completedEvent struct {
	EvalID   string         `json:"eval_id"`
	Output   string         `json:"output"`
	ExitCode int            `json:"exit_code"`
	Metadata map[string]any `json:"metadata"`
}

type failedEvent struct {
	EvalID   string         `json:"eval_id"`
	Error    string         `json:"error"`
	ExitCode int            `json:"exit_code"`
	Metadata map[string]any `json:"metadata"`
}

type cancelledEvent struct {
	EvalID      string `json:"eval_id"`
	JobName     string `json:"job_name"`
	CancelledAt string `json:"cancelled_at"`
	Reason      string `json:"reason"`
}

func (r *Reconciler) handleQueued(ctx context.Context, payload []byte) {
	var evt queuedEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EvalID == "" {
		logDropped(channelQueued, "malformed payload", err)
		return
	}

	if _, err := r.ensureRecord(ctx, evt.EvalID); err != nil {
		logDropped(channelQueued, "ensureRecord failed", err)
		return
	}
	_ = r.store.AddEvent(ctx, evt.EvalID, "queued", "evaluation queued", nil)
}

func (r *Reconciler) handleRunning(ctx context.Context, payload []byte) {
	var evt runningEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EvalID == "" {
		logDropped(channelRunning, "malformed payload", err)
		return
	}

	ev, err := r.ensureRecord(ctx, evt.EvalID)
	if err != nil {
		logDropped(channelRunning, "ensureRecord failed", err)
		return
	}
	if !domain.CanTransition(ev.Status, domain.StatusRunning) {
		logDropped(channelRunning, "duplicate or out-of-order transition", nil)
		return
	}

	fields := map[string]any{"status": domain.StatusRunning}
	if ev.StartedAt == nil {
		if startedAt, ok := parseTime(evt.StartedAt); ok {
			fields["started_at"] = startedAt
		} else {
			fields["started_at"] = time.Now().UTC()
		}
	}
	if err := r.store.Update(ctx, evt.EvalID, fields); err != nil {
		logDropped(channelRunning, "store update failed", err)
		return
	}
	_ = r.store.AddEvent(ctx, evt.EvalID, "running", "evaluation started executing", map[string]any{"job_name": evt.ContainerID})

	if err := r.bus.AddRunningEvaluation(ctx, evt.EvalID); err != nil {
		logDropped(channelRunning, "failed to track running evaluation", err)
	}
}

func (r *Reconciler) handleCompleted(ctx context.Context, payload []byte) {
	var evt completedEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EvalID == "" {
		logDropped(channelCompleted, "malformed payload", err)
		return
	}
	jobName, _ := evt.Metadata["job_name"].(string)
	r.finishTerminal(ctx, channelCompleted, evt.EvalID, domain.StatusCompleted, map[string]any{
		"output":    evt.Output,
		"exit_code": evt.ExitCode,
	}, jobName)
}

func (r *Reconciler) handleFailed(ctx context.Context, payload []byte) {
	var evt failedEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EvalID == "" {
		logDropped(channelFailed, "malformed payload", err)
		return
	}
	jobName, _ := evt.Metadata["job_name"].(string)
	r.finishTerminal(ctx, channelFailed, evt.EvalID, domain.StatusFailed, map[string]any{
		"error":     evt.Error,
		"exit_code": evt.ExitCode,
	}, jobName)
}

func (r *Reconciler) handleCancelled(ctx context.Context, payload []byte) {
	var evt cancelledEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.EvalID == "" {
		logDropped(channelCancelled, "malformed payload", err)
		return
	}
	reason := evt.Reason
	if reason == "" {
		reason = "cancelled"
	}
	r.finishTerminal(ctx, channelCancelled, evt.EvalID, domain.StatusCancelled, map[string]any{
		"error": reason,
	}, evt.JobName)
}

// finishTerminal applies a terminal transition: it computes runtime_ms from
// started_at, writes the outcome payload through the store, appends a
// lifecycle event, then removes the evaluation's ephemeral bus entries.
func (r *Reconciler) finishTerminal(ctx context.Context, channel, id string, target domain.Status, outcome map[string]any, jobName string) {
	ev, err := r.ensureRecord(ctx, id)
	if err != nil {
		logDropped(channel, "ensureRecord failed", err)
		return
	}
	if !domain.CanTransition(ev.Status, target) {
		logDropped(channel, "duplicate or out-of-order transition", nil)
		return
	}

	now := time.Now().UTC()
	fields := map[string]any{"status": target, "completed_at": now}
	for k, v := range outcome {
		fields[k] = v
	}
	if ev.StartedAt != nil {
		fields["runtime_ms"] = now.Sub(*ev.StartedAt).Milliseconds()
	}

	if err := r.store.Update(ctx, id, fields); err != nil {
		logDropped(channel, "store update failed", err)
		return
	}
	_ = r.store.AddEvent(ctx, id, string(target), "evaluation reached terminal state", map[string]any{"job_name": jobName})

	if err := r.bus.RemoveRunning(ctx, id); err != nil {
		logDropped(channel, "failed to remove ephemeral running key", err)
	}
	if err := r.bus.RemoveRunningEvaluation(ctx, id); err != nil {
		logDropped(channel, "failed to pop running_evaluations", err)
	}
	if jobName != "" {
		if err := r.bus.RemoveLastState(ctx, jobName); err != nil {
			logDropped(channel, "failed to remove job last_state", err)
		}
	}

	if target == domain.StatusCompleted {
		observability.RecordEvaluationCompleted()
	} else {
		observability.RecordEvaluationFailed(string(target))
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
