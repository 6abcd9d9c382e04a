package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// pollJobStatus is the fallback path when event-driven monitoring is
// disabled: it polls the Dispatcher directly and updates the persistence
// façade on every status transition, instead of relying on the Dispatcher's
// watcher to publish bus events for the Reconciler to pick up.
func (w *Worker) pollJobStatus(ctx context.Context, item domain.WorkItem, jobName string) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	lastStatus := ""
	for i := 0; i < w.cfg.PollMaxIterations; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, _, err := w.dispatcher.GetJobStatus(ctx, jobName)
		if err != nil {
			slog.Warn("poll job status failed", slog.String("job_name", jobName), slog.Any("error", err))
			continue
		}
		if status == lastStatus {
			continue
		}
		lastStatus = status
		w.applyPolledTransition(ctx, item, jobName, status)
		if status == "succeeded" || status == "failed" {
			return
		}
	}
}

func (w *Worker) applyPolledTransition(ctx context.Context, item domain.WorkItem, jobName, status string) {
	switch status {
	case "running":
		if err := w.store.Update(ctx, item.EvalID, map[string]any{
			"status":     domain.StatusRunning,
			"started_at": time.Now().UTC(),
		}); err != nil {
			slog.Error("poll failed to record running transition", slog.String("eval_id", item.EvalID), slog.Any("error", err))
		}
	case "succeeded", "failed":
		logs, exitCode, err := w.dispatcher.GetJobLogs(ctx, jobName, 0)
		if err != nil {
			slog.Warn("poll failed to fetch job logs", slog.String("job_name", jobName), slog.Any("error", err))
		}

		fields := map[string]any{"completed_at": time.Now().UTC()}
		if exitCode != nil {
			fields["exit_code"] = *exitCode
		}
		if status == "succeeded" && exitCode != nil && *exitCode == 0 {
			fields["status"] = domain.StatusCompleted
			fields["output"] = logs
		} else {
			fields["status"] = domain.StatusFailed
			fields["error"] = logs
		}
		if err := w.store.Update(ctx, item.EvalID, fields); err != nil {
			slog.Error("poll failed to record terminal transition", slog.String("eval_id", item.EvalID), slog.Any("error", err))
		}
	}
}
