package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// sweptStatuses are the non-terminal states an evaluation can be stuck in
// when its execution unit was lost (scheduler crash, missed event, dead
// watcher) without ever reaching a terminal state.
var sweptStatuses = []domain.Status{domain.StatusProvisioning, domain.StatusRunning}

// StuckSweeper periodically marks as failed every evaluation still in one of
// sweptStatuses whose record was created more than maxProcessingAge ago, so
// a lost execution unit cannot hold an evaluation open indefinitely.
type StuckSweeper struct {
	store            domain.Store
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckSweeper constructs a StuckSweeper.
func NewStuckSweeper(store domain.Store, maxProcessingAge, interval time.Duration) *StuckSweeper {
	if maxProcessingAge <= 0 {
		maxProcessingAge = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckSweeper{store: store, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *StuckSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck evaluation sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("worker.sweeper")
	ctx, span := tracer.Start(ctx, "StuckSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 100
	span.SetAttributes(attribute.Float64("sweeper.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	totalMarked := 0
	for _, status := range sweptStatuses {
		status := status
		for offset := 0; ; offset += pageSize {
			pageCtx, pageSpan := tracer.Start(ctx, "StuckSweeper.sweepPage")
			pageSpan.SetAttributes(attribute.String("sweeper.status", string(status)), attribute.Int("sweeper.offset", offset))

			page, err := s.store.List(pageCtx, domain.ListFilter{Limit: pageSize, Offset: offset, Status: &status})
			if err != nil {
				pageSpan.RecordError(err)
				pageSpan.End()
				slog.Error("stuck sweep failed to list evaluations", slog.String("status", string(status)), slog.Any("error", err))
				break
			}
			if len(page) == 0 {
				pageSpan.End()
				break
			}

			for _, ev := range page {
				if ev.CreatedAt.After(cutoff) {
					continue
				}
				msg := fmt.Sprintf("evaluation stuck in %s past maximum age %v; marked failed by sweeper", status, s.maxProcessingAge)
				if err := s.store.Update(ctx, ev.ID, map[string]any{"status": domain.StatusFailed, "error": msg}); err != nil {
					pageSpan.RecordError(err)
					slog.Error("stuck sweep failed to mark evaluation failed", slog.String("eval_id", ev.ID), slog.Any("error", err))
					continue
				}
				_ = s.store.AddEvent(ctx, ev.ID, "failed", msg, map[string]any{"stuck_sweep": true})
				totalMarked++
			}

			pageSpan.End()
			if len(page) < pageSize {
				break
			}
		}
	}

	span.SetAttributes(attribute.Int("sweeper.total_marked_failed", totalMarked))
}
