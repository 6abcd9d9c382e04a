package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService removes evaluation records (and their event history) past
// the configured retention window. Not part of the core pipeline's critical
// path; it supplements the Reconciler's ephemeral-state cleanup with
// durable-record retention, mirroring the teacher's retention sweep.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService constructs a CleanupService with a default of 90 days
// when retentionDays is non-positive.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData deletes evaluations (and cascading events) whose
// created_at predates the retention cutoff.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedEvents int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM evaluation_events
			WHERE evaluation_id IN (SELECT id FROM evaluations WHERE created_at < $1)
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedEvents)
	if err != nil {
		slog.Debug("no events to delete", slog.Any("error", err))
	}

	var deletedEvals int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM evaluations WHERE created_at < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedEvals)
	if err != nil {
		slog.Debug("no evaluations to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("evaluation retention cleanup completed",
		slog.Int64("deleted_evaluations", deletedEvals),
		slog.Int64("deleted_events", deletedEvents),
		slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic runs CleanupOldData once immediately, then on every tick of
// interval until ctx is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial retention cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic retention cleanup failed", slog.Any("error", err))
			}
		}
	}
}
