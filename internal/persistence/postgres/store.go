// Package postgres provides the relational Backend variant of the
// persistence façade, backed by pgx/pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Pool is a minimal subset of pgxpool used by Store, kept narrow for easy
// testing with a stub.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store implements persistence.Backend against a Postgres evaluations/events schema.
type Store struct{ Pool Pool }

// NewStore constructs a Store with the given pool.
func NewStore(p Pool) *Store { return &Store{Pool: p} }

// Put upserts the full evaluation record with explicit read-committed
// transaction management, mirroring the teacher's UpdateStatus pattern.
func (s *Store) Put(ctx context.Context, ev domain.Evaluation) error {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "evaluations.Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "evaluations"),
	)

	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("op=evaluations.put.marshal id=%s: %w", ev.ID, err)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=evaluations.put.begin_tx id=%s: %w", ev.ID, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(ctx); rerr != nil {
				slog.Error("rollback failed", slog.String("id", ev.ID), slog.Any("error", rerr))
			}
		}
	}()

	q := `INSERT INTO evaluations (
		id, code_hash, status, created_at, queued_at, started_at, completed_at,
		memory_limit, cpu_limit, timeout_seconds, priority, executor_image,
		exit_code, runtime_ms,
		output, output_truncated, output_size, output_location,
		error, error_truncated, error_size, error_location,
		metadata
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	ON CONFLICT (id) DO UPDATE SET
		status=$3, queued_at=$5, started_at=$6, completed_at=$7,
		memory_limit=$8, cpu_limit=$9, timeout_seconds=$10, priority=$11, executor_image=$12,
		exit_code=$13, runtime_ms=$14,
		output=$15, output_truncated=$16, output_size=$17, output_location=$18,
		error=$19, error_truncated=$20, error_size=$21, error_location=$22,
		metadata=$23`

	_, err = tx.Exec(ctx, q,
		ev.ID, ev.CodeHash, ev.Status, ev.CreatedAt, ev.QueuedAt, ev.StartedAt, ev.CompletedAt,
		ev.MemoryLimit, ev.CPULimit, ev.TimeoutSeconds, ev.Priority, ev.ExecutorImage,
		ev.ExitCode, ev.RuntimeMS,
		ev.Output, ev.OutputTruncated, ev.OutputSize, ev.OutputLocation,
		ev.Error, ev.ErrorTruncated, ev.ErrorSize, ev.ErrorLocation,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("op=evaluations.put.exec id=%s: %w", ev.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=evaluations.put.commit id=%s: %w", ev.ID, err)
	}
	committed = true
	return nil
}

// Get reads one evaluation by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Evaluation, error) {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "evaluations.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "evaluations"),
	)

	q := `SELECT id, code_hash, status, created_at, queued_at, started_at, completed_at,
		memory_limit, cpu_limit, timeout_seconds, priority, executor_image,
		exit_code, runtime_ms,
		output, output_truncated, output_size, output_location,
		error, error_truncated, error_size, error_location,
		metadata
	FROM evaluations WHERE id=$1`
	row := s.Pool.QueryRow(ctx, q, id)
	ev, metaJSON, err := scanEvaluation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Evaluation{}, fmt.Errorf("op=evaluations.get id=%s: %w", id, domain.ErrNotFound)
		}
		return domain.Evaluation{}, fmt.Errorf("op=evaluations.get id=%s: %w", id, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
			return domain.Evaluation{}, fmt.Errorf("op=evaluations.get.unmarshal id=%s: %w", id, err)
		}
	}
	return ev, nil
}

func scanEvaluation(row pgx.Row) (domain.Evaluation, []byte, error) {
	var ev domain.Evaluation
	var metaJSON []byte
	err := row.Scan(
		&ev.ID, &ev.CodeHash, &ev.Status, &ev.CreatedAt, &ev.QueuedAt, &ev.StartedAt, &ev.CompletedAt,
		&ev.MemoryLimit, &ev.CPULimit, &ev.TimeoutSeconds, &ev.Priority, &ev.ExecutorImage,
		&ev.ExitCode, &ev.RuntimeMS,
		&ev.Output, &ev.OutputTruncated, &ev.OutputSize, &ev.OutputLocation,
		&ev.Error, &ev.ErrorTruncated, &ev.ErrorSize, &ev.ErrorLocation,
		&metaJSON,
	)
	return ev, metaJSON, err
}

// List returns evaluations newest-first, optionally filtered by status.
func (s *Store) List(ctx context.Context, filter domain.ListFilter) ([]domain.Evaluation, error) {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "evaluations.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "evaluations"),
	)

	base := `SELECT id, code_hash, status, created_at, queued_at, started_at, completed_at,
		memory_limit, cpu_limit, timeout_seconds, priority, executor_image,
		exit_code, runtime_ms,
		output, output_truncated, output_size, output_location,
		error, error_truncated, error_size, error_location,
		metadata
	FROM evaluations`

	args := []any{}
	if filter.Status != nil {
		base += " WHERE status=$1"
		args = append(args, *filter.Status)
	}
	base += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.Pool.Query(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("op=evaluations.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Evaluation
	for rows.Next() {
		ev, metaJSON, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("op=evaluations.list_scan: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("op=evaluations.list_unmarshal: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=evaluations.list_rows: %w", err)
	}
	return out, nil
}

// Count returns the exact row count, optionally filtered by status.
func (s *Store) Count(ctx context.Context, status *domain.Status) (int64, error) {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "evaluations.Count")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "evaluations"),
	)

	q := `SELECT COUNT(*) FROM evaluations`
	var row pgx.Row
	if status != nil {
		q += " WHERE status=$1"
		row = s.Pool.QueryRow(ctx, q, *status)
	} else {
		row = s.Pool.QueryRow(ctx, q)
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("op=evaluations.count: %w", err)
	}
	return n, nil
}

// Delete soft-deletes by setting status to the deleted sentinel.
func (s *Store) Delete(ctx context.Context, id string) error {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "evaluations.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "evaluations"),
	)

	tag, err := s.Pool.Exec(ctx, `UPDATE evaluations SET status=$2 WHERE id=$1`, id, domain.StatusDeleted)
	if err != nil {
		return fmt.Errorf("op=evaluations.delete id=%s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=evaluations.delete id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AddEvent appends a lifecycle event row.
func (s *Store) AddEvent(ctx context.Context, id string, ev domain.Event) error {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "events.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "evaluation_events"),
	)

	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("op=events.add.marshal id=%s: %w", id, err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO evaluation_events (evaluation_id, type, timestamp, message, metadata) VALUES ($1,$2,$3,$4,$5)`,
		id, ev.Type, ts, ev.Message, metaJSON)
	if err != nil {
		return fmt.Errorf("op=events.add.exec id=%s: %w", id, err)
	}
	return nil
}

// GetEvents returns id's event history ordered by timestamp.
func (s *Store) GetEvents(ctx context.Context, id string) ([]domain.Event, error) {
	tracer := otel.Tracer("persistence.postgres")
	ctx, span := tracer.Start(ctx, "events.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "evaluation_events"),
	)

	rows, err := s.Pool.Query(ctx, `SELECT type, timestamp, message, metadata FROM evaluation_events WHERE evaluation_id=$1 ORDER BY timestamp ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("op=events.list id=%s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var metaJSON []byte
		if err := rows.Scan(&ev.Type, &ev.Timestamp, &ev.Message, &metaJSON); err != nil {
			return nil, fmt.Errorf("op=events.list_scan id=%s: %w", id, err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("op=events.list_unmarshal id=%s: %w", id, err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=events.list_rows id=%s: %w", id, err)
	}
	return out, nil
}
