// Package bus implements the pub/sub and ephemeral-state fabric (domain.Bus)
// connecting the Dispatcher and Reconciler, backed by Redis.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

const (
	channelPrefix         = "evaluation:"
	lastStateKeyPrefix    = "job:"
	lastStateKeySuffix    = ":last_state"
	runningKeyPrefix      = "eval:"
	runningKeySuffix      = ":running"
	runningEvaluationsSet = "running_evaluations"
)

// RedisBus implements domain.Bus against a single Redis client.
type RedisBus struct {
	client *redis.Client
}

// New constructs a RedisBus around an existing client.
func New(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish broadcasts payload on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channelPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("op=bus.Publish channel=%s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw message payloads for channel. The
// returned channel closes when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, channelPrefix+channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("op=bus.Subscribe channel=%s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SetLastState records the last-observed reconciliation state for jobName,
// returning changed=true when the stored value differed (or didn't exist).
// This lets the Dispatcher's watcher detect duplicate watch events and skip
// redundant downstream work (idempotency, invariant 2).
func (b *RedisBus) SetLastState(ctx context.Context, jobName, state string, ttl time.Duration) (bool, error) {
	key := lastStateKeyPrefix + jobName + lastStateKeySuffix
	prev, err := b.client.GetSet(ctx, key, state).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("op=bus.SetLastState job=%s: %w", jobName, err)
	}
	if ttl > 0 {
		if err := b.client.Expire(ctx, key, ttl).Err(); err != nil {
			slog.Warn("failed to set last_state ttl", slog.String("job", jobName), slog.Any("error", err))
		}
	}
	return prev != state, nil
}

// GetLastState reads back the last-observed reconciliation state for
// jobName without mutating it, returning "" if no state has been recorded
// (or it has expired).
func (b *RedisBus) GetLastState(ctx context.Context, jobName string) (string, error) {
	key := lastStateKeyPrefix + jobName + lastStateKeySuffix
	state, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("op=bus.GetLastState job=%s: %w", jobName, err)
	}
	return state, nil
}

// RemoveLastState deletes the last-observed-state key for jobName.
func (b *RedisBus) RemoveLastState(ctx context.Context, jobName string) error {
	key := lastStateKeyPrefix + jobName + lastStateKeySuffix
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("op=bus.RemoveLastState job=%s: %w", jobName, err)
	}
	return nil
}

// SetRunning records the ephemeral running-state hash for an evaluation,
// e.g. {job_name, started_at}, with a TTL as a stuck-evaluation safety net.
func (b *RedisBus) SetRunning(ctx context.Context, evalID string, fields map[string]string, ttl time.Duration) error {
	key := runningKeyPrefix + evalID + runningKeySuffix
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	pipe.SAdd(ctx, runningEvaluationsSet, evalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=bus.SetRunning id=%s: %w", evalID, err)
	}
	return nil
}

// RemoveRunning clears the running-state hash and set membership for an
// evaluation once it reaches a terminal state.
func (b *RedisBus) RemoveRunning(ctx context.Context, evalID string) error {
	key := runningKeyPrefix + evalID + runningKeySuffix
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, runningEvaluationsSet, evalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=bus.RemoveRunning id=%s: %w", evalID, err)
	}
	return nil
}

// AddRunningEvaluation records evalID as running without touching its
// per-evaluation hash, used by the Reconciler when it applies a running event.
func (b *RedisBus) AddRunningEvaluation(ctx context.Context, evalID string) error {
	if err := b.client.SAdd(ctx, runningEvaluationsSet, evalID).Err(); err != nil {
		return fmt.Errorf("op=bus.AddRunningEvaluation id=%s: %w", evalID, err)
	}
	return nil
}

// RemoveRunningEvaluation removes evalID from the running set only.
func (b *RedisBus) RemoveRunningEvaluation(ctx context.Context, evalID string) error {
	if err := b.client.SRem(ctx, runningEvaluationsSet, evalID).Err(); err != nil {
		return fmt.Errorf("op=bus.RemoveRunningEvaluation id=%s: %w", evalID, err)
	}
	return nil
}

// IsRunningEvaluation reports whether evalID is currently tracked as running.
func (b *RedisBus) IsRunningEvaluation(ctx context.Context, evalID string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, runningEvaluationsSet, evalID).Result()
	if err != nil {
		return false, fmt.Errorf("op=bus.IsRunningEvaluation id=%s: %w", evalID, err)
	}
	return ok, nil
}

var _ domain.Bus = (*RedisBus)(nil)
