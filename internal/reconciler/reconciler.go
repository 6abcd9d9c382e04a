// Package reconciler implements the Reconciler component (C4): it
// subscribes to the evaluation lifecycle channels on the bus, folds each
// event into the authoritative record through the persistence façade, and
// cleans up the bus's ephemeral keys once an evaluation reaches a terminal
// state. It serializes the status transitions carried by lifecycle events;
// the Worker and its stuck sweeper also write status directly through C5.
package reconciler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

const (
	channelQueued    = "evaluation:queued"
	channelRunning   = "evaluation:running"
	channelCompleted = "evaluation:completed"
	channelFailed    = "evaluation:failed"
	channelCancelled = "evaluation:cancelled"
)

// channels lists every evaluation:* channel the Reconciler subscribes to,
// alongside the handler that folds a decoded event into the record.
var channels = map[string]func(*Reconciler, context.Context, []byte){
	channelQueued:    (*Reconciler).handleQueued,
	channelRunning:   (*Reconciler).handleRunning,
	channelCompleted: (*Reconciler).handleCompleted,
	channelFailed:    (*Reconciler).handleFailed,
	channelCancelled: (*Reconciler).handleCancelled,
}

// Reconciler folds lifecycle events from the bus into C5.
type Reconciler struct {
	store domain.Store
	bus   domain.Bus
}

// New constructs a Reconciler.
func New(store domain.Store, bus domain.Bus) *Reconciler {
	return &Reconciler{store: store, bus: bus}
}

// Run subscribes to every evaluation:* channel and blocks until ctx is
// cancelled. Each channel gets its own serial subscription loop; processing
// across channels is concurrent, matching the one-loop-per-channel model.
func (r *Reconciler) Run(ctx context.Context) error {
	for channel, handler := range channels {
		msgs, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			return err
		}
		go r.subscriptionLoop(ctx, channel, msgs, handler)
	}
	<-ctx.Done()
	return nil
}

func (r *Reconciler) subscriptionLoop(ctx context.Context, channel string, msgs <-chan []byte, handle func(*Reconciler, context.Context, []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			handle(r, ctx, payload)
		}
	}
}

// ensureRecord looks up id through the store, creating a minimal record
// idempotently if none exists yet. Duplicate or out-of-order delivery can
// otherwise race an evaluation's initial queued event against a later
// lifecycle event for the same id.
func (r *Reconciler) ensureRecord(ctx context.Context, id string) (domain.Evaluation, error) {
	ev, err := r.store.Get(ctx, id)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Evaluation{}, err
	}
	created := domain.Evaluation{ID: id, Status: domain.StatusQueued, Metadata: map[string]any{}}
	if cerr := r.store.Create(ctx, created); cerr != nil {
		return domain.Evaluation{}, cerr
	}
	return created, nil
}

// logDropped records that an event was skipped as an idempotent no-op or a
// malformed payload. The Reconciler swallows all errors past this point:
// duplicate and out-of-order events are tolerated by design.
func logDropped(channel, reason string, err error) {
	if err != nil {
		slog.Warn("reconciler dropped event", slog.String("channel", channel), slog.String("reason", reason), slog.Any("error", err))
		return
	}
	slog.Debug("reconciler skipped event", slog.String("channel", channel), slog.String("reason", reason))
}
