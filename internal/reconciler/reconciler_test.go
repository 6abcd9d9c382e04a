package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/memory"
)

type fakeBus struct {
	mu sync.Mutex

	running        map[string]bool
	lastStateCalls []string
	runningRemoved []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{running: make(map[string]bool)}
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	return ch, nil
}
func (b *fakeBus) SetLastState(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
func (b *fakeBus) GetLastState(context.Context, string) (string, error) { return "", nil }
func (b *fakeBus) SetRunning(context.Context, string, map[string]string, time.Duration) error {
	return nil
}
func (b *fakeBus) RemoveRunning(_ context.Context, evalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runningRemoved = append(b.runningRemoved, evalID)
	return nil
}
func (b *fakeBus) AddRunningEvaluation(_ context.Context, evalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running[evalID] = true
	return nil
}
func (b *fakeBus) RemoveRunningEvaluation(_ context.Context, evalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.running, evalID)
	return nil
}
func (b *fakeBus) IsRunningEvaluation(_ context.Context, evalID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running[evalID], nil
}
func (b *fakeBus) RemoveLastState(_ context.Context, jobName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastStateCalls = append(b.lastStateCalls, jobName)
	return nil
}

func newTestReconciler() (*Reconciler, domain.Store, *fakeBus) {
	store := persistence.New(memory.NewStore(), nil, memory.NewCache(), nil, 1<<20, 1024)
	bus := newFakeBus()
	return New(store, bus), store, bus
}

func seed(t *testing.T, store domain.Store, id string, status domain.Status, startedAt *time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.Evaluation{
		ID:        id,
		Status:    status,
		CreatedAt: time.Now(),
		StartedAt: startedAt,
	}))
}

func TestHandleRunningSetsStartedAtAndTracksRunningSet(t *testing.T) {
	r, store, bus := newTestReconciler()
	seed(t, store, "eval_1", domain.StatusProvisioning, nil)

	payload, _ := json.Marshal(runningEvent{EvalID: "eval_1", ContainerID: "eval-1-job", StartedAt: time.Now().UTC().Format(time.RFC3339)})
	r.handleRunning(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, ev.Status)
	require.NotNil(t, ev.StartedAt)

	ok, _ := bus.IsRunningEvaluation(context.Background(), "eval_1")
	assert.True(t, ok)
}

func TestHandleRunningIsIdempotentOnRedelivery(t *testing.T) {
	r, store, _ := newTestReconciler()
	started := time.Now().Add(-time.Minute)
	seed(t, store, "eval_1", domain.StatusRunning, &started)

	payload, _ := json.Marshal(runningEvent{EvalID: "eval_1", ContainerID: "eval-1-job", StartedAt: time.Now().UTC().Format(time.RFC3339)})
	r.handleRunning(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.True(t, ev.StartedAt.Equal(started), "redelivered running event must not clobber an already-set started_at")
}

func TestHandleCompletedComputesRuntimeAndCleansUpEphemeralState(t *testing.T) {
	r, store, bus := newTestReconciler()
	started := time.Now().Add(-2 * time.Second)
	seed(t, store, "eval_1", domain.StatusRunning, &started)

	payload, _ := json.Marshal(completedEvent{
		EvalID:   "eval_1",
		Output:   "42",
		ExitCode: 0,
		Metadata: map[string]any{"job_name": "eval-1-job"},
	})
	r.handleCompleted(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, ev.Status)
	assert.Equal(t, "42", ev.Output)
	require.NotNil(t, ev.RuntimeMS)
	assert.True(t, *ev.RuntimeMS >= 1000)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.runningRemoved, "eval_1")
	assert.Contains(t, bus.lastStateCalls, "eval-1-job")
}

func TestHandleFailedMarksRecordFailed(t *testing.T) {
	r, store, _ := newTestReconciler()
	seed(t, store, "eval_1", domain.StatusRunning, nil)

	payload, _ := json.Marshal(failedEvent{EvalID: "eval_1", Error: "boom", ExitCode: 1, Metadata: map[string]any{"job_name": "eval-1-job"}})
	r.handleFailed(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, ev.Status)
	assert.Equal(t, "boom", ev.Error)
}

func TestHandleCompletedSkipsAlreadyTerminalRecord(t *testing.T) {
	r, store, _ := newTestReconciler()
	seed(t, store, "eval_1", domain.StatusFailed, nil)

	payload, _ := json.Marshal(completedEvent{EvalID: "eval_1", Output: "late"})
	r.handleCompleted(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, ev.Status, "a terminal record must never be reopened by a redelivered event")
}

func TestHandleQueuedCreatesMissingRecordIdempotently(t *testing.T) {
	r, store, _ := newTestReconciler()

	payload, _ := json.Marshal(queuedEvent{EvalID: "eval_new", QueuedAt: time.Now().UTC().Format(time.RFC3339)})
	r.handleQueued(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_new")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, ev.Status)
}

func TestHandleCancelledSetsCancelledStatus(t *testing.T) {
	r, store, bus := newTestReconciler()
	seed(t, store, "eval_1", domain.StatusProvisioning, nil)

	payload, _ := json.Marshal(cancelledEvent{EvalID: "eval_1", JobName: "eval-1-job", Reason: "job deleted"})
	r.handleCancelled(context.Background(), payload)

	ev, err := store.Get(context.Background(), "eval_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, ev.Status)
	assert.Equal(t, "job deleted", ev.Error)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.lastStateCalls, "eval-1-job")
}
