package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/persistence/memory"
)

type fakeBroker struct {
	enqueued []domain.WorkItem
	failNext bool
}

func (f *fakeBroker) Enqueue(_ context.Context, item domain.WorkItem) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.enqueued = append(f.enqueued, item)
	return nil
}
func (f *fakeBroker) EnqueueDLQ(_ context.Context, _ domain.DLQEntry) error { return nil }
func (f *fakeBroker) Close() error                                         { return nil }

type fakeBus struct{ published []string }

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.published = append(b.published, channel)
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) SetLastState(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
func (b *fakeBus) GetLastState(context.Context, string) (string, error) { return "", nil }
func (b *fakeBus) RemoveLastState(context.Context, string) error { return nil }
func (b *fakeBus) SetRunning(context.Context, string, map[string]string, time.Duration) error {
	return nil
}
func (b *fakeBus) RemoveRunning(context.Context, string) error                 { return nil }
func (b *fakeBus) AddRunningEvaluation(context.Context, string) error          { return nil }
func (b *fakeBus) RemoveRunningEvaluation(context.Context, string) error       { return nil }
func (b *fakeBus) IsRunningEvaluation(context.Context, string) (bool, error)   { return false, nil }

func newTestGateway() (*Gateway, *fakeBroker) {
	st := persistence.New(memory.NewStore(), nil, memory.NewCache(), nil, 1<<20, 1024)
	broker := &fakeBroker{}
	return New(st, broker, nil, nil, 3600), broker
}

func newTestGatewayWithBus() (*Gateway, *fakeBroker, *fakeBus) {
	st := persistence.New(memory.NewStore(), nil, memory.NewCache(), nil, 1<<20, 1024)
	broker := &fakeBroker{}
	bus := &fakeBus{}
	return New(st, broker, bus, nil, 3600), broker, bus
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Code:        "print('hi')",
		Language:    "python",
		Timeout:     30,
		MemoryLimit: "256Mi",
		CPULimit:    "250m",
	}
}

func TestSubmitEvaluationHappyPath(t *testing.T) {
	g, broker := newTestGateway()
	res, err := g.SubmitEvaluation(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, domain.StatusQueued, res.Status)
	require.Len(t, broker.enqueued, 1)
	assert.Equal(t, res.ID, broker.enqueued[0].EvalID)

	ev, err := g.GetEvaluation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, ev.Status)
	assert.NotEmpty(t, ev.CodeHash)
}

func TestSubmitEvaluationPublishesQueuedEvent(t *testing.T) {
	g, _, bus := newTestGatewayWithBus()
	_, err := g.SubmitEvaluation(context.Background(), validRequest())
	require.NoError(t, err)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "evaluation:queued", bus.published[0])
}

func TestSubmitEvaluationRejectsInvalidRequest(t *testing.T) {
	g, _ := newTestGateway()
	req := validRequest()
	req.Code = ""
	_, err := g.SubmitEvaluation(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSubmitEvaluationRejectsTimeoutOverMax(t *testing.T) {
	g, _ := newTestGateway()
	req := validRequest()
	req.Timeout = 999999
	_, err := g.SubmitEvaluation(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSubmitEvaluationSucceedsEvenIfEnqueueFails(t *testing.T) {
	g, broker := newTestGateway()
	broker.failNext = true
	res, err := g.SubmitEvaluation(context.Background(), validRequest())
	require.NoError(t, err, "persisted record should be returned even if enqueue logging fails")
	assert.NotEmpty(t, res.ID)
}

func TestSubmitEvaluationIdempotencyKeyDeduplicates(t *testing.T) {
	g, broker := newTestGateway()
	req := validRequest()
	req.IdempotencyKey = "client-retry-1"

	first, err := g.SubmitEvaluation(context.Background(), req)
	require.NoError(t, err)

	second, err := g.SubmitEvaluation(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, broker.enqueued, 1, "deduplicated submission should not enqueue twice")
}

func TestGetEvaluationNotFound(t *testing.T) {
	g, _ := newTestGateway()
	_, err := g.GetEvaluation(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListEvaluationsReturnsTotalCount(t *testing.T) {
	g, _ := newTestGateway()
	for i := 0; i < 3; i++ {
		_, err := g.SubmitEvaluation(context.Background(), validRequest())
		require.NoError(t, err)
	}

	evs, total, err := g.ListEvaluations(context.Background(), domain.ListFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
	assert.EqualValues(t, 3, total)
}

type fakeCanceller struct{ called string }

func (f *fakeCanceller) DeleteJob(_ context.Context, name string) error {
	f.called = name
	return nil
}

func TestCancelEvaluationRequestsJobDeletion(t *testing.T) {
	g, _ := newTestGateway()
	res, err := g.SubmitEvaluation(context.Background(), validRequest())
	require.NoError(t, err)

	canceller := &fakeCanceller{}
	require.NoError(t, g.CancelEvaluation(context.Background(), res.ID, "job-abc", canceller))
	assert.Equal(t, "job-abc", canceller.called)
}

func TestCancelEvaluationNoOpWhenNoJobName(t *testing.T) {
	g, _ := newTestGateway()
	res, err := g.SubmitEvaluation(context.Background(), validRequest())
	require.NoError(t, err)

	canceller := &fakeCanceller{}
	require.NoError(t, g.CancelEvaluation(context.Background(), res.ID, "", canceller))
	assert.Empty(t, canceller.called)
}
