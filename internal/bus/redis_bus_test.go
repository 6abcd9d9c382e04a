package bus

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*RedisBus, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return New(rdb), cleanup
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "queued")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "queued", []byte("eval-1")))

	select {
	case got := <-msgs:
		assert.Equal(t, "eval-1", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSetLastStateReportsChange(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()
	ctx := context.Background()

	changed, err := b.SetLastState(ctx, "job-abc", "running", time.Minute)
	require.NoError(t, err)
	assert.True(t, changed, "first observation should report a change")

	changed, err = b.SetLastState(ctx, "job-abc", "running", time.Minute)
	require.NoError(t, err)
	assert.False(t, changed, "repeated identical state should not report a change")

	changed, err = b.SetLastState(ctx, "job-abc", "succeeded", time.Minute)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestGetLastStateReadsBackWithoutMutating(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()
	ctx := context.Background()

	state, err := b.GetLastState(ctx, "job-unknown")
	require.NoError(t, err)
	assert.Equal(t, "", state, "unobserved job should read back empty")

	_, err = b.SetLastState(ctx, "job-abc", "running", time.Minute)
	require.NoError(t, err)

	state, err = b.GetLastState(ctx, "job-abc")
	require.NoError(t, err)
	assert.Equal(t, "running", state)

	// GetLastState must not itself count as an observation.
	changed, err := b.SetLastState(ctx, "job-abc", "running", time.Minute)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRemoveLastStateClearsKey(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()
	ctx := context.Background()

	_, err := b.SetLastState(ctx, "job-xyz", "running", time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.RemoveLastState(ctx, "job-xyz"))

	changed, err := b.SetLastState(ctx, "job-xyz", "running", time.Minute)
	require.NoError(t, err)
	assert.True(t, changed, "after removal, next observation should count as a change")
}

func TestRunningEvaluationLifecycle(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()
	ctx := context.Background()

	running, err := b.IsRunningEvaluation(ctx, "eval-1")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, b.SetRunning(ctx, "eval-1", map[string]string{"job_name": "eval-1-abc"}, time.Minute))

	running, err = b.IsRunningEvaluation(ctx, "eval-1")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, b.RemoveRunning(ctx, "eval-1"))

	running, err = b.IsRunningEvaluation(ctx, "eval-1")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestAddRemoveRunningEvaluationWithoutHash(t *testing.T) {
	b, cleanup := newTestBus(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.AddRunningEvaluation(ctx, "eval-2"))
	running, err := b.IsRunningEvaluation(ctx, "eval-2")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, b.RemoveRunningEvaluation(ctx, "eval-2"))
	running, err = b.IsRunningEvaluation(ctx, "eval-2")
	require.NoError(t, err)
	assert.False(t, running)
}
