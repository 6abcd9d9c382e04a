package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

type fakeCluster struct {
	quota         *domain.Quota
	quotaErr      error
	catalog       []domain.CatalogImage
	isolation     bool
	isolationErr  error
	createErr     error
	createdSpec   domain.JobSpec
	deletedName   string
	statusByName  map[string]domain.JobCounters
	logsByName    map[string]string
	exitByName    map[string]*int
}

func (f *fakeCluster) ResourceQuota(context.Context) (*domain.Quota, error) { return f.quota, f.quotaErr }
func (f *fakeCluster) ImageCatalog(context.Context) ([]domain.CatalogImage, error) {
	return f.catalog, nil
}
func (f *fakeCluster) IsolationRuntimeAvailable(context.Context) (bool, error) {
	return f.isolation, f.isolationErr
}
func (f *fakeCluster) CreateJob(_ context.Context, spec domain.JobSpec) error {
	f.createdSpec = spec
	return f.createErr
}
func (f *fakeCluster) DeleteJob(_ context.Context, name string) error {
	f.deletedName = name
	return nil
}
func (f *fakeCluster) JobStatus(_ context.Context, name string) (domain.JobCounters, error) {
	return f.statusByName[name], nil
}
func (f *fakeCluster) JobLogs(_ context.Context, name string, _ int) (string, *int, error) {
	return f.logsByName[name], f.exitByName[name], nil
}
func (f *fakeCluster) Watch(context.Context) (<-chan domain.JobEvent, error) {
	ch := make(chan domain.JobEvent)
	close(ch)
	return ch, nil
}

type fakeBus struct {
	lastState   map[string]string
	published   []string
	publishErrs error
}

func newFakeBus() *fakeBus {
	return &fakeBus{lastState: map[string]string{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.published = append(b.published, channel)
	return b.publishErrs
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) SetLastState(_ context.Context, jobName, state string, _ time.Duration) (bool, error) {
	changed := b.lastState[jobName] != state
	b.lastState[jobName] = state
	return changed, nil
}
func (b *fakeBus) GetLastState(_ context.Context, jobName string) (string, error) {
	return b.lastState[jobName], nil
}
func (b *fakeBus) SetRunning(context.Context, string, map[string]string, time.Duration) error { return nil }
func (b *fakeBus) RemoveRunning(context.Context, string) error                                { return nil }
func (b *fakeBus) AddRunningEvaluation(context.Context, string) error                          { return nil }
func (b *fakeBus) RemoveRunningEvaluation(context.Context, string) error                       { return nil }
func (b *fakeBus) IsRunningEvaluation(context.Context, string) (bool, error)                   { return false, nil }
func (b *fakeBus) RemoveLastState(context.Context, string) error                               { return nil }

var _ domain.Bus = (*fakeBus)(nil)

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		quota:        &domain.Quota{HardMemoryMB: 4096, HardCPUMillicore: 4000},
		catalog:      []domain.CatalogImage{{Name: "default", Image: "python-executor", Default: true}},
		isolation:    true,
		statusByName: map[string]domain.JobCounters{},
		logsByName:   map[string]string{},
		exitByName:   map[string]*int{},
	}
}

func baseCfg() Config {
	return Config{
		ExecutorImage:     "python-executor",
		DefaultImageTag:   "latest",
		JobCleanupTTL:     300,
		IsolationRequired: true,
	}
}

func TestCheckCapacityUnbounded(t *testing.T) {
	c := newFakeCluster()
	c.quota = &domain.Quota{Unbounded: true}
	d := New(c, nil, baseCfg())

	q, has, _, err := d.CheckCapacity(context.Background(), "256Mi", "250m")
	require.NoError(t, err)
	assert.True(t, has)
	assert.True(t, q.Unbounded)
}

func TestCheckCapacityInsufficientMemory(t *testing.T) {
	c := newFakeCluster()
	c.quota = &domain.Quota{HardMemoryMB: 100, UsedMemoryMB: 90, HardCPUMillicore: 4000}
	d := New(c, nil, baseCfg())

	_, has, reason, err := d.CheckCapacity(context.Background(), "256Mi", "100m")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Contains(t, reason, "insufficient memory")
}

func TestExecuteRejectsOverHardLimit(t *testing.T) {
	c := newFakeCluster()
	c.quota = &domain.Quota{HardMemoryMB: 100, HardCPUMillicore: 4000}
	d := New(c, nil, baseCfg())

	_, err := d.Execute(context.Background(), ExecuteRequest{
		EvalID: "eval_1", Code: "print(1)", Timeout: 30,
		MemoryLimit: "256Mi", CPULimit: "100m",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExecuteFailsWhenIsolationRequiredAndUnavailable(t *testing.T) {
	c := newFakeCluster()
	c.isolation = false
	d := New(c, nil, baseCfg())

	_, err := d.Execute(context.Background(), ExecuteRequest{
		EvalID: "eval_1", Code: "print(1)", Timeout: 30,
		MemoryLimit: "256Mi", CPULimit: "100m",
	})
	assert.ErrorIs(t, err, domain.ErrIsolationUnavailable)
}

func TestExecuteCreatesJobWithDeterministicName(t *testing.T) {
	c := newFakeCluster()
	d := New(c, nil, baseCfg())

	res, err := d.Execute(context.Background(), ExecuteRequest{
		EvalID: "eval_abcDEF_123", Code: "print(1)", Timeout: 30,
		MemoryLimit: "256Mi", CPULimit: "250m", Priority: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "created", res.Status)
	prefix := JobNamePrefix("eval_abcDEF_123")
	assert.Equal(t, prefix, res.JobName[:len(prefix)])
	assert.Equal(t, "python-executor:latest", c.createdSpec.Image)
	assert.Equal(t, "high", c.createdSpec.Priority)
	assert.Equal(t, int64(256), c.createdSpec.MemoryLimitMB)
	assert.Equal(t, int64(128), c.createdSpec.MemoryRequestMB)
}

func TestExecuteRemapsQuotaRejection(t *testing.T) {
	c := newFakeCluster()
	c.createErr = domain.ErrQuotaRejected
	d := New(c, nil, baseCfg())

	_, err := d.Execute(context.Background(), ExecuteRequest{
		EvalID: "eval_1", Code: "print(1)", Timeout: 30,
		MemoryLimit: "256Mi", CPULimit: "100m",
	})
	assert.ErrorIs(t, err, domain.ErrQuotaRejected)
}

func TestGetJobStatusClassifies(t *testing.T) {
	c := newFakeCluster()
	c.statusByName["job-1"] = domain.JobCounters{Succeeded: 1}
	d := New(c, nil, baseCfg())

	status, _, err := d.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status)
}

func TestDeleteJobDelegatesToCluster(t *testing.T) {
	c := newFakeCluster()
	d := New(c, nil, baseCfg())

	require.NoError(t, d.DeleteJob(context.Background(), "job-xyz"))
	assert.Equal(t, "job-xyz", c.deletedName)
}

func TestResolveExecutorImageFallsBackToDefault(t *testing.T) {
	catalog := []domain.CatalogImage{
		{Name: "ml", Image: "executor-ml", Default: false},
		{Name: "default", Image: "executor-base", Default: true},
	}
	assert.Equal(t, "executor-ml:latest", ResolveExecutorImage("ml", catalog, "", "latest"))
	assert.Equal(t, "executor-base:latest", ResolveExecutorImage("unknown", catalog, "", "latest"))
	assert.Equal(t, "registry.local/custom/image:v1", ResolveExecutorImage("custom/image:v1", catalog, "registry.local", "latest"))
}

func TestHandleDeletionSkipsCancelWhenAlreadyTerminal(t *testing.T) {
	c := newFakeCluster()
	b := newFakeBus()
	b.lastState["job-1"] = "succeeded"
	d := New(c, b, baseCfg())

	d.handleDeletion(context.Background(), domain.JobEvent{EvalID: "eval_1", Name: "job-1", Type: "DELETED"})

	assert.Empty(t, b.published, "deletion of an already-terminal job must not publish a cancellation")
}

func TestHandleDeletionPublishesCancelForNonTerminalState(t *testing.T) {
	c := newFakeCluster()
	b := newFakeBus()
	b.lastState["job-2"] = "running"
	d := New(c, b, baseCfg())

	d.handleDeletion(context.Background(), domain.JobEvent{EvalID: "eval_2", Name: "job-2", Type: "DELETED"})

	require.Len(t, b.published, 1)
	assert.Equal(t, channelCancelled, b.published[0])
}

func TestHandleDeletionPublishesCancelForUnknownState(t *testing.T) {
	c := newFakeCluster()
	b := newFakeBus()
	d := New(c, b, baseCfg())

	d.handleDeletion(context.Background(), domain.JobEvent{EvalID: "eval_3", Name: "job-3", Type: "DELETED"})

	require.Len(t, b.published, 1)
	assert.Equal(t, channelCancelled, b.published[0])
}

func TestRunWatcherStopsOnContextCancel(t *testing.T) {
	c := newFakeCluster()
	d := New(c, nil, baseCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunWatcher(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunWatcher did not return after context cancellation")
	}
}
