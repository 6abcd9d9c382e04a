// Package domain defines core entities, ports, and domain-specific errors
// for the evaluation pipeline.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Adapters wrap these with fmt.Errorf("op=...: %w", err)
// so callers can classify failures with errors.Is while still getting a useful message.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrQuotaRejected        = errors.New("quota rejected")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	ErrBusUnavailable       = errors.New("bus unavailable")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrValidation           = errors.New("validation error")
	ErrIsolationUnavailable = errors.New("isolation runtime unavailable")
	ErrTimeout              = errors.New("timeout")
	ErrInternal             = errors.New("internal error")
)

// Status captures the lifecycle state of an evaluation.
type Status string

// Evaluation status values, matching the allowed transition graph:
// submitted -> queued -> provisioning -> running -> {completed|failed|timeout}
// cancelled may be entered from any non-terminal state.
const (
	StatusSubmitted   Status = "submitted"
	StatusQueued      Status = "queued"
	StatusProvisioning Status = "provisioning"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusCancelled   Status = "cancelled"
	// StatusDeleted is a soft-delete sentinel; never a transition target from
	// the state machine itself, only set by an explicit Delete operation.
	StatusDeleted Status = "deleted"
)

// Terminal reports whether s is one of the sticky terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed non-cancel edges of the state machine.
var transitions = map[Status]map[Status]bool{
	StatusSubmitted:    {StatusQueued: true},
	StatusQueued:       {StatusProvisioning: true},
	StatusProvisioning: {StatusRunning: true, StatusFailed: true, StatusTimeout: true, StatusCompleted: true},
	StatusRunning:      {StatusCompleted: true, StatusFailed: true, StatusTimeout: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge.
// Terminal states never transition further (invariant 1). Cancelled may be
// entered from any non-terminal state (invariant 2).
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	if edges, ok := transitions[from]; ok {
		return edges[to]
	}
	return false
}

// Evaluation is the authoritative record for one user code submission.
//
//go:generate mockery --name=Store --with-expecter --filename=store_mock.go
//go:generate mockery --name=Broker --with-expecter --filename=broker_mock.go
//go:generate mockery --name=Bus --with-expecter --filename=bus_mock.go
//go:generate mockery --name=ClusterClient --with-expecter --filename=cluster_client_mock.go
type Evaluation struct {
	ID       string
	CodeHash string
	Status   Status

	CreatedAt     time.Time
	QueuedAt      *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time

	MemoryLimit    string // e.g. "512Mi"
	CPULimit       string // e.g. "500m"
	TimeoutSeconds int
	Priority       int // -1, 0, 1
	ExecutorImage  string

	ExitCode  *int
	RuntimeMS *int64

	Output          string
	OutputTruncated bool
	OutputSize      int64
	OutputLocation  string

	Error          string
	ErrorTruncated bool
	ErrorSize      int64
	ErrorLocation  string

	Metadata map[string]any
}

// Event is an append-only lifecycle history entry for an evaluation.
type Event struct {
	Type      string
	Timestamp time.Time
	Message   string
	Metadata  map[string]any
}

// ListFilter narrows ListEvaluations.
type ListFilter struct {
	Limit  int
	Offset int
	Status *Status
}

// Store is the persistence façade port (C5) consumed by the gateway,
// worker, and reconciler. All operations are synchronous to the caller even
// though implementations may internally consult several backends.
type Store interface {
	Create(ctx context.Context, ev Evaluation) error
	Update(ctx context.Context, id string, fields map[string]any) error
	Get(ctx context.Context, id string) (Evaluation, error)
	List(ctx context.Context, filter ListFilter) ([]Evaluation, error)
	Count(ctx context.Context, status *Status) (int64, error)
	Delete(ctx context.Context, id string) error

	AddEvent(ctx context.Context, id string, typ, message string, meta map[string]any) error
	GetEvents(ctx context.Context, id string) ([]Event, error)

	// GetOutput returns the full, non-truncated output or error bytes for a
	// field previously externalized by Update, regardless of preview size.
	GetOutput(ctx context.Context, id, field string) ([]byte, error)
}

// WorkItem is the broker message schema shared between Gateway and Worker.
type WorkItem struct {
	EvalID        string `json:"eval_id"`
	Code          string `json:"code"`
	Language      string `json:"language"`
	Engine        string `json:"engine"`
	Timeout       int    `json:"timeout"`
	MemoryLimit   string `json:"memory_limit"`
	CPULimit      string `json:"cpu_limit"`
	Priority      int    `json:"priority"`
	ExecutorImage string `json:"executor_image,omitempty"`

	// Retry state travels with the message rather than an external store.
	Retry RetryState `json:"retry"`
}

// Broker is the durable at-least-once work queue port connecting Gateway to
// Worker (C1 producer side, C2 consumer side).
type Broker interface {
	Enqueue(ctx context.Context, item WorkItem) error
	EnqueueDLQ(ctx context.Context, entry DLQEntry) error
	Close() error
}

// Bus is the pub/sub fabric for lifecycle events and ephemeral coordination
// state (Dispatcher publishes, Reconciler subscribes; both read/write
// ephemeral keys).
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	SetLastState(ctx context.Context, jobName, state string, ttl time.Duration) (changed bool, err error)
	GetLastState(ctx context.Context, jobName string) (state string, err error)
	SetRunning(ctx context.Context, evalID string, fields map[string]string, ttl time.Duration) error
	RemoveRunning(ctx context.Context, evalID string) error
	AddRunningEvaluation(ctx context.Context, evalID string) error
	RemoveRunningEvaluation(ctx context.Context, evalID string) error
	IsRunningEvaluation(ctx context.Context, evalID string) (bool, error)
	RemoveLastState(ctx context.Context, jobName string) error
}

// ClusterClient is the scheduler port consumed by the Dispatcher (C3). A
// real implementation drives a container orchestrator; this repo also ships
// a Docker-backed adapter for local/dev/test use.
type ClusterClient interface {
	ResourceQuota(ctx context.Context) (*Quota, error)
	ImageCatalog(ctx context.Context) ([]CatalogImage, error)
	IsolationRuntimeAvailable(ctx context.Context) (bool, error)

	CreateJob(ctx context.Context, spec JobSpec) error
	DeleteJob(ctx context.Context, name string) error
	JobStatus(ctx context.Context, name string) (JobCounters, error)
	JobLogs(ctx context.Context, name string, tailLines int) (logs string, exitCode *int, err error)

	// Watch streams lifecycle events for jobs labelled app=evaluation. It is
	// expected to block; callers run it on a dedicated goroutine and drain
	// the returned channel.
	Watch(ctx context.Context) (<-chan JobEvent, error)
}

// Quota mirrors a namespace ResourceQuota's hard/used limits for memory (MB)
// and CPU (millicores).
type Quota struct {
	HardMemoryMB     int64
	UsedMemoryMB     int64
	HardCPUMillicore int64
	UsedCPUMillicore int64
	Unbounded        bool // true when no quota object exists
}

// CatalogImage is one entry of the executor-images ConfigMap.
type CatalogImage struct {
	Name      string `yaml:"name"`
	Image     string `yaml:"image"`
	Available bool   `yaml:"available"`
	Default   bool   `yaml:"default"`
}

// JobSpec is the manifest the Dispatcher composes for CreateJob.
type JobSpec struct {
	Name           string
	EvalID         string
	Image          string
	Code           string
	TimeoutSeconds int
	MemoryLimitMB  int64
	CPULimitMilli  int64
	MemoryRequestMB int64
	CPURequestMilli int64
	Priority        string // high|normal|low
	TTLSeconds      int
	ActiveDeadline  int
	BackoffLimit    int
	GracePeriod     int
	RuntimeClass    string // empty when isolation runtime unavailable/not required
	CreatedAt       time.Time
}

// JobCounters is the classification input derived from a scheduler job's
// pod counters.
type JobCounters struct {
	Active    int
	Succeeded int
	Failed    int
}

// ClassifyStatus derives {running, succeeded, failed, pending} from counters.
func (c JobCounters) ClassifyStatus() string {
	switch {
	case c.Active > 0:
		return "running"
	case c.Succeeded > 0:
		return "succeeded"
	case c.Failed > 0:
		return "failed"
	default:
		return "pending"
	}
}

// JobEvent is one observation from ClusterClient.Watch.
type JobEvent struct {
	Name      string
	EvalID    string
	Type      string // ADDED|MODIFIED|DELETED
	Counters  JobCounters
	Timestamp time.Time
}

// Context is a type alias to stdlib context.Context for convenience across
// layers that otherwise avoid importing it directly.
type Context = context.Context
