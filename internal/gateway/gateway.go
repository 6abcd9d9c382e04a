// Package gateway implements the intake component (C1): it mints
// evaluation ids, persists the initial record, enqueues a work item on the
// broker, and serves status/listing queries.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/dispatcher"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// channelQueued is the lifecycle channel the Gateway publishes to once an
// evaluation is durably persisted and enqueued.
const channelQueued = "evaluation:queued"

// SubmitRequest is the validated shape of an incoming submission.
type SubmitRequest struct {
	Code          string `validate:"required,min=1"`
	Language      string `validate:"required"`
	Timeout       int    `validate:"required,min=1"`
	Priority      int    `validate:"min=-1,max=1"`
	MemoryLimit   string `validate:"required"`
	CPULimit      string `validate:"required"`
	ExecutorImage string
	// IdempotencyKey, when non-empty, deduplicates retried client submissions
	// so a request timeout-and-retry doesn't create two evaluations.
	IdempotencyKey string
}

// SubmitResult is returned on successful submission.
type SubmitResult struct {
	ID     string
	Status domain.Status
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// QuotaReader is the narrow slice of domain.ClusterClient the Gateway needs
// to synchronously reject requests that exceed absolute cluster limits.
type QuotaReader interface {
	ResourceQuota(ctx context.Context) (*domain.Quota, error)
}

// Gateway implements the C1 operations.
type Gateway struct {
	store      domain.Store
	broker     domain.Broker
	bus        domain.Bus
	quota      QuotaReader
	maxJobTTL  int
	idemMu     sync.Mutex
	idemByKey  map[string]string // idempotency key -> evaluation id
	idemExpiry map[string]time.Time
	idemTTL    time.Duration
}

// New constructs a Gateway. bus may be nil, in which case the queued
// lifecycle event is simply not published.
func New(store domain.Store, broker domain.Broker, bus domain.Bus, quota QuotaReader, maxJobTTL int) *Gateway {
	return &Gateway{
		store:      store,
		broker:     broker,
		bus:        bus,
		quota:      quota,
		maxJobTTL:  maxJobTTL,
		idemByKey:  make(map[string]string),
		idemExpiry: make(map[string]time.Time),
		idemTTL:    24 * time.Hour,
	}
}

// SubmitEvaluation validates, persists, and enqueues a new evaluation.
func (g *Gateway) SubmitEvaluation(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.IdempotencyKey != "" {
		if id, ok := g.lookupIdempotent(req.IdempotencyKey); ok {
			ev, err := g.store.Get(ctx, id)
			if err == nil {
				return SubmitResult{ID: ev.ID, Status: ev.Status}, nil
			}
		}
	}

	if err := getValidator().Struct(req); err != nil {
		return SubmitResult{}, fmt.Errorf("op=gateway.SubmitEvaluation: %w: %v", domain.ErrInvalidRequest, err)
	}
	if err := validateSniffedContentType(req.Code); err != nil {
		return SubmitResult{}, fmt.Errorf("op=gateway.SubmitEvaluation: %w: %v", domain.ErrInvalidRequest, err)
	}
	if g.maxJobTTL > 0 && req.Timeout > g.maxJobTTL {
		return SubmitResult{}, fmt.Errorf("op=gateway.SubmitEvaluation: %w: timeout %d exceeds max %d", domain.ErrInvalidRequest, req.Timeout, g.maxJobTTL)
	}

	if err := g.checkQuotaRejection(ctx, req); err != nil {
		return SubmitResult{}, err
	}

	id := generateID()
	now := time.Now().UTC()
	ev := domain.Evaluation{
		ID:             id,
		CodeHash:       hashCode(req.Code),
		Status:         domain.StatusQueued,
		CreatedAt:      now,
		QueuedAt:       &now,
		MemoryLimit:    req.MemoryLimit,
		CPULimit:       req.CPULimit,
		TimeoutSeconds: req.Timeout,
		Priority:       req.Priority,
		ExecutorImage:  req.ExecutorImage,
		Metadata:       map[string]any{},
	}

	if err := g.store.Create(ctx, ev); err != nil {
		return SubmitResult{}, fmt.Errorf("op=gateway.SubmitEvaluation id=%s: %w", id, err)
	}
	if err := g.store.AddEvent(ctx, id, "submitted", "evaluation submitted", nil); err != nil {
		slog.Error("failed to record submitted event", slog.String("id", id), slog.Any("error", err))
	}
	observability.RecordEvaluationSubmitted()

	item := domain.WorkItem{
		EvalID:        id,
		Code:          req.Code,
		Language:      req.Language,
		Timeout:       req.Timeout,
		MemoryLimit:   req.MemoryLimit,
		CPULimit:      req.CPULimit,
		Priority:      req.Priority,
		ExecutorImage: req.ExecutorImage,
	}
	if err := g.broker.Enqueue(ctx, item); err != nil {
		// Persistence already succeeded; losing the enqueue is logged, not
		// fatal to the caller. An out-of-scope reconciliation sweep would
		// re-enqueue records stuck in queued.
		slog.Error("failed to enqueue work item after persisting record", slog.String("id", id), slog.Any("error", err))
	}

	g.publishQueued(ctx, id, now)

	if req.IdempotencyKey != "" {
		g.rememberIdempotent(req.IdempotencyKey, id)
	}

	return SubmitResult{ID: id, Status: domain.StatusQueued}, nil
}

// GetEvaluation reads the current record for id.
func (g *Gateway) GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error) {
	ev, err := g.store.Get(ctx, id)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("op=gateway.GetEvaluation id=%s: %w", id, err)
	}
	return ev, nil
}

// ListEvaluations returns a page of evaluations, newest first.
func (g *Gateway) ListEvaluations(ctx context.Context, filter domain.ListFilter) ([]domain.Evaluation, int64, error) {
	evs, err := g.store.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("op=gateway.ListEvaluations: %w", err)
	}
	total, err := g.store.Count(ctx, filter.Status)
	if err != nil {
		return nil, 0, fmt.Errorf("op=gateway.ListEvaluations: %w", err)
	}
	return evs, total, nil
}

// Canceller is the narrow slice of the Dispatcher the Gateway needs to
// request deletion of a running execution unit.
type Canceller interface {
	DeleteJob(ctx context.Context, name string) error
}

// CancelEvaluation requests deletion of id's execution unit, if any. The
// cancellation itself is confirmed asynchronously by a cancelled lifecycle
// event that the Dispatcher's watcher publishes once it observes the deletion.
func (g *Gateway) CancelEvaluation(ctx context.Context, id string, jobName string, dispatcher Canceller) error {
	ev, err := g.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=gateway.CancelEvaluation id=%s: %w", id, err)
	}
	if ev.Status.Terminal() {
		return nil
	}
	if jobName == "" {
		return nil
	}
	if err := dispatcher.DeleteJob(ctx, jobName); err != nil {
		return fmt.Errorf("op=gateway.CancelEvaluation id=%s: %w", id, err)
	}
	return nil
}

// checkQuotaRejection synchronously rejects requests that exceed the
// cluster's absolute hard totals. Transient unavailability of current
// capacity is the Worker's retryable resource_exhaustion path, not this one.
func (g *Gateway) checkQuotaRejection(ctx context.Context, req SubmitRequest) error {
	if g.quota == nil {
		return nil
	}
	q, err := g.quota.ResourceQuota(ctx)
	if err != nil || q == nil || q.Unbounded {
		return nil
	}

	memMB, err := dispatcher.ParseMemoryMB(req.MemoryLimit)
	if err != nil {
		return fmt.Errorf("op=gateway.SubmitEvaluation: %w: invalid memory_limit: %v", domain.ErrInvalidRequest, err)
	}
	cpuMilli, err := dispatcher.ParseCPUMillicores(req.CPULimit)
	if err != nil {
		return fmt.Errorf("op=gateway.SubmitEvaluation: %w: invalid cpu_limit: %v", domain.ErrInvalidRequest, err)
	}

	if memMB > q.HardMemoryMB || cpuMilli > q.HardCPUMillicore {
		return fmt.Errorf("op=gateway.SubmitEvaluation: %w: request exceeds cluster hard limits", domain.ErrQuotaRejected)
	}
	return nil
}

// publishQueued announces the queued record on the bus. It is a
// best-effort notification: the record is already durable through C5 by
// the time this runs, so a publish failure is logged and otherwise ignored.
func (g *Gateway) publishQueued(ctx context.Context, id string, queuedAt time.Time) {
	if g.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"eval_id":   id,
		"queued_at": queuedAt.Format(time.RFC3339),
	})
	if err := g.bus.Publish(ctx, channelQueued, payload); err != nil {
		slog.Error("failed to publish queued event", slog.String("id", id), slog.Any("error", err))
	}
}

func (g *Gateway) lookupIdempotent(key string) (string, bool) {
	g.idemMu.Lock()
	defer g.idemMu.Unlock()
	id, ok := g.idemByKey[key]
	if !ok {
		return "", false
	}
	if time.Now().After(g.idemExpiry[key]) {
		delete(g.idemByKey, key)
		delete(g.idemExpiry, key)
		return "", false
	}
	return id, true
}

func (g *Gateway) rememberIdempotent(key, id string) {
	g.idemMu.Lock()
	defer g.idemMu.Unlock()
	g.idemByKey[key] = id
	g.idemExpiry[key] = time.Now().Add(g.idemTTL)
}

// generateID mints an evaluation id as YYYYMMDD_HHMMSS_<8 hex> in UTC.
func generateID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// time-derived suffix rather than panic.
		return fmt.Sprintf("%s_%08x", time.Now().UTC().Format("20060102_150405"), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), hex.EncodeToString(buf[:]))
}

// validateSniffedContentType sniffs the declared content type of submitted
// code and rejects anything that doesn't detect as text, catching binary
// payloads submitted as if they were source code.
func validateSniffedContentType(code string) error {
	mtype := mimetype.Detect([]byte(code))
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("submitted code sniffed as %s, not a text content type", mtype.String())
}

// hashCode computes the evaluation record's code_hash as a blake2b-256
// digest of the submitted source.
func hashCode(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
