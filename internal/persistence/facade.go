// Package persistence implements the persistence façade (C5): it normalizes
// access to a relational record store, an overflow blob store, and an
// in-process cache, composing them deterministically rather than through
// reflection, per SPEC_FULL.md's Design Notes.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Backend is a relational-store variant consumed by the façade. The
// Postgres adapter implements this; a file-backed or in-memory
// implementation can stand in for tests.
type Backend interface {
	Put(ctx context.Context, ev domain.Evaluation) error
	Get(ctx context.Context, id string) (domain.Evaluation, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Evaluation, error)
	Count(ctx context.Context, status *domain.Status) (int64, error)
	Delete(ctx context.Context, id string) error
	AddEvent(ctx context.Context, id string, ev domain.Event) error
	GetEvents(ctx context.Context, id string) ([]domain.Event, error)
}

// Cache is the in-process read cache, safe for concurrent use.
type Cache interface {
	Get(id string) (domain.Evaluation, bool)
	Set(ev domain.Evaluation)
	Delete(id string)
}

// BlobStore holds externalized output/error bytes that exceed the inline
// threshold.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Facade implements domain.Store by composing a primary backend, an
// optional secondary (fallback) backend, a cache, and a blob store.
type Facade struct {
	primary   Backend
	secondary Backend // may be nil
	cache     Cache
	blob      BlobStore

	inlineThreshold int64
	previewSize     int64
}

// New constructs a Facade. secondary may be nil when no fallback backend is
// configured.
func New(primary, secondary Backend, cache Cache, blob BlobStore, inlineThreshold, previewSize int64) *Facade {
	return &Facade{
		primary:         primary,
		secondary:       secondary,
		cache:           cache,
		blob:            blob,
		inlineThreshold: inlineThreshold,
		previewSize:     previewSize,
	}
}

// Create persists a new evaluation record, writing to the primary with a
// fallback to the secondary, then refreshes the cache.
func (f *Facade) Create(ctx context.Context, ev domain.Evaluation) error {
	if err := f.writeThrough(ctx, ev); err != nil {
		return fmt.Errorf("op=Facade.Create id=%s: %w", ev.ID, err)
	}
	return nil
}

// Update applies a partial field update, merging metadata and externalizing
// oversized output/error fields, then writes the merged record through.
func (f *Facade) Update(ctx context.Context, id string, fields map[string]any) error {
	ev, err := f.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=Facade.Update id=%s: %w", id, err)
	}

	if err := f.applyFields(ctx, &ev, fields); err != nil {
		return fmt.Errorf("op=Facade.Update id=%s: %w", id, err)
	}

	if err := f.writeThrough(ctx, ev); err != nil {
		return fmt.Errorf("op=Facade.Update id=%s: %w", id, err)
	}
	return nil
}

// applyFields mutates ev in place per the field-merge and externalization
// routing semantics.
func (f *Facade) applyFields(ctx context.Context, ev *domain.Evaluation, fields map[string]any) error {
	for k, v := range fields {
		switch k {
		case "metadata":
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if ev.Metadata == nil {
				ev.Metadata = map[string]any{}
			}
			for mk, mv := range m {
				ev.Metadata[mk] = mv
			}
		case "output":
			if err := f.externalize(ctx, ev, "output", v); err != nil {
				return err
			}
		case "error":
			if err := f.externalize(ctx, ev, "error", v); err != nil {
				return err
			}
		case "status":
			if s, ok := v.(domain.Status); ok {
				ev.Status = s
			} else if s, ok := v.(string); ok {
				ev.Status = domain.Status(s)
			}
		case "queued_at":
			setTimePtr(&ev.QueuedAt, v)
		case "started_at":
			setTimePtr(&ev.StartedAt, v)
		case "completed_at":
			setTimePtr(&ev.CompletedAt, v)
		case "exit_code":
			if n, ok := v.(int); ok {
				ev.ExitCode = &n
			}
		case "runtime_ms":
			if n, ok := v.(int64); ok {
				ev.RuntimeMS = &n
			}
		case "executor_image":
			if s, ok := v.(string); ok {
				ev.ExecutorImage = s
			}
		}
	}
	return nil
}

func setTimePtr(dst **time.Time, v any) {
	switch t := v.(type) {
	case time.Time:
		tt := t
		*dst = &tt
	case *time.Time:
		*dst = t
	}
}

// externalize implements the inline/preview/overflow routing rule and
// invariant 4: a field exceeding inlineThreshold bytes is stored in full in
// the blob store, with only its first previewSize bytes kept inline.
func (f *Facade) externalize(ctx context.Context, ev *domain.Evaluation, field string, v any) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	size := int64(len(s))
	truncated := size > f.inlineThreshold
	preview := s
	location := ""
	if truncated {
		if f.blob == nil {
			return fmt.Errorf("op=externalize field=%s: %w: no blob store configured", field, domain.ErrStoreUnavailable)
		}
		location = blobKey(ev.ID, field)
		if err := f.blob.Put(ctx, location, []byte(s)); err != nil {
			return fmt.Errorf("op=externalize field=%s: %w", field, err)
		}
		cut := f.previewSize
		if cut > size {
			cut = size
		}
		preview = s[:cut]
	}

	switch field {
	case "output":
		ev.Output = preview
		ev.OutputTruncated = truncated
		ev.OutputSize = size
		ev.OutputLocation = location
	case "error":
		ev.Error = preview
		ev.ErrorTruncated = truncated
		ev.ErrorSize = size
		ev.ErrorLocation = location
	}
	return nil
}

func blobKey(id, field string) string {
	return fmt.Sprintf("evaluations/%s/%s", id, field)
}

// Get reads through the cache first, then the primary, then the secondary
// per the routing policy.
func (f *Facade) Get(ctx context.Context, id string) (domain.Evaluation, error) {
	if f.cache != nil {
		if ev, ok := f.cache.Get(id); ok {
			return ev, nil
		}
	}
	ev, err := f.primary.Get(ctx, id)
	if err == nil {
		f.cacheSet(ev)
		return ev, nil
	}
	if f.secondary == nil {
		return domain.Evaluation{}, fmt.Errorf("op=Facade.Get id=%s: %w", id, err)
	}
	ev, err2 := f.secondary.Get(ctx, id)
	if err2 != nil {
		return domain.Evaluation{}, fmt.Errorf("op=Facade.Get id=%s: primary=%v secondary=%w", id, err, err2)
	}
	f.cacheSet(ev)
	return ev, nil
}

// List paginates newest first; status, when set, filters server-side.
func (f *Facade) List(ctx context.Context, filter domain.ListFilter) ([]domain.Evaluation, error) {
	evs, err := f.primary.List(ctx, filter)
	if err == nil {
		return evs, nil
	}
	if f.secondary == nil {
		return nil, fmt.Errorf("op=Facade.List: %w", err)
	}
	evs, err2 := f.secondary.List(ctx, filter)
	if err2 != nil {
		return nil, fmt.Errorf("op=Facade.List: primary=%v secondary=%w", err, err2)
	}
	return evs, nil
}

// Count returns the exact count of evaluations, optionally filtered by
// status — resolving SPEC_FULL's Open Question decision #1 in favor of an
// exact count rather than a len(results)+offset approximation.
func (f *Facade) Count(ctx context.Context, status *domain.Status) (int64, error) {
	n, err := f.primary.Count(ctx, status)
	if err == nil {
		return n, nil
	}
	if f.secondary == nil {
		return 0, fmt.Errorf("op=Facade.Count: %w", err)
	}
	n, err2 := f.secondary.Count(ctx, status)
	if err2 != nil {
		return 0, fmt.Errorf("op=Facade.Count: primary=%v secondary=%w", err, err2)
	}
	return n, nil
}

// Delete soft-deletes the record (status set to a sentinel) on the primary,
// falling back to the secondary, and evicts the cache entry.
func (f *Facade) Delete(ctx context.Context, id string) error {
	err := f.primary.Delete(ctx, id)
	if err != nil && f.secondary != nil {
		err = f.secondary.Delete(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("op=Facade.Delete id=%s: %w", id, err)
	}
	if f.cache != nil {
		f.cache.Delete(id)
	}
	return nil
}

// AddEvent appends a lifecycle event to an evaluation's history.
func (f *Facade) AddEvent(ctx context.Context, id string, typ, message string, meta map[string]any) error {
	ev := domain.Event{Type: typ, Timestamp: time.Now().UTC(), Message: message, Metadata: meta}
	if err := f.primary.AddEvent(ctx, id, ev); err != nil {
		if f.secondary == nil {
			return fmt.Errorf("op=Facade.AddEvent id=%s: %w", id, err)
		}
		if err2 := f.secondary.AddEvent(ctx, id, ev); err2 != nil {
			return fmt.Errorf("op=Facade.AddEvent id=%s: primary=%v secondary=%w", id, err, err2)
		}
	}
	return nil
}

// GetEvents returns an evaluation's event history ordered by timestamp.
func (f *Facade) GetEvents(ctx context.Context, id string) ([]domain.Event, error) {
	evs, err := f.primary.GetEvents(ctx, id)
	if err == nil {
		return evs, nil
	}
	if f.secondary == nil {
		return nil, fmt.Errorf("op=Facade.GetEvents id=%s: %w", id, err)
	}
	evs, err2 := f.secondary.GetEvents(ctx, id)
	if err2 != nil {
		return nil, fmt.Errorf("op=Facade.GetEvents id=%s: primary=%v secondary=%w", id, err, err2)
	}
	return evs, nil
}

// GetOutput returns the full externalized bytes for "output" or "error",
// regardless of the inline preview (externalization
// round-trip).
func (f *Facade) GetOutput(ctx context.Context, id, field string) ([]byte, error) {
	ev, err := f.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("op=Facade.GetOutput id=%s: %w", id, err)
	}
	var truncated bool
	var location string
	var inline string
	switch field {
	case "output":
		truncated, location, inline = ev.OutputTruncated, ev.OutputLocation, ev.Output
	case "error":
		truncated, location, inline = ev.ErrorTruncated, ev.ErrorLocation, ev.Error
	default:
		return nil, fmt.Errorf("op=Facade.GetOutput field=%s: %w", field, domain.ErrInvalidRequest)
	}
	if !truncated {
		return []byte(inline), nil
	}
	if f.blob == nil {
		return nil, fmt.Errorf("op=Facade.GetOutput field=%s: %w", field, domain.ErrStoreUnavailable)
	}
	b, err := f.blob.Get(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("op=Facade.GetOutput field=%s: %w", field, err)
	}
	return b, nil
}

func (f *Facade) writeThrough(ctx context.Context, ev domain.Evaluation) error {
	err := f.primary.Put(ctx, ev)
	if err != nil {
		if f.secondary == nil {
			return err
		}
		if err2 := f.secondary.Put(ctx, ev); err2 != nil {
			return fmt.Errorf("primary=%v secondary=%w", err, err2)
		}
	}
	f.cacheSet(ev)
	return nil
}

func (f *Facade) cacheSet(ev domain.Evaluation) {
	if f.cache != nil {
		f.cache.Set(ev)
	}
}

var _ domain.Store = (*Facade)(nil)
