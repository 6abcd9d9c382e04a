package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Store is the in-process memory-backed variant,
// useful as a secondary fallback or in tests that don't need Postgres.
type Store struct {
	mu     sync.RWMutex
	evals  map[string]domain.Evaluation
	events map[string][]domain.Event
}

// NewStore constructs an empty in-memory Backend.
func NewStore() *Store {
	return &Store{evals: make(map[string]domain.Evaluation), events: make(map[string][]domain.Event)}
}

// Put upserts the full evaluation record.
func (s *Store) Put(_ context.Context, ev domain.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals[ev.ID] = ev
	return nil
}

// Get returns the evaluation by id.
func (s *Store) Get(_ context.Context, id string) (domain.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evals[id]
	if !ok {
		return domain.Evaluation{}, fmt.Errorf("op=memory.Store.Get id=%s: %w", id, domain.ErrNotFound)
	}
	return ev, nil
}

// List returns evaluations newest-first, optionally filtered by status.
func (s *Store) List(_ context.Context, filter domain.ListFilter) ([]domain.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.Evaluation
	for _, ev := range s.evals {
		if filter.Status != nil && ev.Status != *filter.Status {
			continue
		}
		all = append(all, ev)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	limit := filter.Limit
	offset := filter.Offset
	if offset >= len(all) {
		return []domain.Evaluation{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Count returns the exact number of evaluations, optionally filtered by status.
func (s *Store) Count(_ context.Context, status *domain.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status == nil {
		return int64(len(s.evals)), nil
	}
	var n int64
	for _, ev := range s.evals {
		if ev.Status == *status {
			n++
		}
	}
	return n, nil
}

// Delete soft-deletes the record.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evals[id]
	if !ok {
		return fmt.Errorf("op=memory.Store.Delete id=%s: %w", id, domain.ErrNotFound)
	}
	ev.Status = domain.StatusDeleted
	s.evals[id] = ev
	return nil
}

// AddEvent appends a lifecycle event to id's history.
func (s *Store) AddEvent(_ context.Context, id string, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = append(s.events[id], ev)
	return nil
}

// GetEvents returns id's event history ordered by timestamp.
func (s *Store) GetEvents(_ context.Context, id string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := append([]domain.Event(nil), s.events[id]...)
	sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	return evs, nil
}
