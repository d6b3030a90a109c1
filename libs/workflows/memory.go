package workflows

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]Workflow
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[uuid.UUID]Workflow{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byID[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workflow, 0, len(s.byID))
	for _, w := range s.byID {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, w Workflow) (Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w = withDefaults(w)
	if s.nameTaken(w.Name, w.ID) {
		return Workflow{}, fmt.Errorf("%w: %q", ErrAlreadyExists, w.Name)
	}
	now := s.now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	s.byID[w.ID] = w
	return w, nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, p Patch) (Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	p.apply(&w)
	if s.nameTaken(w.Name, id) {
		return Workflow{}, fmt.Errorf("%w: %q", ErrAlreadyExists, w.Name)
	}
	w.UpdatedAt = s.now().UTC()
	s.byID[id] = w
	return w, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) nameTaken(name string, except uuid.UUID) bool {
	for id, w := range s.byID {
		if id != except && w.Name == name {
			return true
		}
	}
	return false
}
