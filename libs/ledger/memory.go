package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct {
	event    uuid.UUID
	workflow uuid.UUID
}

// MemoryStore has the same atomicity as PostgresStore, with a mutex standing
// in for the unique constraint.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Record
	byPair map[pairKey]uuid.UUID
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   map[uuid.UUID]*Record{},
		byPair: map[pairKey]uuid.UUID{},
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source used for created_at/updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreatePending(_ context.Context, rec NewRecord) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{event: rec.EventID, workflow: rec.WorkflowID}
	if id, ok := s.byPair[key]; ok {
		return clone(*s.byID[id]), false, nil
	}

	now := s.now().UTC()
	r := &Record{
		ID:              uuid.New(),
		WorkflowID:      rec.WorkflowID,
		EventID:         rec.EventID,
		TraceID:         rec.TraceID,
		Action:          rec.Action,
		Status:          StatusPending,
		PayloadSnapshot: copyMap(rec.PayloadSnapshot),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.byID[r.ID] = r
	s.byPair[key] = r.ID
	return clone(*r), true, nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, c Claim) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[c.ID]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	if r.Attempts != c.ExpectedAttempts || r.QueuedToDLQ {
		return Record{}, false, nil
	}
	if r.Status != StatusPending && r.Status != StatusFailed {
		return Record{}, false, nil
	}
	if c.StaleAfter > 0 && r.Status == StatusPending && s.now().Sub(r.UpdatedAt) < c.StaleAfter {
		return Record{}, false, nil
	}
	r.Attempts++
	if c.LastError != "" {
		r.LastError = c.LastError
	}
	r.Status = StatusPending
	r.UpdatedAt = s.now().UTC()
	return clone(*r), true, nil
}

func (s *MemoryStore) MarkFinished(_ context.Context, id uuid.UUID, o Outcome) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	r.Status = o.Status
	r.Result = copyMap(o.Result)
	r.Error = o.Error
	r.Retryable = o.Retryable
	r.QueuedToDLQ = o.QueuedToDLQ
	r.Duration = o.seconds()
	r.ActionDurationMS = o.millis()
	r.UpdatedAt = s.now().UTC()
	return clone(*r), nil
}

func (s *MemoryStore) Get(_ context.Context, eventID, workflowID uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[pairKey{event: eventID, workflow: workflowID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(*s.byID[id]), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Record, error) {
	f = f.normalized()

	s.mu.Lock()
	matched := make([]Record, 0, len(s.byID))
	for _, r := range s.byID {
		if f.matches(*r) {
			matched = append(matched, clone(*r))
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func clone(r Record) Record {
	r.Result = copyMap(r.Result)
	r.PayloadSnapshot = copyMap(r.PayloadSnapshot)
	return r
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
