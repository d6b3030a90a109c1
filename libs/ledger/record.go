// Package ledger is the durable log of execution attempts, one record per
// (event_id, workflow_id) pair. The unique key is the deduplication
// mechanism; records are mutated in place and never deleted.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("execution record not found")

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

type Record struct {
	ID               uuid.UUID      `json:"id"`
	WorkflowID       uuid.UUID      `json:"workflow_id"`
	EventID          uuid.UUID      `json:"event_id"`
	TraceID          string         `json:"trace_id"`
	Action           string         `json:"action"`
	Status           Status         `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	PayloadSnapshot  map[string]any `json:"payload_snapshot,omitempty"`
	Error            string         `json:"error,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	Retryable        bool           `json:"retryable"`
	Attempts         int            `json:"attempts"`
	QueuedToDLQ      bool           `json:"queued_to_dlq"`
	Duration         float64        `json:"duration"`
	ActionDurationMS float64        `json:"action_duration_ms"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Terminal reports whether no further attempts may be made.
func (r Record) Terminal() bool {
	return r.QueuedToDLQ || r.Status == StatusSuccess || r.Status == StatusSkipped
}

type NewRecord struct {
	WorkflowID      uuid.UUID
	EventID         uuid.UUID
	TraceID         string
	Action          string
	PayloadSnapshot map[string]any
}

// Claim is a compare-and-swap on the attempt counter: it only applies when
// the stored attempts still equal ExpectedAttempts. A positive StaleAfter
// also requires a pending record to have been untouched for that long,
// measured against the store's own clock.
type Claim struct {
	ID               uuid.UUID
	ExpectedAttempts int
	LastError        string
	StaleAfter       time.Duration
}

type Outcome struct {
	Status      Status
	Result      map[string]any
	Error       string
	Retryable   bool
	QueuedToDLQ bool
	Duration    time.Duration
}

func (o Outcome) seconds() float64 { return o.Duration.Seconds() }

func (o Outcome) millis() float64 { return float64(o.Duration) / float64(time.Millisecond) }

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Filter struct {
	WorkflowID  *uuid.UUID
	EventID     *uuid.UUID
	Status      Status
	TraceID     string
	QueuedToDLQ *bool
	Limit       int
	Offset      int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(r Record) bool {
	if f.WorkflowID != nil && r.WorkflowID != *f.WorkflowID {
		return false
	}
	if f.EventID != nil && r.EventID != *f.EventID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.TraceID != "" && r.TraceID != f.TraceID {
		return false
	}
	if f.QueuedToDLQ != nil && r.QueuedToDLQ != *f.QueuedToDLQ {
		return false
	}
	return true
}

type Store interface {
	// CreatePending inserts a pending record unless one already exists for
	// the pair, in which case the existing record is returned with
	// created=false.
	CreatePending(ctx context.Context, rec NewRecord) (Record, bool, error)
	// IncrementAttempts bumps attempts by one and moves the record back to
	// pending. claimed is false when the record changed since it was read or
	// is no longer attemptable.
	IncrementAttempts(ctx context.Context, c Claim) (Record, bool, error)
	MarkFinished(ctx context.Context, id uuid.UUID, o Outcome) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	Get(ctx context.Context, eventID, workflowID uuid.UUID) (Record, error)
}
