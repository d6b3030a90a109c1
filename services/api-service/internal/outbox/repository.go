package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/db"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	otelx "github.com/md-rashed-zaman/flowrunner/libs/otel"
)

const AggregateWorkflow = "workflow"

// Event is one row waiting to be published. Payload is the encoded envelope.
type Event struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// FromEnvelope encodes env as an outbox event keyed by the workflow it
// targets.
func FromEnvelope(env events.Envelope, workflowID uuid.UUID) (Event, error) {
	payload, err := events.Encode(env)
	if err != nil {
		return Event{}, fmt.Errorf("encode envelope: %w", err)
	}
	return Event{
		EventID:       env.EventID,
		AggregateType: AggregateWorkflow,
		AggregateID:   workflowID.String(),
		EventType:     env.EventType,
		Payload:       payload,
	}, nil
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, q db.Querier, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate)
	return err
}

type Record struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Trace         otelx.TraceContext
	CreatedAt     time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, q db.Querier, limit int) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Trace.Traceparent, &rcd.Trace.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q db.Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// Enqueuer writes trigger envelopes to the outbox in a single transaction.
type Enqueuer struct {
	pool *db.Pool
	repo *Repository
}

func NewEnqueuer(pool *db.Pool, repo *Repository) *Enqueuer {
	return &Enqueuer{pool: pool, repo: repo}
}

func (e *Enqueuer) Enqueue(ctx context.Context, env events.Envelope, workflowID uuid.UUID) error {
	evt, err := FromEnvelope(env, workflowID)
	if err != nil {
		return err
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.repo.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return tx.Commit(ctx)
}
