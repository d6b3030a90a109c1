package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/flowrunner/libs/db"
)

type PostgresStore struct {
	q db.Querier
}

// NewPostgresStore accepts a pool or a transaction.
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const recordColumns = `id, workflow_id, event_id, trace_id, action, status, result, payload_snapshot,
	COALESCE(error, ''), COALESCE(last_error, ''), retryable, attempts, queued_to_dlq,
	COALESCE(duration, 0), COALESCE(action_duration_ms, 0), created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r              Record
		status         string
		result, params []byte
	)
	err := row.Scan(&r.ID, &r.WorkflowID, &r.EventID, &r.TraceID, &r.Action, &status, &result, &params,
		&r.Error, &r.LastError, &r.Retryable, &r.Attempts, &r.QueuedToDLQ,
		&r.Duration, &r.ActionDurationMS, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	if r.Result, err = decodeJSONMap(result); err != nil {
		return Record{}, fmt.Errorf("decode result: %w", err)
	}
	if r.PayloadSnapshot, err = decodeJSONMap(params); err != nil {
		return Record{}, fmt.Errorf("decode payload_snapshot: %w", err)
	}
	return r, nil
}

func decodeJSONMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (s *PostgresStore) CreatePending(ctx context.Context, rec NewRecord) (Record, bool, error) {
	snapshot, err := encodeJSONMap(rec.PayloadSnapshot)
	if err != nil {
		return Record{}, false, err
	}
	created, err := scanRecord(s.q.QueryRow(ctx, `
		INSERT INTO execution_logs (id, workflow_id, event_id, trace_id, action, status, payload_snapshot)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (event_id, workflow_id) DO NOTHING
		RETURNING `+recordColumns,
		uuid.New(), rec.WorkflowID, rec.EventID, rec.TraceID, rec.Action, snapshot))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, fmt.Errorf("insert execution record: %w", err)
	}

	existing, err := s.Get(ctx, rec.EventID, rec.WorkflowID)
	if err != nil {
		return Record{}, false, fmt.Errorf("load existing execution record: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, c Claim) (Record, bool, error) {
	rec, err := scanRecord(s.q.QueryRow(ctx, `
		UPDATE execution_logs
		SET attempts = attempts + 1,
		    last_error = COALESCE(NULLIF($3, ''), last_error),
		    status = 'pending',
		    updated_at = now()
		WHERE id = $1
		  AND attempts = $2
		  AND queued_to_dlq = false
		  AND status IN ('pending', 'failed')
		  AND (status <> 'pending' OR $4::bigint <= 0
		       OR updated_at <= now() - $4::bigint * interval '1 millisecond')
		RETURNING `+recordColumns,
		c.ID, c.ExpectedAttempts, c.LastError, c.StaleAfter.Milliseconds()))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, fmt.Errorf("increment attempts: %w", err)
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM execution_logs WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return Record{}, false, fmt.Errorf("increment attempts: %w", err)
	}
	if !exists {
		return Record{}, false, ErrNotFound
	}
	return Record{}, false, nil
}

func (s *PostgresStore) MarkFinished(ctx context.Context, id uuid.UUID, o Outcome) (Record, error) {
	result, err := encodeJSONMap(o.Result)
	if err != nil {
		return Record{}, err
	}
	rec, err := scanRecord(s.q.QueryRow(ctx, `
		UPDATE execution_logs
		SET status = $2,
		    result = $3,
		    error = NULLIF($4, ''),
		    retryable = $5,
		    queued_to_dlq = $6,
		    duration = $7,
		    action_duration_ms = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+recordColumns,
		id, string(o.Status), result, o.Error, o.Retryable, o.QueuedToDLQ, o.seconds(), o.millis()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("mark finished: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID, workflowID uuid.UUID) (Record, error) {
	rec, err := scanRecord(s.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM execution_logs
		WHERE event_id = $1 AND workflow_id = $2
	`, eventID, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	f = f.normalized()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WorkflowID != nil {
		add("workflow_id = $%d", *f.WorkflowID)
	}
	if f.EventID != nil {
		add("event_id = $%d", *f.EventID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.TraceID != "" {
		add("trace_id = $%d", f.TraceID)
	}
	if f.QueuedToDLQ != nil {
		add("queued_to_dlq = $%d", *f.QueuedToDLQ)
	}

	query := `SELECT ` + recordColumns + ` FROM execution_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
