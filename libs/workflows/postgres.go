package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/flowrunner/libs/db"
)

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const workflowColumns = `id, name, COALESCE(description, ''), status, is_active, action, created_at, updated_at`

func scanWorkflow(row pgx.Row) (Workflow, error) {
	var w Workflow
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Status, &w.IsActive, &w.Action, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	return w, err
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Workflow, error) {
	return scanWorkflow(s.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE id = $1
	`, id))
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Workflow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, w Workflow) (Workflow, error) {
	w = withDefaults(w)
	created, err := scanWorkflow(s.pool.QueryRow(ctx, `
		INSERT INTO workflows (id, name, description, status, is_active, action)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING `+workflowColumns,
		w.ID, w.Name, w.Description, w.Status, w.IsActive, w.Action))
	if db.IsUniqueViolation(err) {
		return Workflow{}, fmt.Errorf("%w: %q", ErrAlreadyExists, w.Name)
	}
	return created, err
}

func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, p Patch) (Workflow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Workflow{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w, err := scanWorkflow(tx.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return Workflow{}, err
	}
	p.apply(&w)

	updated, err := scanWorkflow(tx.QueryRow(ctx, `
		UPDATE workflows
		SET name = $2, description = NULLIF($3, ''), status = $4, is_active = $5, action = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+workflowColumns,
		id, w.Name, w.Description, w.Status, w.IsActive, w.Action))
	if db.IsUniqueViolation(err) {
		return Workflow{}, fmt.Errorf("%w: %q", ErrAlreadyExists, w.Name)
	}
	if err != nil {
		return Workflow{}, err
	}
	return updated, tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return ErrInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
