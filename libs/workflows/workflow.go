// Package workflows holds the target entity that events are routed to and
// its stores.
package workflows

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("workflow not found")
	ErrAlreadyExists = errors.New("workflow already exists")
	// ErrInUse is returned when deleting a workflow that has execution history.
	ErrInUse         = errors.New("workflow has execution logs")
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"

	DefaultAction = "log"
)

type Workflow struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	IsActive    bool      `json:"is_active"`
	Action      string    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Patch holds optional updates; nil fields are left unchanged.
type Patch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	IsActive    *bool   `json:"is_active"`
	Action      *string `json:"action"`
}

func (p Patch) apply(w *Workflow) {
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.Status != nil {
		w.Status = *p.Status
	}
	if p.IsActive != nil {
		w.IsActive = *p.IsActive
	}
	if p.Action != nil {
		w.Action = *p.Action
	}
}

type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Workflow, error)
	List(ctx context.Context, limit int) ([]Workflow, error)
	Create(ctx context.Context, w Workflow) (Workflow, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) (Workflow, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

func withDefaults(w Workflow) Workflow {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = StatusDraft
	}
	if w.Action == "" {
		w.Action = DefaultAction
	}
	return w
}
