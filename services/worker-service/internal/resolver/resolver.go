// Package resolver maps an event to the workflow it targets.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
)

var (
	ErrTargetNotFound = errors.New("target workflow not found")
	ErrTargetInactive = errors.New("target workflow inactive")
)

// PayloadKey is the payload field naming the target workflow.
const PayloadKey = "workflow_id"

type Getter interface {
	Get(ctx context.Context, id uuid.UUID) (workflows.Workflow, error)
}

type Resolver struct {
	store Getter
}

func New(store Getter) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns ErrTargetNotFound or ErrTargetInactive for routing
// failures. Any other error is a store fault and is returned as is.
func (r *Resolver) Resolve(ctx context.Context, env events.Envelope) (workflows.Workflow, error) {
	raw, ok := env.PayloadString(PayloadKey)
	if !ok {
		return workflows.Workflow{}, fmt.Errorf("%w: payload has no %s", ErrTargetNotFound, PayloadKey)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return workflows.Workflow{}, fmt.Errorf("%w: %s %q is not a uuid", ErrTargetNotFound, PayloadKey, raw)
	}

	wf, err := r.store.Get(ctx, id)
	if errors.Is(err, workflows.ErrNotFound) {
		return workflows.Workflow{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if err != nil {
		return workflows.Workflow{}, err
	}
	if !wf.IsActive {
		return workflows.Workflow{}, fmt.Errorf("%w: %s", ErrTargetInactive, id)
	}
	return wf, nil
}

// IsRoutingError reports whether err means the event cannot be routed.
func IsRoutingError(err error) bool {
	return errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrTargetInactive)
}
