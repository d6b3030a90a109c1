// Package actions holds the units of work an event can be bound to.
package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
)

// ExecutionContext is everything an action sees about the event it handles.
// TraceID is passed explicitly; actions must not look it up elsewhere.
type ExecutionContext struct {
	Workflow workflows.Workflow
	Event    events.Envelope
	TraceID  string
}

// Outcome is what an action reports. A zero Status means success.
type Outcome struct {
	Status    ledger.Status
	Result    map[string]any
	Error     string
	Retryable bool
}

func Success(result map[string]any) Outcome {
	return Outcome{Status: ledger.StatusSuccess, Result: result}
}

func Failure(msg string, retryable bool) Outcome {
	return Outcome{Status: ledger.StatusFailed, Error: msg, Retryable: retryable}
}

// Action runs once per claimed attempt. A returned error is treated as a
// defect in the action and is not retried.
type Action interface {
	Name() string
	Run(ctx context.Context, ec ExecutionContext) (Outcome, error)
}

// Registry dispatches by the workflow's bound action name, falling back to
// the event type.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Action
}

func NewRegistry(actions ...Action) *Registry {
	r := &Registry{byName: map[string]Action{}}
	for _, a := range actions {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[a.Name()] = a
}

// RegisterAs binds an action under an extra key, usually an event type.
func (r *Registry) RegisterAs(key string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[key] = a
}

func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

func (r *Registry) Lookup(w workflows.Workflow, eventType string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byName[w.Action]; ok && w.Action != "" {
		return a, true
	}
	a, ok := r.byName[eventType]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
