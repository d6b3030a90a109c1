package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
)

// Enqueuer durably records a trigger envelope for later publication.
type Enqueuer interface {
	Enqueue(ctx context.Context, env events.Envelope, workflowID uuid.UUID) error
}

type LogLister interface {
	List(ctx context.Context, f ledger.Filter) ([]ledger.Record, error)
}

type Handler struct {
	workflows workflows.Store
	logs      LogLister
	enqueuer  Enqueuer
	logger    *slog.Logger
}

func New(store workflows.Store, logs LogLister, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	return &Handler{workflows: store, logs: logs, enqueuer: enqueuer, logger: logger}
}

// Register mounts every API route on mux behind wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap httpx.Middleware) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, wrap(fn))
	}
	route("GET /workflows", h.ListWorkflows)
	route("POST /workflows", h.CreateWorkflow)
	route("GET /workflows/{id}", h.GetWorkflow)
	route("PUT /workflows/{id}", h.UpdateWorkflow)
	route("DELETE /workflows/{id}", h.DeleteWorkflow)
	route("POST /triggers/webhook/{workflow_id}", h.TriggerWebhook)
	route("GET /execution-logs", h.ListExecutionLogs)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}
