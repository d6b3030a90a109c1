// Package push serves the broker's push deliveries. The response status is
// the only signal the broker gets: 2xx acknowledges, anything else makes it
// redeliver.
package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/engine"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/resolver"
)

const (
	Path      = "/pubsub/push"
	AliasPath = "/worker/pubsub/push"
)

// Response statuses besides the ledger statuses.
const (
	statusRejected   = "rejected"
	statusUnroutable = "unroutable"
	statusError      = "error"
)

type Resolver interface {
	Resolve(ctx context.Context, env events.Envelope) (workflows.Workflow, error)
}

type Executor interface {
	Execute(ctx context.Context, action actions.Action, ec actions.ExecutionContext) (engine.Result, error)
}

type Handler struct {
	resolver Resolver
	registry *actions.Registry
	engine   Executor
	logger   *slog.Logger
}

func NewHandler(r Resolver, registry *actions.Registry, exec Executor, logger *slog.Logger) *Handler {
	return &Handler{resolver: r, registry: registry, engine: exec, logger: logger}
}

type response struct {
	Status   string `json:"status"`
	EventID  string `json:"event_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Register mounts the handler on both push paths.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	var handler http.Handler = h
	if wrap != nil {
		handler = wrap(h)
	}
	mux.Handle("POST "+Path, handler)
	mux.Handle("POST "+AliasPath, handler)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.With("request_id", httpx.RequestIDFromContext(ctx))

	body, err := events.ParsePushBody(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Warn("push body too large", "err", err)
		} else {
			log.Warn("malformed push body", "err", err)
		}
		httpx.WriteJSON(w, http.StatusOK, response{Status: statusRejected, Detail: err.Error()})
		return
	}
	log = log.With("message_id", body.Message.MessageID)

	env, err := events.DecodePush(body)
	if err != nil {
		log.Warn("rejected push message", "err", err)
		httpx.WriteJSON(w, http.StatusOK, response{Status: statusRejected, Detail: err.Error()})
		return
	}
	log = log.With("event_id", env.EventID.String(), "event_type", env.EventType, "trace_id", env.TraceID)

	wf, err := h.resolver.Resolve(ctx, env)
	if err != nil {
		if resolver.IsRoutingError(err) {
			log.Error("event not routable", "err", err)
			httpx.WriteJSON(w, http.StatusOK, response{Status: statusUnroutable, EventID: env.EventID.String(), Detail: err.Error()})
			return
		}
		log.Error("resolve workflow failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, response{Status: statusError, EventID: env.EventID.String()})
		return
	}

	action, ok := h.registry.Lookup(wf, env.EventType)
	if !ok {
		log.Error("no action bound", "workflow_id", wf.ID.String(), "action", wf.Action)
		httpx.WriteJSON(w, http.StatusOK, response{Status: statusUnroutable, EventID: env.EventID.String(), Detail: "unknown action " + wf.Action})
		return
	}

	res, err := h.engine.Execute(ctx, action, actions.ExecutionContext{
		Workflow: wf,
		Event:    env,
		TraceID:  env.TraceID,
	})
	if err != nil {
		log.Error("execution failed on infrastructure", "err", err, "workflow_id", wf.ID.String())
		httpx.WriteJSON(w, http.StatusInternalServerError, response{Status: statusError, EventID: env.EventID.String()})
		return
	}

	out := response{Status: string(res.Status), EventID: env.EventID.String(), Attempts: res.Record.Attempts}
	if res.Redeliver() {
		out.Detail = res.Record.Error
		if res.InFlight {
			out.Detail = "in flight"
		}
		httpx.WriteJSON(w, http.StatusInternalServerError, out)
		return
	}
	if res.Record.QueuedToDLQ {
		out.Detail = "queued to dlq"
	} else if res.Status == ledger.StatusFailed {
		out.Detail = res.Record.Error
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
