package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	otelx "github.com/md-rashed-zaman/flowrunner/libs/otel"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
)

type triggerRequest struct {
	WorkflowID string `json:"workflow_id"`
	Source     string `json:"source"`
}

// TriggerWebhook accepts an external trigger and records a
// workflow.triggered envelope in the outbox. The request id becomes the
// envelope's trace id so the execution log can be correlated with this call.
func (h *Handler) TriggerWebhook(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := pathUUID(r, "workflow_id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var req triggerRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, httpx.DecodeStatus(err), err.Error())
			return
		}
	}
	if req.WorkflowID != "" && !strings.EqualFold(req.WorkflowID, workflowID.String()) {
		httpx.WriteError(w, http.StatusBadRequest, "workflow_id in body does not match path")
		return
	}

	if _, err := h.workflows.Get(r.Context(), workflowID); err != nil {
		if errors.Is(err, workflows.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeStoreError(w, r, "load workflow", err)
		return
	}

	traceID := httpx.RequestIDFromContext(r.Context())
	payload := map[string]any{"workflow_id": workflowID.String()}
	if src := strings.TrimSpace(req.Source); src != "" {
		payload["source"] = src
	} else {
		payload["source"] = nil
	}
	env := events.Build(events.BuildParams{
		EventType: events.TypeWorkflowTriggered,
		Payload:   payload,
		TraceID:   traceID,
	})

	if err := h.enqueuer.Enqueue(r.Context(), env, workflowID); err != nil {
		h.logger.Error("enqueue trigger failed", "err", err, "workflow_id", workflowID.String(), "request_id", traceID)
		httpx.WriteError(w, http.StatusServiceUnavailable, "event pipeline unavailable")
		return
	}

	h.logger.Info("workflow triggered",
		"workflow_id", workflowID.String(),
		"event_id", env.EventID.String(),
		"trace_id", env.TraceID,
		"otel_trace_id", otelx.TraceID(r.Context()),
	)
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"event_id": env.EventID,
		"trace_id": env.TraceID,
	})
}
