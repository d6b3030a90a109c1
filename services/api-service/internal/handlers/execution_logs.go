package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
)

func (h *Handler) ListExecutionLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseLogFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.logs.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list execution logs failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list execution logs")
		return
	}
	if items == nil {
		items = []ledger.Record{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func parseLogFilter(q url.Values) (ledger.Filter, error) {
	f := ledger.Filter{
		Status:  ledger.Status(q.Get("status")),
		TraceID: q.Get("trace_id"),
		Limit:   ledger.DefaultListLimit,
	}
	if raw := q.Get("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errors.New("invalid workflow_id")
		}
		f.WorkflowID = &id
	}
	if raw := q.Get("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errors.New("invalid event_id")
		}
		f.EventID = &id
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	if raw := q.Get("queued_to_dlq"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New("queued_to_dlq must be a boolean")
		}
		f.QueuedToDLQ = &v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > ledger.MaxListLimit {
			return f, fmt.Errorf("limit must be between 1 and %d", ledger.MaxListLimit)
		}
		f.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = v
	}
	return f, nil
}
