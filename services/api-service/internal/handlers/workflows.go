package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
)

const maxNameLen = 200

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	IsActive    *bool  `json:"is_active"`
	Action      string `json:"action"`
}

func validStatus(s string) bool {
	return s == workflows.StatusDraft || s == workflows.StatusPublished
}

func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}
	items, err := h.workflows.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list workflows failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.DecodeStatus(err), err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Status = strings.TrimSpace(req.Status)
	if req.Name == "" || len(req.Name) > maxNameLen {
		httpx.WriteError(w, http.StatusBadRequest, "name is required (max 200 characters)")
		return
	}
	if req.Status != "" && !validStatus(req.Status) {
		httpx.WriteError(w, http.StatusBadRequest, "status must be draft or published")
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	created, err := h.workflows.Create(r.Context(), workflows.Workflow{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Status:      req.Status,
		IsActive:    isActive,
		Action:      strings.TrimSpace(req.Action),
	})
	if err != nil {
		h.writeStoreError(w, r, "create workflow", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	wf, err := h.workflows.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "get workflow", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wf)
}

func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	var patch workflows.Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.WriteError(w, httpx.DecodeStatus(err), err.Error())
		return
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > maxNameLen {
			httpx.WriteError(w, http.StatusBadRequest, "name must be 1-200 characters")
			return
		}
		patch.Name = &name
	}
	if patch.Status != nil && !validStatus(*patch.Status) {
		httpx.WriteError(w, http.StatusBadRequest, "status must be draft or published")
		return
	}
	if patch.Action != nil && strings.TrimSpace(*patch.Action) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "action must not be empty")
		return
	}

	updated, err := h.workflows.Update(r.Context(), id, patch)
	if err != nil {
		h.writeStoreError(w, r, "update workflow", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}
	if err := h.workflows.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, "delete workflow", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, workflows.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflows.ErrAlreadyExists), errors.Is(err, workflows.ErrInUse):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op+" failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
