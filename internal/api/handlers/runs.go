package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reviewflow/reviewflow/internal/api/types"
	"github.com/reviewflow/reviewflow/internal/run"
)

// ListRuns handles GET /api/v1/runs with optional submissionId, workflowId
// and status filters.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)

	filter := run.Filter{
		SubmissionID: r.URL.Query().Get("submissionId"),
		WorkflowID:   r.URL.Query().Get("workflowId"),
		Limit:        limit,
		Offset:       offset,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := run.Status(s)
		if !status.Valid() {
			h.respondError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		filter.Status = []run.Status{status}
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list runs failed", "error", err.Error())
		h.respondError(w, http.StatusInternalServerError, "list runs failed")
		return
	}

	resp := types.ListRunsResponse{
		Runs:   make([]types.RunResponse, 0, len(runs)),
		Limit:  limit,
		Offset: offset,
	}
	for _, wr := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(wr))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wr, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", "run_id", id, "error", err.Error())
		h.respondError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	h.respondJSON(w, http.StatusOK, toRunResponse(*wr))
}
