package handlers

import (
	"errors"
	"net/http"

	"github.com/reviewflow/reviewflow/internal/api/types"
	"github.com/reviewflow/reviewflow/internal/challenge"
)

// ScanComplete handles POST /api/v1/scans. A clean scan fans out into one
// queued run per workflow configured for the submission's challenge; an
// infected artifact is acknowledged without any dispatch.
func (h *Handler) ScanComplete(w http.ResponseWriter, r *http.Request) {
	var req types.ScanCompleteRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.respondValidationError(w, err)
		return
	}

	if *req.IsInfected {
		h.logger.Info("infected submission, skipping workflow dispatch", "submission_id", req.SubmissionID)
		h.respondJSON(w, http.StatusOK, types.ScanCompleteResponse{
			SubmissionID: req.SubmissionID,
			Skipped:      true,
			Reason:       "artifact is infected",
			Runs:         []types.RunResponse{},
		})
		return
	}

	runs, err := h.orchestrator.Orchestrate(r.Context(), req.SubmissionID)
	if err != nil {
		if errors.Is(err, challenge.ErrSubmissionNotFound) {
			h.respondError(w, http.StatusNotFound, "submission not found")
			return
		}
		h.logger.Error("orchestration failed", "submission_id", req.SubmissionID, "error", err.Error())
		h.respondError(w, http.StatusInternalServerError, "orchestration failed")
		return
	}

	resp := types.ScanCompleteResponse{
		SubmissionID: req.SubmissionID,
		Runs:         make([]types.RunResponse, 0, len(runs)),
	}
	for _, wr := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(wr))
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}
