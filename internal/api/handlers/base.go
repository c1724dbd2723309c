// Package handlers contains the HTTP request handlers for the API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/reviewflow/reviewflow/internal/api/types"
	"github.com/reviewflow/reviewflow/internal/health"
	"github.com/reviewflow/reviewflow/internal/orchestrator"
	"github.com/reviewflow/reviewflow/internal/run"
)

// Handler provides the HTTP handlers for scans and runs.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	runs         run.Repository
	healthReg    *health.Registry
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(orch *orchestrator.Orchestrator, runs run.Repository, healthReg *health.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orchestrator: orch,
		runs:         runs,
		healthReg:    healthReg,
		validate:     validator.New(),
		logger:       logger,
	}
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("encode response failed", "error", err.Error())
		}
	}
}

// respondError writes a JSON error response.
func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, types.ErrorResponse{Error: message})
}

// respondValidationError breaks field errors out into the details map.
func (h *Handler) respondValidationError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string)
		for _, e := range validationErrs {
			details[e.Field()] = formatValidationError(e)
		}
		h.respondJSON(w, http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation failed",
			Details: details,
		})
		return
	}
	h.respondError(w, http.StatusBadRequest, "invalid input")
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

// decodeAndValidate decodes a JSON request body and validates the result.
func (h *Handler) decodeAndValidate(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// getPaginationParams extracts limit/offset query parameters.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = types.DefaultLimit
	offset = 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			if parsed > types.DefaultMaxLimit {
				parsed = types.DefaultMaxLimit
			}
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func toRunResponse(wr run.WorkflowRun) types.RunResponse {
	return types.RunResponse{
		ID:            wr.ID,
		WorkflowID:    wr.WorkflowID,
		SubmissionID:  wr.SubmissionID,
		Status:        string(wr.Status),
		ExternalRunID: wr.ExternalRunID,
		JobsCount:     wr.JobsCount,
		CompletedJobs: wr.CompletedJobs,
		StartedAt:     wr.StartedAt,
		CompletedAt:   wr.CompletedAt,
		CreatedAt:     wr.CreatedAt,
	}
}
