package handlers

import (
	"net/http"

	"github.com/reviewflow/reviewflow/internal/health"
)

// Health handles GET /healthz with the full dependency report.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.healthReg.Health(r.Context())

	code := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, resp)
}

// Live handles GET /healthz/live.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.healthReg.Liveness(r.Context()))
}

// Ready handles GET /healthz/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := h.healthReg.Readiness(r.Context())

	code := http.StatusOK
	if resp.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, resp)
}
