// Package webhooks receives GitHub workflow job deliveries and feeds them
// to the reconciler.
package webhooks

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reviewflow/reviewflow/internal/reconcile"
	"github.com/reviewflow/reviewflow/internal/webhook/security"
)

const maxBodySize = 1 << 20

// Handler verifies and dispatches webhook deliveries.
type Handler struct {
	reconciler *reconcile.Reconciler
	secret     string
	logger     *slog.Logger
}

// NewHandler creates a webhook handler. An empty secret disables signature
// verification, which is only acceptable in local development.
func NewHandler(reconciler *reconcile.Reconciler, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reconciler: reconciler, secret: secret, logger: logger}
}

// RegisterRoutes mounts the webhook endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/github", h.HandleGitHub)
}

// HandleGitHub processes one delivery. Events that do not apply are
// acknowledged with 200 so GitHub does not redeliver them; only
// infrastructure failures return 5xx to trigger redelivery.
func (h *Handler) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !security.VerifyRequest(h.secret, r.Header, body) {
		h.logger.Warn("webhook signature verification failed",
			"delivery", r.Header.Get(security.DeliveryHeader))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if event := r.Header.Get(security.EventHeader); event != "workflow_job" {
		h.logger.Debug("ignoring webhook event type", "event", event)
		w.WriteHeader(http.StatusOK)
		return
	}

	var event reconcile.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("malformed workflow_job payload", "error", err.Error())
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.Handle(r.Context(), event); err != nil {
		h.logger.Error("webhook reconciliation failed",
			"delivery", r.Header.Get(security.DeliveryHeader),
			"action", event.Action, "error", err.Error())
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
