package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"pedalsync/internal/database"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

// handleGarminNotification is the shared enqueue path for Garmin webhook
// kinds. Garmin expects a fast 200; a slow receiver gets its endpoint
// disabled.
func (h *Handlers) handleGarminNotification(w http.ResponseWriter, r *http.Request, kind string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !json.Valid(body) {
		h.logger.Warn("Malformed Garmin payload", "kind", kind)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := h.db.EnqueueWebhook(provider.Garmin, kind, body)
	if err != nil {
		h.logger.Error("Failed to enqueue webhook", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}

	h.logger.Info("Enqueued Garmin notification", "queue_id", id, "kind", kind)
	w.WriteHeader(http.StatusOK)
}

// HandleGarminPing receives ping notifications: summary ids the worker
// fetches full activity details for
func (h *Handlers) HandleGarminPing(w http.ResponseWriter, r *http.Request) {
	h.handleGarminNotification(w, r, database.KindGarminPing)
}

// HandleGarminPush acknowledges push notifications without enqueueing.
// We operate in ping mode only; a push here means a stale provider-side
// configuration, so log it and drop the payload.
func (h *Handlers) HandleGarminPush(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, io.LimitReader(r.Body, 4<<20))
	h.logger.Warn("Received push-mode notification, dropping (ping mode expected)")
	metrics.WebhookEventsProcessedTotal.WithLabelValues(metrics.ProviderGarmin, "push", metrics.ResultDropped).Inc()
	w.WriteHeader(http.StatusOK)
}

// HandleGarminDeregistration receives user deregistration notifications
func (h *Handlers) HandleGarminDeregistration(w http.ResponseWriter, r *http.Request) {
	h.handleGarminNotification(w, r, database.KindGarminDeregistration)
}

// HandleGarminPermissions receives permission-change notifications
func (h *Handlers) HandleGarminPermissions(w http.ResponseWriter, r *http.Request) {
	h.handleGarminNotification(w, r, database.KindGarminPermissions)
}
