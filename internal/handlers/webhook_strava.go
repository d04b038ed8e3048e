package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"pedalsync/internal/database"
	"pedalsync/internal/provider"
)

// stravaEvent is the shape Strava posts to the webhook endpoint. Kept
// loose on purpose: only object_type and object_id are required up front,
// everything else is interpreted by the worker.
type stravaEvent struct {
	ObjectType string          `json:"object_type"`
	ObjectID   int64           `json:"object_id"`
	AspectType string          `json:"aspect_type"`
	OwnerID    int64           `json:"owner_id"`
	Updates    json.RawMessage `json:"updates"`
}

// HandleStravaVerification answers Strava's subscription handshake.
// Strava sends GET with hub.mode, hub.challenge, and hub.verify_token;
// we echo the challenge when the token matches ours.
func (h *Handlers) HandleStravaVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	challenge := r.URL.Query().Get("hub.challenge")
	verifyToken := r.URL.Query().Get("hub.verify_token")

	if mode != "subscribe" || verifyToken != h.cfg.StravaVerifyToken {
		h.logger.Warn("Webhook verification failed", "mode", mode)
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	h.logger.Info("Webhook verified")
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// HandleStravaEvent receives a Strava webhook event, validates its shape,
// enqueues it, and acknowledges. Strava retries on non-2xx and drops the
// subscription after repeated failures, so this path must not block on
// provider fetches.
func (h *Handlers) HandleStravaEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var event stravaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("Malformed webhook payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if event.ObjectType == "" || event.ObjectID == 0 {
		h.logger.Warn("Webhook payload missing required fields")
		writeError(w, http.StatusBadRequest, "missing object_type or object_id")
		return
	}

	id, err := h.db.EnqueueWebhook(provider.Strava, database.KindStravaEvent, body)
	if err != nil {
		h.logger.Error("Failed to enqueue webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}

	h.logger.Info("Enqueued webhook event",
		"queue_id", id,
		"object_type", event.ObjectType,
		"object_id", event.ObjectID,
		"aspect_type", event.AspectType)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}
