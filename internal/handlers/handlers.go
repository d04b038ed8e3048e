// Package handlers holds the HTTP surface: provider webhook receivers and
// the caller-facing backfill endpoints. Webhook handlers follow
// ack-then-process: validate shape, enqueue, return 200 fast. All real
// work happens in the worker.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"pedalsync/internal/backfill"
	"pedalsync/internal/config"
	"pedalsync/internal/database"
)

// Handlers carries the dependencies shared by all HTTP handlers
type Handlers struct {
	db           *database.DB
	cfg          *config.Config
	orchestrator *backfill.Orchestrator
	logger       *slog.Logger
}

// New creates the handler set
func New(db *database.DB, cfg *config.Config, orchestrator *backfill.Orchestrator) *Handlers {
	return &Handlers{
		db:           db,
		cfg:          cfg,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
}

// HandleHealth reports service and database health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		h.logger.Error("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
