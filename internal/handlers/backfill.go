package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pedalsync/internal/backfill"
	"pedalsync/internal/database"
	"pedalsync/internal/provider"
)

// backfillSettleTime bounds how long an accepted push-provider run counts
// as in flight. The provider delivers the requested activities through the
// webhook channel within minutes and never signals completion, so rows
// older than this are settled before the resubmission guard runs.
const backfillSettleTime = time.Hour

// backfillHistoryEntry is the JSON shape of one history row
type backfillHistoryEntry struct {
	ID            string  `json:"id"`
	Period        string  `json:"period"`
	Status        string  `json:"status"`
	ActivityCount *int64  `json:"activityCount,omitempty"`
	Message       *string `json:"message,omitempty"`
	CreatedAt     int64   `json:"createdAt"`
	UpdatedAt     int64   `json:"updatedAt"`
}

// HandleBackfillFetch triggers a bulk historical import for the
// authenticated user. The window comes from exactly one of ?days=N,
// ?year=YYYY, or ?ytd. Validation and the resubmission guard run before
// any provider traffic.
func (h *Handlers) HandleBackfillFetch(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	providerName := chi.URLParam(r, "provider")
	if !provider.Known(providerName) {
		writeError(w, http.StatusNotFound, "unknown provider "+providerName)
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Resubmission guard: an in-flight request blocks everything for this
	// provider; a completed closed year never needs re-running. Ytd windows
	// grow, so they can always run again. Rows past the settle window are
	// finished even though no completion callback ever said so.
	if err := h.db.ExpireStaleBackfills(userID, providerName, backfillSettleTime); err != nil {
		h.logger.Error("Failed to expire stale backfills", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	requests, err := h.db.ListBackfillRequests(userID, providerName)
	if err != nil {
		h.logger.Error("Failed to list backfill requests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for _, req := range requests {
		if req.Status == database.BackfillInProgress || req.Status == database.BackfillRequested {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  "a backfill is already in progress",
				"period": req.Period,
			})
			return
		}
	}
	// Closed years never change; a completed one is final. Ytd and
	// relative day windows move with time and can always run again.
	if window.Period != "ytd" && !strings.HasPrefix(window.Period, "days:") {
		prior, err := h.db.LatestBackfillForPeriod(userID, providerName, window.Period)
		if err != nil {
			h.logger.Error("Failed to check backfill history", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if prior != nil && prior.Status == database.BackfillCompleted {
			msg := "this period has already been imported"
			if prior.Message != nil {
				msg = *prior.Message
			}
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  msg,
				"period": window.Period,
			})
			return
		}
	}

	result := h.orchestrator.Run(r.Context(), userID, providerName, window)

	h.recordBackfillRun(userID, providerName, window.Period, result)

	status := http.StatusOK
	switch result.Outcome {
	case backfill.OutcomeAccepted:
		status = http.StatusAccepted
	case backfill.OutcomeDuplicate:
		status = http.StatusConflict
	case backfill.OutcomeFailed:
		status = http.StatusBadGateway
		if result.ReconnectRequired {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, result)
}

// recordBackfillRun persists the outcome of a run. Duplicate outcomes
// leave no row: the earlier request already covers the window.
func (h *Handlers) recordBackfillRun(userID int64, providerName, period string, result *backfill.Result) {
	if result.Outcome == backfill.OutcomeDuplicate {
		return
	}

	req, err := h.db.CreateBackfillRequest(userID, providerName, period)
	if err != nil {
		h.logger.Error("Failed to record backfill request", "error", err)
		return
	}

	var status string
	var count *int64
	switch result.Outcome {
	case backfill.OutcomeAccepted:
		// Garmin gives no completion callback; delivery happens through
		// the webhook channel over the following minutes
		status = database.BackfillInProgress
	case backfill.OutcomeCompleted:
		status = database.BackfillCompleted
		imported := int64(result.Imported)
		count = &imported
	default:
		status = database.BackfillFailed
	}

	msg := result.Message
	if err := h.db.UpdateBackfillRequest(req.ID, status, count, &msg); err != nil {
		h.logger.Error("Failed to update backfill request", "error", err)
	}
}

// HandleBackfillHistory returns the user's backfill history for a
// provider, newest first
func (h *Handlers) HandleBackfillHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	providerName := chi.URLParam(r, "provider")
	if !provider.Known(providerName) {
		writeError(w, http.StatusNotFound, "unknown provider "+providerName)
		return
	}

	if err := h.db.ExpireStaleBackfills(userID, providerName, backfillSettleTime); err != nil {
		h.logger.Error("Failed to expire stale backfills", "error", err)
	}

	requests, err := h.db.ListBackfillRequests(userID, providerName)
	if err != nil {
		h.logger.Error("Failed to list backfill requests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := make([]backfillHistoryEntry, 0, len(requests))
	for _, req := range requests {
		entries = append(entries, backfillHistoryEntry{
			ID:            req.ID,
			Period:        req.Period,
			Status:        req.Status,
			ActivityCount: req.ActivityCount,
			Message:       req.Message,
			CreatedAt:     req.CreatedAt,
			UpdatedAt:     req.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

// parseWindow builds the backfill window from query parameters
func parseWindow(r *http.Request) (*backfill.Window, error) {
	q := r.URL.Query()
	now := time.Now()

	if days := q.Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, errInvalidDays
		}
		return backfill.WindowFromDays(n, now)
	}
	if year := q.Get("year"); year != "" {
		return backfill.WindowFromPeriod(year, now)
	}
	if q.Has("ytd") {
		return backfill.WindowFromPeriod("ytd", now)
	}
	return nil, errMissingWindow
}

var (
	errInvalidDays   = &paramError{"days must be an integer"}
	errMissingWindow = &paramError{"specify one of days, year, or ytd"}
)

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }
