package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backfill request statuses
const (
	BackfillRequested  = "requested"
	BackfillInProgress = "in_progress"
	BackfillCompleted  = "completed"
	BackfillFailed     = "failed"
)

// BackfillRequest records one bulk historical import request. Callers
// consult the history to block resubmission of completed or in-flight
// periods.
type BackfillRequest struct {
	ID            string
	UserID        int64
	Provider      string
	Period        string
	Status        string
	ActivityCount *int64
	Message       *string
	CreatedAt     int64
	UpdatedAt     int64
}

// CreateBackfillRequest inserts a new backfill request in the requested state
func (db *DB) CreateBackfillRequest(userID int64, provider, period string) (*BackfillRequest, error) {
	now := time.Now().Unix()
	req := &BackfillRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Period:    period,
		Status:    BackfillRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.conn.Exec(`
		INSERT INTO backfill_requests (id, user_id, provider, period, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.UserID, req.Provider, req.Period, req.Status, req.CreatedAt, req.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create backfill request: %w", err)
	}
	return req, nil
}

// UpdateBackfillRequest transitions a backfill request to a new status,
// optionally recording the number of activities found and a message
func (db *DB) UpdateBackfillRequest(id, status string, activityCount *int64, message *string) error {
	result, err := db.conn.Exec(`
		UPDATE backfill_requests
		SET status = ?, activity_count = ?, message = ?, updated_at = ?
		WHERE id = ?
	`, status, activityCount, message, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to update backfill request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backfill request not found")
	}
	return nil
}

// ListBackfillRequests returns a user's backfill history for a provider,
// newest first
func (db *DB) ListBackfillRequests(userID int64, provider string) ([]*BackfillRequest, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, provider, period, status, activity_count, message, created_at, updated_at
		FROM backfill_requests
		WHERE user_id = ? AND provider = ?
		ORDER BY created_at DESC
	`, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill requests: %w", err)
	}
	defer rows.Close()

	var reqs []*BackfillRequest
	for rows.Next() {
		var r BackfillRequest
		err := rows.Scan(&r.ID, &r.UserID, &r.Provider, &r.Period, &r.Status,
			&r.ActivityCount, &r.Message, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill request: %w", err)
		}
		reqs = append(reqs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backfill requests: %w", err)
	}
	return reqs, nil
}

// ExpireStaleBackfills settles requested and in_progress rows last touched
// more than olderThan ago. A push-provider run has no completion callback;
// its activities arrive through the webhook channel within minutes, so a
// row still marked in flight past the delivery window is finished and must
// not block new requests.
func (db *DB) ExpireStaleBackfills(userID int64, provider string, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	_, err := db.conn.Exec(`
		UPDATE backfill_requests
		SET status = ?, updated_at = ?
		WHERE user_id = ? AND provider = ? AND status IN (?, ?) AND updated_at <= ?
	`, BackfillCompleted, time.Now().Unix(),
		userID, provider, BackfillRequested, BackfillInProgress, cutoff)

	if err != nil {
		return fmt.Errorf("failed to expire stale backfills: %w", err)
	}
	return nil
}

// LatestBackfillForPeriod returns the most recent backfill request for a
// (user, provider, period), or nil if none exists
func (db *DB) LatestBackfillForPeriod(userID int64, provider, period string) (*BackfillRequest, error) {
	var r BackfillRequest
	err := db.conn.QueryRow(`
		SELECT id, user_id, provider, period, status, activity_count, message, created_at, updated_at
		FROM backfill_requests
		WHERE user_id = ? AND provider = ? AND period = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, provider, period).Scan(&r.ID, &r.UserID, &r.Provider, &r.Period, &r.Status,
		&r.ActivityCount, &r.Message, &r.CreatedAt, &r.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backfill request: %w", err)
	}
	return &r, nil
}
