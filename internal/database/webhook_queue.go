package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pedalsync/internal/metrics"
)

// Queue item kinds
const (
	KindStravaEvent          = "event"
	KindGarminPing           = "ping"
	KindGarminDeregistration = "deregistration"
	KindGarminPermissions    = "permissions"
)

// WebhookItem is an acknowledged inbound payload awaiting processing
type WebhookItem struct {
	ID         int64
	Provider   string
	Kind       string
	Data       json.RawMessage
	RetryCount int
}

// EnqueueWebhook adds an inbound webhook payload to the processing queue
func (db *DB) EnqueueWebhook(provider, kind string, data json.RawMessage) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueueWebhook))
	defer timer.ObserveDuration()

	result, err := db.conn.Exec(`
		INSERT INTO webhook_queue (provider, kind, data, created_at) VALUES (?, ?, ?, ?)
	`, provider, kind, string(data), time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueWebhook).Inc()
		return 0, fmt.Errorf("failed to enqueue webhook: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}

	metrics.QueueEnqueueTotal.WithLabelValues(provider).Inc()

	return id, nil
}

// ClaimWebhook claims the next ready queue item for processing.
// Returns nil if no items are ready. Items are ready when next_retry_at is
// NULL or past and processing_started_at is NULL or stale. The claim is a
// single atomic UPDATE so concurrent workers can't double-process.
func (db *DB) ClaimWebhook() (*WebhookItem, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimWebhook))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	query := `
		UPDATE webhook_queue
		SET processing_started_at = ?
		WHERE id = (
			SELECT id
			FROM webhook_queue
			WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (processing_started_at IS NULL OR processing_started_at < ?)
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, provider, kind, data, retry_count
	`

	var item WebhookItem
	var data string
	err := db.conn.QueryRow(query, now.Unix(), now.Unix(), staleThreshold).Scan(
		&item.ID, &item.Provider, &item.Kind, &data, &item.RetryCount,
	)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil // No items ready
		}
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimWebhook).Inc()
		return nil, fmt.Errorf("failed to claim webhook: %w", err)
	}
	item.Data = json.RawMessage(data)

	return &item, nil
}

// DeleteWebhook deletes a processed queue item
func (db *DB) DeleteWebhook(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteWebhook))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`DELETE FROM webhook_queue WHERE id = ?`, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteWebhook).Inc()
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

// ReleaseWebhook releases a failed queue item back with retry tracking.
// Exponential backoff: 1min, 5min, 15min, 30min, 1hr, 2hr, 4hr.
// Returns true if the item was released, false if dropped for max retries.
func (db *DB) ReleaseWebhook(id int64, retryCount int, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpReleaseWebhook))
	defer timer.ObserveDuration()

	newRetryCount := retryCount + 1

	if newRetryCount > MaxRetries {
		if err := db.DeleteWebhook(id); err != nil {
			return false, fmt.Errorf("failed to drop webhook after max retries: %w", err)
		}
		return false, nil // Dropped
	}

	backoffMinutes := []int{1, 5, 15, 30, 60, 120, 240}
	backoffIdx := newRetryCount - 1
	if backoffIdx >= len(backoffMinutes) {
		backoffIdx = len(backoffMinutes) - 1
	}

	nextRetryAt := time.Now().Add(time.Duration(backoffMinutes[backoffIdx]) * time.Minute)

	_, err := db.conn.Exec(`
		UPDATE webhook_queue
		SET retry_count = ?,
		    last_error = ?,
		    next_retry_at = ?,
		    processing_started_at = NULL
		WHERE id = ?
	`, newRetryCount, errMsg, nextRetryAt.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleaseWebhook).Inc()
		return false, fmt.Errorf("failed to release webhook: %w", err)
	}

	return true, nil // Released for retry
}

// GetQueueLength returns the number of items in the webhook queue
func (db *DB) GetQueueLength() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM webhook_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return count, nil
}

// GetReadyQueueLength returns the number of items ready to process
func (db *DB) GetReadyQueueLength() (int, error) {
	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM webhook_queue
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (processing_started_at IS NULL OR processing_started_at < ?)
	`, now.Unix(), staleThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get ready queue length: %w", err)
	}
	return count, nil
}

// GetProcessingQueueLength returns the number of items currently claimed
func (db *DB) GetProcessingQueueLength() (int, error) {
	staleThreshold := time.Now().Add(-StaleLockTimeout).Unix()

	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM webhook_queue
		WHERE processing_started_at IS NOT NULL
		  AND processing_started_at >= ?
	`, staleThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get processing queue length: %w", err)
	}
	return count, nil
}
