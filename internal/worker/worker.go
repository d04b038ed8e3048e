// Package worker drains the webhook queue. One poll loop claims items,
// fans each out to the ingest service, and either deletes the item or
// releases it for a backoff retry.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/ingest"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

// PollInterval is how long the worker sleeps when the queue is empty
const PollInterval = 500 * time.Millisecond

// RequiredPermission is the Garmin permission our sync depends on
const RequiredPermission = "ACTIVITY_EXPORT"

// Worker polls the webhook queue and processes items
type Worker struct {
	db     *database.DB
	ingest *ingest.Service
	logger *slog.Logger
}

// New creates a worker
func New(db *database.DB, ingestService *ingest.Service) *Worker {
	return &Worker{
		db:     db,
		ingest: ingestService,
		logger: slog.Default(),
	}
}

// Run polls until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started")
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		default:
		}

		item, err := w.db.ClaimWebhook()
		if err != nil {
			w.logger.Error("Failed to claim queue item", "error", err)
			time.Sleep(PollInterval)
			continue
		}

		if item == nil {
			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
			select {
			case <-ctx.Done():
				w.logger.Info("Worker stopped")
				return
			case <-time.After(PollInterval):
			}
			continue
		}

		metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeItemFound).Inc()
		w.processItem(ctx, item)
	}
}

// processItem runs one queue item through the ingest service and settles
// its queue state
func (w *Worker) processItem(ctx context.Context, item *database.WebhookItem) {
	start := time.Now()
	err := w.dispatch(ctx, item)
	duration := time.Since(start)

	if err == nil {
		metrics.QueueProcessingDuration.WithLabelValues(item.Provider, metrics.ResultSuccess).Observe(duration.Seconds())
		metrics.QueueDequeueTotal.WithLabelValues(item.Provider, metrics.ResultSuccess).Inc()
		if err := w.db.DeleteWebhook(item.ID); err != nil {
			w.logger.Error("Failed to delete processed item", "queue_id", item.ID, "error", err)
		}
		return
	}

	w.logger.Warn("Queue item failed",
		"queue_id", item.ID,
		"provider", item.Provider,
		"kind", item.Kind,
		"retry_count", item.RetryCount,
		"error", err)

	released, relErr := w.db.ReleaseWebhook(item.ID, item.RetryCount, err.Error())
	if relErr != nil {
		w.logger.Error("Failed to release queue item", "queue_id", item.ID, "error", relErr)
		return
	}

	if released {
		metrics.QueueProcessingDuration.WithLabelValues(item.Provider, metrics.ResultRetry).Observe(duration.Seconds())
		metrics.QueueDequeueTotal.WithLabelValues(item.Provider, metrics.ResultRetry).Inc()
		metrics.QueueRetryTotal.WithLabelValues(item.Provider, strconv.Itoa(item.RetryCount+1)).Inc()
	} else {
		metrics.QueueProcessingDuration.WithLabelValues(item.Provider, metrics.ResultDropped).Observe(duration.Seconds())
		metrics.QueueDequeueTotal.WithLabelValues(item.Provider, metrics.ResultDropped).Inc()
		w.logger.Error("Dropped queue item after max retries",
			"queue_id", item.ID,
			"provider", item.Provider,
			"kind", item.Kind,
			"error", err)
		sentry.CaptureException(fmt.Errorf("dropped %s/%s webhook after max retries: %w", item.Provider, item.Kind, err))
	}
}

func (w *Worker) dispatch(ctx context.Context, item *database.WebhookItem) error {
	switch item.Provider {
	case provider.Strava:
		return w.processStravaEvent(ctx, item.Data)
	case provider.Garmin:
		switch item.Kind {
		case database.KindGarminPing:
			return w.processGarminPing(ctx, item.Data)
		case database.KindGarminDeregistration:
			return w.processGarminDeregistration(item.Data)
		case database.KindGarminPermissions:
			return w.processGarminPermissions(item.Data)
		}
	}
	// Unknown items would retry forever; drop them
	w.logger.Error("Unknown queue item", "provider", item.Provider, "kind", item.Kind)
	return nil
}

// stravaEvent mirrors Strava's webhook payload
type stravaEvent struct {
	ObjectType string            `json:"object_type"`
	ObjectID   int64             `json:"object_id"`
	AspectType string            `json:"aspect_type"`
	OwnerID    int64             `json:"owner_id"`
	Updates    map[string]string `json:"updates"`
}

func (w *Worker) processStravaEvent(ctx context.Context, data json.RawMessage) error {
	var event stravaEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// Shape was validated at enqueue; a parse failure here is permanent
		w.logger.Error("Unparseable queued event, dropping", "error", err)
		return nil
	}

	switch event.ObjectType {
	case "athlete":
		if event.Updates["authorized"] == "false" {
			return w.ingest.Deauthorize(provider.Strava, strconv.FormatInt(event.OwnerID, 10))
		}
		w.logger.Info("Ignoring athlete event without deauthorization", "owner_id", event.OwnerID)
		return nil
	case "activity":
		kind := ingest.Kind(event.AspectType)
		switch kind {
		case ingest.KindCreate, ingest.KindUpdate, ingest.KindDelete:
		default:
			w.logger.Warn("Unknown aspect type, dropping", "aspect_type", event.AspectType)
			return nil
		}
		return w.ingest.ProcessActivityEvent(ctx, ingest.ActivityEvent{
			Kind:               kind,
			Provider:           provider.Strava,
			ExternalUserID:     strconv.FormatInt(event.OwnerID, 10),
			ExternalActivityID: strconv.FormatInt(event.ObjectID, 10),
		})
	default:
		w.logger.Warn("Unknown object type, dropping", "object_type", event.ObjectType)
		return nil
	}
}

// garminPing is the ping-mode notification body: activity summaries with
// the ids needed to fetch full details
type garminPing struct {
	Activities []garmin.Activity `json:"activities"`
}

func (w *Worker) processGarminPing(ctx context.Context, data json.RawMessage) error {
	var ping garminPing
	if err := json.Unmarshal(data, &ping); err != nil {
		w.logger.Error("Unparseable queued ping, dropping", "error", err)
		return nil
	}

	// Process every activity; remember the first failure so the item
	// retries. Re-processing already-imported activities is harmless.
	var firstErr error
	for _, a := range ping.Activities {
		err := w.ingest.ProcessActivityEvent(ctx, ingest.ActivityEvent{
			Kind:               ingest.KindCreate,
			Provider:           provider.Garmin,
			ExternalUserID:     a.UserID,
			ExternalActivityID: a.SummaryID,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type garminDeregistration struct {
	Deregistrations []struct {
		UserID string `json:"userId"`
	} `json:"deregistrations"`
}

func (w *Worker) processGarminDeregistration(data json.RawMessage) error {
	var payload garminDeregistration
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Error("Unparseable queued deregistration, dropping", "error", err)
		return nil
	}

	for _, d := range payload.Deregistrations {
		if err := w.ingest.Deauthorize(provider.Garmin, d.UserID); err != nil {
			return err
		}
	}
	return nil
}

type garminPermissions struct {
	UserPermissionsChange []struct {
		UserID      string   `json:"userId"`
		Permissions []string `json:"permissions"`
	} `json:"userPermissionsChange"`
}

// processGarminPermissions checks that users still grant activity export.
// Losing the permission is logged, not acted on: the link stays until the
// user deregisters, and new pings simply stop arriving.
func (w *Worker) processGarminPermissions(data json.RawMessage) error {
	var payload garminPermissions
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Error("Unparseable queued permissions change, dropping", "error", err)
		return nil
	}

	for _, change := range payload.UserPermissionsChange {
		granted := false
		for _, p := range change.Permissions {
			if p == RequiredPermission {
				granted = true
				break
			}
		}
		if !granted {
			w.logger.Warn("User revoked activity export permission",
				"provider_user_id", change.UserID,
				"permissions", change.Permissions)
		}
	}
	return nil
}
