// Package ingest turns normalized provider events into ride-store writes.
// Every entry point is idempotent: redelivered and out-of-order events
// resolve to the same stored state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/gearmap"
	"pedalsync/internal/metrics"
	"pedalsync/internal/normalize"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/token"
)

// Kind is the event kind of an activity event
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// ActivityEvent is the provider-independent form of a webhook activity
// notification. Both providers' payloads collapse into this before any
// processing happens.
type ActivityEvent struct {
	Kind               Kind
	Provider           string
	ExternalUserID     string
	ExternalActivityID string
}

// Service processes activity events and link lifecycle notifications
type Service struct {
	db     *database.DB
	tokens *token.Manager
	strava *strava.Client
	garmin *garmin.Client
	gears  *gearmap.Resolver
	logger *slog.Logger
}

// NewService creates the ingest service
func NewService(db *database.DB, tokens *token.Manager, stravaClient *strava.Client, garminClient *garmin.Client, gears *gearmap.Resolver) *Service {
	return &Service{
		db:     db,
		tokens: tokens,
		strava: stravaClient,
		garmin: garminClient,
		gears:  gears,
		logger: slog.Default(),
	}
}

// ProcessActivityEvent handles one create/update/delete notification.
// A nil return means the event is finished (including deliberate drops);
// a non-nil return means the worker should retry it.
func (s *Service) ProcessActivityEvent(ctx context.Context, ev ActivityEvent) error {
	link, err := s.db.LinkByProviderUserID(ev.Provider, ev.ExternalUserID)
	if err != nil {
		return err
	}
	if link == nil {
		// Expected for stale links; the webhook was already acknowledged
		s.logger.Info("Unknown external user, dropping event",
			"provider", ev.Provider,
			"external_user_id", ev.ExternalUserID)
		metrics.WebhookEventsProcessedTotal.WithLabelValues(ev.Provider, string(ev.Kind), metrics.ResultDropped).Inc()
		return nil
	}

	// Respect the user's explicitly chosen primary source. This covers
	// deletes too: a non-active provider must not touch stored rides.
	source, err := s.db.ActiveDataSource(link.UserID)
	if err != nil {
		return err
	}
	if source != "" && source != ev.Provider {
		s.logger.Info("Skipping event from non-active data source",
			"user_id", link.UserID,
			"provider", ev.Provider,
			"active_source", source)
		metrics.WebhookEventsProcessedTotal.WithLabelValues(ev.Provider, string(ev.Kind), metrics.ResultDropped).Inc()
		return nil
	}

	if ev.Kind == KindDelete {
		if err := s.db.DeleteRideByExternalID(ev.Provider, ev.ExternalActivityID); err != nil {
			return err
		}
		s.logger.Info("Deleted ride for provider delete event",
			"provider", ev.Provider,
			"external_id", ev.ExternalActivityID,
			"user_id", link.UserID)
		metrics.WebhookEventsProcessedTotal.WithLabelValues(ev.Provider, string(ev.Kind), metrics.ResultSuccess).Inc()
		return nil
	}

	switch ev.Provider {
	case provider.Strava:
		err = s.importStravaActivity(ctx, link.UserID, ev)
	case provider.Garmin:
		err = s.importGarminActivity(ctx, link.UserID, ev)
	default:
		s.logger.Warn("Unknown provider in activity event", "provider", ev.Provider)
		return nil
	}

	if err != nil {
		metrics.WebhookEventsProcessedTotal.WithLabelValues(ev.Provider, string(ev.Kind), metrics.ResultFailure).Inc()
		return err
	}
	metrics.WebhookEventsProcessedTotal.WithLabelValues(ev.Provider, string(ev.Kind), metrics.ResultSuccess).Inc()
	return nil
}

// importStravaActivity fetches, filters, and upserts one Strava activity
func (s *Service) importStravaActivity(ctx context.Context, userID int64, ev ActivityEvent) error {
	accessToken, err := s.tokens.AccessToken(ctx, userID, provider.Strava)
	if err != nil {
		if errors.Is(err, token.ErrUnavailable) {
			s.logger.Warn("Token unavailable, dropping event", "user_id", userID, "provider", provider.Strava)
			return nil
		}
		return err
	}

	activityID, err := parseInt64(ev.ExternalActivityID)
	if err != nil {
		s.logger.Warn("Invalid external activity id, dropping", "external_id", ev.ExternalActivityID)
		return nil
	}

	activity, err := s.strava.Activity(ctx, accessToken, activityID)
	if err != nil {
		if provider.IsNotFound(err) {
			s.logger.Warn("Activity not found, dropping", "activity_id", activityID)
			return nil
		}
		if provider.IsUnauthorized(err) {
			s.logger.Warn("Unauthorized fetching activity, dropping", "user_id", userID)
			return nil
		}
		return fmt.Errorf("failed to fetch activity: %w", err)
	}

	ride, err := normalize.FromStrava(activity)
	if err != nil {
		s.logger.Warn("Failed to normalize activity, dropping", "activity_id", activityID, "error", err)
		return nil
	}

	if !normalize.IsCycling(provider.Strava, ride.RideType) {
		s.logger.Debug("Non-cycling activity, skipping", "activity_id", activityID, "type", ride.RideType)
		return nil
	}

	return s.upsertRide(userID, provider.Strava, ev.ExternalActivityID, ride, "webhook")
}

// importGarminActivity fetches and upserts one Garmin activity. Garmin's
// detail endpoint returns exactly the requested activity, so no cycling
// filter is applied at this layer.
func (s *Service) importGarminActivity(ctx context.Context, userID int64, ev ActivityEvent) error {
	accessToken, err := s.tokens.AccessToken(ctx, userID, provider.Garmin)
	if err != nil {
		if errors.Is(err, token.ErrUnavailable) {
			s.logger.Warn("Token unavailable, dropping event", "user_id", userID, "provider", provider.Garmin)
			return nil
		}
		return err
	}

	activity, err := s.garmin.ActivityDetail(ctx, accessToken, ev.ExternalActivityID)
	if err != nil {
		if provider.IsNotFound(err) {
			s.logger.Warn("Activity not found, dropping", "summary_id", ev.ExternalActivityID)
			return nil
		}
		if provider.IsUnauthorized(err) {
			s.logger.Warn("Unauthorized fetching activity, dropping", "user_id", userID)
			return nil
		}
		return fmt.Errorf("failed to fetch activity: %w", err)
	}

	ride, err := normalize.FromGarmin(activity)
	if err != nil {
		s.logger.Warn("Failed to normalize activity, dropping", "summary_id", ev.ExternalActivityID, "error", err)
		return nil
	}

	return s.upsertRide(userID, provider.Garmin, ev.ExternalActivityID, ride, "webhook")
}

// upsertRide resolves gear and writes the ride through the idempotent
// writer
func (s *Service) upsertRide(userID int64, providerName, externalID string, ride *normalize.Ride, flow string) error {
	bikeID, _, err := s.gears.Resolve(userID, ride.GearID)
	if err != nil {
		return err
	}

	err = s.db.UpsertExternalRide(&database.ExternalRide{
		UserID:          userID,
		Provider:        providerName,
		ExternalID:      externalID,
		StartTime:       ride.StartTime,
		DurationSeconds: ride.DurationSeconds,
		DistanceMiles:   ride.DistanceMiles,
		ElevationFeet:   ride.ElevationFeet,
		AvgHeartRate:    ride.AvgHeartRate,
		RideType:        ride.RideType,
		Notes:           ride.Notes,
		BikeID:          bikeID,
	})
	if err != nil {
		return err
	}

	metrics.RidesUpsertedTotal.WithLabelValues(providerName, flow).Inc()

	s.logger.Info("Upserted ride",
		"user_id", userID,
		"provider", providerName,
		"external_id", externalID,
		"type", ride.RideType)
	return nil
}

// Deauthorize removes the provider link and credential for a revoking
// external user id. Unknown ids are dropped silently: revocations can
// arrive for links we already removed.
func (s *Service) Deauthorize(providerName, providerUserID string) error {
	link, err := s.db.LinkByProviderUserID(providerName, providerUserID)
	if err != nil {
		return err
	}
	if link == nil {
		s.logger.Info("Deauthorization for unknown external user, ignoring",
			"provider", providerName,
			"provider_user_id", providerUserID)
		return nil
	}

	if err := s.db.RemoveProviderLink(link.UserID, providerName); err != nil {
		return err
	}

	s.logger.Info("Removed provider link on deauthorization",
		"provider", providerName,
		"user_id", link.UserID)
	metrics.WebhookEventsProcessedTotal.WithLabelValues(providerName, "deauthorization", metrics.ResultSuccess).Inc()
	return nil
}

func parseInt64(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
