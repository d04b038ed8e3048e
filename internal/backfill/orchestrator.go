// Package backfill orchestrates bulk historical imports. Garmin backfills
// are asynchronous: we request redelivery in bounded sub-windows and the
// activities arrive later through the webhook channel. Strava backfills
// are synchronous: we page through the activity list and write rides
// directly.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/gearmap"
	"pedalsync/internal/metrics"
	"pedalsync/internal/normalize"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/token"
)

const (
	// garminChunkDays caps each Garmin backfill sub-window; their API
	// rejects windows longer than 30 days
	garminChunkDays = 30

	// Strava synchronous import paging
	stravaPageSize = 50
	stravaMaxPages = 10

	maxWindowDays = 365
)

// Outcomes of a backfill run
const (
	OutcomeAccepted  = "accepted"  // Garmin: at least one chunk newly accepted, delivery pending
	OutcomeCompleted = "completed" // Strava: import finished
	OutcomeDuplicate = "duplicate" // no chunk newly accepted, the window is already pending upstream
	OutcomeFailed    = "failed"
)

// Window is a validated backfill time range
type Window struct {
	Start  time.Time
	End    time.Time
	Period string
}

// UnmappedGear describes provider gear seen during a synchronous import
// that resolved to no bike
type UnmappedGear struct {
	GearID    string `json:"gearId"`
	Name      string `json:"name,omitempty"`
	RideCount int    `json:"rideCount"`
}

// Result is the outcome of one backfill run
type Result struct {
	Success           bool           `json:"success"`
	Outcome           string         `json:"outcome"`
	ChunksRequested   int            `json:"chunksRequested,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
	Imported          int            `json:"imported"`
	Skipped           int            `json:"skipped"`
	UnmappedGears     []UnmappedGear `json:"unmappedGears,omitempty"`
	Message           string         `json:"message,omitempty"`
	ReconnectRequired bool           `json:"reconnectRequired,omitempty"`
}

// Orchestrator runs backfills against whichever provider the user asks for
type Orchestrator struct {
	db     *database.DB
	tokens *token.Manager
	strava *strava.Client
	garmin *garmin.Client
	gears  *gearmap.Resolver
	logger *slog.Logger
}

// NewOrchestrator creates a backfill orchestrator
func NewOrchestrator(db *database.DB, tokens *token.Manager, stravaClient *strava.Client, garminClient *garmin.Client, gears *gearmap.Resolver) *Orchestrator {
	return &Orchestrator{
		db:     db,
		tokens: tokens,
		strava: stravaClient,
		garmin: garminClient,
		gears:  gears,
		logger: slog.Default(),
	}
}

// WindowFromDays builds a window covering the last n days. Validation
// happens here, before any network traffic.
func WindowFromDays(days int, now time.Time) (*Window, error) {
	if days < 1 || days > maxWindowDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", maxWindowDays, days)
	}
	return &Window{
		Start:  now.AddDate(0, 0, -days),
		End:    now,
		Period: fmt.Sprintf("days:%d", days),
	}, nil
}

// WindowFromPeriod builds a window for "ytd" or a four-digit year.
// A closed year covers Jan 1 through Dec 31; ytd covers Jan 1 through now.
func WindowFromPeriod(period string, now time.Time) (*Window, error) {
	if period == "ytd" {
		return &Window{
			Start:  time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
			End:    now,
			Period: "ytd",
		}, nil
	}

	var year int
	if _, err := fmt.Sscanf(period, "%4d", &year); err != nil || len(period) != 4 {
		return nil, fmt.Errorf("period must be a four-digit year or ytd, got %q", period)
	}
	if year < 2000 || year > now.Year() {
		return nil, fmt.Errorf("year %d out of range", year)
	}
	if year == now.Year() {
		return nil, fmt.Errorf("use ytd for the current year")
	}

	return &Window{
		Start:  time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC),
		Period: period,
	}, nil
}

// Run executes a backfill for (user, provider) over the window. The token
// is resolved once up front: a user with no usable credential gets a
// failed result with ReconnectRequired set and no provider traffic at all.
func (o *Orchestrator) Run(ctx context.Context, userID int64, providerName string, w *Window) *Result {
	accessToken, err := o.tokens.AccessToken(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, token.ErrUnavailable) {
			return &Result{
				Outcome:           OutcomeFailed,
				Message:           "provider not connected, reconnect required",
				ReconnectRequired: true,
			}
		}
		return &Result{Outcome: OutcomeFailed, Message: err.Error()}
	}

	switch providerName {
	case provider.Garmin:
		return o.runGarmin(ctx, accessToken, w)
	case provider.Strava:
		return o.runStrava(ctx, userID, accessToken, w)
	default:
		return &Result{Outcome: OutcomeFailed, Message: "unknown provider " + providerName}
	}
}

// runGarmin splits the window into sub-windows of at most garminChunkDays
// and requests each sequentially. A failed chunk is recorded as a warning
// and the remaining chunks still run.
func (o *Orchestrator) runGarmin(ctx context.Context, accessToken string, w *Window) *Result {
	res := &Result{}
	var accepted, duplicate, failed int

	for cur := w.Start; cur.Before(w.End); {
		chunkEnd := cur.AddDate(0, 0, garminChunkDays)
		if chunkEnd.After(w.End) {
			chunkEnd = w.End
		}

		err := o.garmin.RequestBackfill(ctx, accessToken, cur, chunkEnd)
		switch {
		case err == nil:
			accepted++
			metrics.BackfillChunksTotal.WithLabelValues(metrics.ProviderGarmin, metrics.ChunkAccepted).Inc()
		case provider.IsConflict(err):
			// Already pending upstream; the data will arrive anyway
			duplicate++
			metrics.BackfillChunksTotal.WithLabelValues(metrics.ProviderGarmin, metrics.ChunkDuplicate).Inc()
		default:
			failed++
			metrics.BackfillChunksTotal.WithLabelValues(metrics.ProviderGarmin, metrics.ChunkFailed).Inc()
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"chunk %s to %s failed: %v",
				cur.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err))
			o.logger.Warn("Backfill chunk failed",
				"start", cur.Format("2006-01-02"),
				"end", chunkEnd.Format("2006-01-02"),
				"error", err)
		}

		cur = chunkEnd
	}

	res.ChunksRequested = accepted + duplicate + failed

	switch {
	case accepted > 0:
		res.Success = true
		res.Outcome = OutcomeAccepted
		res.Message = fmt.Sprintf("%d chunks accepted, activities will arrive via webhook", accepted)
	case duplicate > 0:
		// Nothing newly requested; the pending upstream requests already
		// cover their part of the window and any failures are in Warnings
		res.Outcome = OutcomeDuplicate
		res.Message = "backfill already requested for this window"
	default:
		res.Outcome = OutcomeFailed
		res.Message = "all backfill chunks failed"
	}

	o.logger.Info("Garmin backfill run finished",
		"accepted", accepted,
		"duplicate", duplicate,
		"failed", failed,
		"period", w.Period)
	return res
}

// runStrava pages through the athlete's activity list and writes cycling
// activities directly. Activities we already hold are skipped, and gear
// that resolves to no bike is aggregated into the unmapped-gear report.
func (o *Orchestrator) runStrava(ctx context.Context, userID int64, accessToken string, w *Window) *Result {
	res := &Result{}
	unmapped := make(map[string]*UnmappedGear)

	for page := 1; page <= stravaMaxPages; page++ {
		activities, err := o.strava.ListActivities(ctx, accessToken, w.Start.Unix(), w.End.Unix(), page, stravaPageSize)
		if err != nil {
			if provider.IsUnauthorized(err) {
				res.Outcome = OutcomeFailed
				res.Message = "provider rejected our credentials, reconnect required"
				res.ReconnectRequired = true
				return res
			}
			res.Outcome = OutcomeFailed
			res.Message = fmt.Sprintf("failed to list activities: %v", err)
			return res
		}

		for _, a := range activities {
			if err := o.importStravaActivity(ctx, userID, accessToken, a, res, unmapped); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("activity %d: %v", a.ID, err))
			}
		}

		if len(activities) < stravaPageSize {
			break
		}
		if page == stravaMaxPages {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"stopped after %d pages; narrow the window to import the rest", stravaMaxPages))
		}
	}

	for _, g := range unmapped {
		res.UnmappedGears = append(res.UnmappedGears, *g)
	}

	res.Success = true
	res.Outcome = OutcomeCompleted
	res.Message = fmt.Sprintf("imported %d rides, skipped %d", res.Imported, res.Skipped)

	o.logger.Info("Strava backfill run finished",
		"user_id", userID,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"unmapped_gears", len(res.UnmappedGears),
		"period", w.Period)
	return res
}

func (o *Orchestrator) importStravaActivity(ctx context.Context, userID int64, accessToken string, a *strava.Activity, res *Result, unmapped map[string]*UnmappedGear) error {
	ride, err := normalize.FromStrava(a)
	if err != nil {
		return err
	}

	if !normalize.IsCycling(provider.Strava, ride.RideType) {
		metrics.BackfillActivitiesTotal.WithLabelValues(metrics.ProviderStrava, metrics.RideSkipped).Inc()
		return nil
	}

	externalID := fmt.Sprintf("%d", a.ID)
	existing, err := o.db.RideByExternalID(provider.Strava, externalID)
	if err != nil {
		return err
	}
	if existing != nil {
		res.Skipped++
		metrics.BackfillActivitiesTotal.WithLabelValues(metrics.ProviderStrava, metrics.RideSkipped).Inc()
		return nil
	}

	bikeID, mappedGear, err := o.gears.Resolve(userID, ride.GearID)
	if err != nil {
		return err
	}
	if ride.GearID != "" && !mappedGear && bikeID == nil {
		g, ok := unmapped[ride.GearID]
		if !ok {
			g = &UnmappedGear{GearID: ride.GearID}
			// Best effort; the report is still useful without a name
			if gear, err := o.strava.GetGear(ctx, accessToken, ride.GearID); err == nil {
				g.Name = gear.Name
			}
			unmapped[ride.GearID] = g
		}
		g.RideCount++
	}

	err = o.db.UpsertExternalRide(&database.ExternalRide{
		UserID:          userID,
		Provider:        provider.Strava,
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

	res.Imported++
	metrics.BackfillActivitiesTotal.WithLabelValues(metrics.ProviderStrava, metrics.RideImported).Inc()
	metrics.RidesUpsertedTotal.WithLabelValues(provider.Strava, "backfill").Inc()
	return nil
}
