// Package normalize converts provider activity payloads into the canonical
// ride shape. Pure transformation, no I/O.
package normalize

import (
	"fmt"
	"math"
	"time"

	"pedalsync/internal/garmin"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
)

// Unit conversion factors
const (
	milesPerMeter = 0.000621371
	feetPerMeter  = 3.28084
)

// Ride is the canonical shape shared by both providers
type Ride struct {
	StartTime       time.Time
	DurationSeconds int64
	DistanceMiles   float64
	ElevationFeet   float64
	AvgHeartRate    *int64
	RideType        string
	Notes           string
	GearID          string
}

// stravaCyclingTypes is the allow-list of Strava sport types imported as
// rides
var stravaCyclingTypes = map[string]bool{
	"Ride":              true,
	"VirtualRide":       true,
	"EBikeRide":         true,
	"EMountainBikeRide": true,
	"GravelRide":        true,
	"MountainBikeRide":  true,
	"Handcycle":         true,
	"Velomobile":        true,
}

// garminCyclingTypes is the allow-list of Garmin activity types imported as
// rides
var garminCyclingTypes = map[string]bool{
	"CYCLING":           true,
	"ROAD_BIKING":       true,
	"MOUNTAIN_BIKING":   true,
	"GRAVEL_CYCLING":    true,
	"CYCLOCROSS":        true,
	"DOWNHILL_BIKING":   true,
	"TRACK_CYCLING":     true,
	"RECUMBENT_CYCLING": true,
	"INDOOR_CYCLING":    true,
	"VIRTUAL_RIDE":      true,
	"BMX":               true,
	"E_BIKE_FITNESS":    true,
	"E_BIKE_MOUNTAIN":   true,
}

// IsCycling reports whether an activity type is in the provider's cycling
// allow-list
func IsCycling(providerName, activityType string) bool {
	switch providerName {
	case provider.Strava:
		return stravaCyclingTypes[activityType]
	case provider.Garmin:
		return garminCyclingTypes[activityType]
	default:
		return false
	}
}

// FromStrava maps a Strava activity to the canonical ride shape.
// Distances arrive in meters and start_date as RFC3339 UTC.
func FromStrava(a *strava.Activity) (*Ride, error) {
	startTime, err := time.Parse(time.RFC3339, a.StartDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start date %q: %w", a.StartDate, err)
	}

	rideType := a.SportType
	if rideType == "" {
		rideType = a.Type
	}

	return &Ride{
		StartTime:       startTime,
		DurationSeconds: a.MovingTime,
		DistanceMiles:   a.Distance * milesPerMeter,
		ElevationFeet:   a.TotalElevationGain * feetPerMeter,
		AvgHeartRate:    roundHeartRate(a.AverageHeartrate),
		RideType:        rideType,
		Notes:           a.Name,
		GearID:          a.GearID,
	}, nil
}

// FromGarmin maps a Garmin activity summary to the canonical ride shape.
// Start times arrive as Unix seconds plus a local offset; the instant is
// already absolute, so the offset is not applied.
func FromGarmin(a *garmin.Activity) (*Ride, error) {
	if a.StartTimeInSeconds == 0 {
		return nil, fmt.Errorf("activity %s has no start time", a.SummaryID)
	}

	return &Ride{
		StartTime:       time.Unix(a.StartTimeInSeconds, 0).UTC(),
		DurationSeconds: a.DurationInSeconds,
		DistanceMiles:   a.DistanceInMeters * milesPerMeter,
		ElevationFeet:   a.TotalElevationGainInMeters * feetPerMeter,
		AvgHeartRate:    roundHeartRate(a.AverageHeartRateInBeatsPerMinute),
		RideType:        a.ActivityType,
		Notes:           a.ActivityName,
	}, nil
}

// roundHeartRate rounds to the nearest integer, treating zero/absent as nil
func roundHeartRate(bpm float64) *int64 {
	if bpm <= 0 {
		return nil
	}
	hr := int64(math.Round(bpm))
	return &hr
}
