package normalize

import (
	"math"
	"testing"
	"time"

	"pedalsync/internal/garmin"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
)

func TestFromStrava(t *testing.T) {
	activity := &strava.Activity{
		ID:                 1001,
		Name:               "Sunday gravel loop",
		Distance:           32186.9, // ~20 miles in meters
		MovingTime:         5400,
		TotalElevationGain: 304.8, // ~1000 feet in meters
		SportType:          "GravelRide",
		Type:               "Ride",
		StartDate:          "2026-03-15T09:30:00Z",
		AverageHeartrate:   141.6,
		GearID:             "b123",
	}

	ride, err := FromStrava(activity)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	if !ride.StartTime.Equal(want) {
		t.Errorf("Expected start time %v, got %v", want, ride.StartTime)
	}
	if ride.DurationSeconds != 5400 {
		t.Errorf("Expected duration 5400, got %d", ride.DurationSeconds)
	}
	if math.Abs(ride.DistanceMiles-20.0) > 0.01 {
		t.Errorf("Expected ~20 miles, got %v", ride.DistanceMiles)
	}
	if math.Abs(ride.ElevationFeet-1000.0) > 0.1 {
		t.Errorf("Expected ~1000 feet, got %v", ride.ElevationFeet)
	}
	if ride.AvgHeartRate == nil || *ride.AvgHeartRate != 142 {
		t.Errorf("Expected heart rate rounded to 142, got %v", ride.AvgHeartRate)
	}
	if ride.RideType != "GravelRide" {
		t.Errorf("Expected sport_type preferred, got %q", ride.RideType)
	}
	if ride.Notes != "Sunday gravel loop" {
		t.Errorf("Expected name as notes, got %q", ride.Notes)
	}
	if ride.GearID != "b123" {
		t.Errorf("Expected gear id carried through, got %q", ride.GearID)
	}
}

func TestFromStrava_TypeFallback(t *testing.T) {
	ride, err := FromStrava(&strava.Activity{
		Type:      "Ride",
		StartDate: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ride.RideType != "Ride" {
		t.Errorf("Expected fallback to type, got %q", ride.RideType)
	}
}

func TestFromStrava_BadStartDate(t *testing.T) {
	if _, err := FromStrava(&strava.Activity{StartDate: "not-a-date"}); err == nil {
		t.Error("Expected error for unparseable start date")
	}
}

func TestFromGarmin(t *testing.T) {
	activity := &garmin.Activity{
		SummaryID:                        "x-55",
		ActivityName:                     "Lunch spin",
		ActivityType:                     "ROAD_BIKING",
		StartTimeInSeconds:               1767225600,
		StartTimeOffsetInSeconds:         -18000,
		DurationInSeconds:                2700,
		DistanceInMeters:                 16093.4,
		TotalElevationGainInMeters:       152.4,
		AverageHeartRateInBeatsPerMinute: 133.2,
	}

	ride, err := FromGarmin(activity)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The instant is absolute; the local offset must not shift it
	if ride.StartTime.Unix() != 1767225600 {
		t.Errorf("Expected start at unix 1767225600, got %d", ride.StartTime.Unix())
	}
	if math.Abs(ride.DistanceMiles-10.0) > 0.01 {
		t.Errorf("Expected ~10 miles, got %v", ride.DistanceMiles)
	}
	if math.Abs(ride.ElevationFeet-500.0) > 0.1 {
		t.Errorf("Expected ~500 feet, got %v", ride.ElevationFeet)
	}
	if ride.AvgHeartRate == nil || *ride.AvgHeartRate != 133 {
		t.Errorf("Expected heart rate 133, got %v", ride.AvgHeartRate)
	}
	if ride.RideType != "ROAD_BIKING" {
		t.Errorf("Expected activity type preserved, got %q", ride.RideType)
	}
}

func TestFromGarmin_MissingStartTime(t *testing.T) {
	if _, err := FromGarmin(&garmin.Activity{SummaryID: "x-1"}); err == nil {
		t.Error("Expected error for activity without start time")
	}
}

func TestFromGarmin_AbsentHeartRate(t *testing.T) {
	ride, err := FromGarmin(&garmin.Activity{
		SummaryID:          "x-2",
		StartTimeInSeconds: 1700000000,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ride.AvgHeartRate != nil {
		t.Errorf("Expected nil heart rate when absent, got %v", *ride.AvgHeartRate)
	}
}

func TestIsCycling(t *testing.T) {
	tests := []struct {
		provider string
		actType  string
		want     bool
	}{
		{provider.Strava, "Ride", true},
		{provider.Strava, "VirtualRide", true},
		{provider.Strava, "MountainBikeRide", true},
		{provider.Strava, "Run", false},
		{provider.Strava, "Swim", false},
		{provider.Garmin, "CYCLING", true},
		{provider.Garmin, "GRAVEL_CYCLING", true},
		{provider.Garmin, "RUNNING", false},
		{provider.Garmin, "LAP_SWIMMING", false},
		{"unknown", "Ride", false},
	}

	for _, tt := range tests {
		if got := IsCycling(tt.provider, tt.actType); got != tt.want {
			t.Errorf("IsCycling(%q, %q) = %v, want %v", tt.provider, tt.actType, got, tt.want)
		}
	}
}
