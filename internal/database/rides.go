package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Ride represents a canonical activity record
type Ride struct {
	ID              int64
	UserID          int64
	StartTime       int64 // Unix timestamp
	DurationSeconds int64
	DistanceMiles   float64
	ElevationFeet   float64
	AvgHeartRate    *int64
	RideType        string
	Notes           string
	BikeID          *int64
	Provider        *string
	ExternalID      *string
	CreatedAt       int64
	UpdatedAt       int64
}

// ExternalRide holds the mutable fields of a provider-imported ride.
// (Provider, ExternalID) is the idempotence key.
type ExternalRide struct {
	UserID          int64
	Provider        string
	ExternalID      string
	StartTime       time.Time
	DurationSeconds int64
	DistanceMiles   float64
	ElevationFeet   float64
	AvgHeartRate    *int64
	RideType        string
	Notes           string
	BikeID          *int64
}

// UpsertExternalRide inserts or updates a ride keyed on (provider,
// external_id). A second upsert with the same key updates all mutable
// fields instead of creating a duplicate, which is what makes
// at-least-once, unordered webhook delivery safe.
func (db *DB) UpsertExternalRide(r *ExternalRide) error {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO rides (
			user_id, start_time, duration_seconds, distance_miles,
			elevation_feet, avg_heart_rate, ride_type, notes, bike_id,
			provider, external_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, external_id) WHERE provider IS NOT NULL DO UPDATE SET
			start_time = excluded.start_time,
			duration_seconds = excluded.duration_seconds,
			distance_miles = excluded.distance_miles,
			elevation_feet = excluded.elevation_feet,
			avg_heart_rate = excluded.avg_heart_rate,
			ride_type = excluded.ride_type,
			notes = excluded.notes,
			bike_id = excluded.bike_id,
			updated_at = excluded.updated_at
	`, r.UserID, r.StartTime.Unix(), r.DurationSeconds, r.DistanceMiles,
		r.ElevationFeet, r.AvgHeartRate, r.RideType, r.Notes, r.BikeID,
		r.Provider, r.ExternalID, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert ride: %w", err)
	}
	return nil
}

// RideByExternalID retrieves a ride by its provider idempotence key.
// Returns nil if no such ride exists.
func (db *DB) RideByExternalID(provider, externalID string) (*Ride, error) {
	var r Ride
	err := db.conn.QueryRow(`
		SELECT id, user_id, start_time, duration_seconds, distance_miles,
		       elevation_feet, avg_heart_rate, ride_type, notes, bike_id,
		       provider, external_id, created_at, updated_at
		FROM rides WHERE provider = ? AND external_id = ?
	`, provider, externalID).Scan(
		&r.ID, &r.UserID, &r.StartTime, &r.DurationSeconds, &r.DistanceMiles,
		&r.ElevationFeet, &r.AvgHeartRate, &r.RideType, &r.Notes, &r.BikeID,
		&r.Provider, &r.ExternalID, &r.CreatedAt, &r.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return &r, nil
}

// DeleteRideByExternalID removes the ride matching (provider, external_id).
// Deleting a ride that doesn't exist is not an error: delete events may
// arrive before the create was ever processed.
func (db *DB) DeleteRideByExternalID(provider, externalID string) error {
	_, err := db.conn.Exec(`
		DELETE FROM rides WHERE provider = ? AND external_id = ?
	`, provider, externalID)

	if err != nil {
		return fmt.Errorf("failed to delete ride: %w", err)
	}
	return nil
}

// CountRidesByUser returns the number of rides stored for a user
func (db *DB) CountRidesByUser(userID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM rides WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rides: %w", err)
	}
	return count, nil
}

// ListRidesByUser returns rides for a user ordered by start time descending
func (db *DB) ListRidesByUser(userID int64, offset, limit int) ([]*Ride, error) {
	query := `
		SELECT id, user_id, start_time, duration_seconds, distance_miles,
		       elevation_feet, avg_heart_rate, ride_type, notes, bike_id,
		       provider, external_id, created_at, updated_at
		FROM rides
		WHERE user_id = ?
		ORDER BY start_time DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides: %w", err)
	}
	defer rows.Close()

	var rides []*Ride
	for rows.Next() {
		var r Ride
		err := rows.Scan(
			&r.ID, &r.UserID, &r.StartTime, &r.DurationSeconds, &r.DistanceMiles,
			&r.ElevationFeet, &r.AvgHeartRate, &r.RideType, &r.Notes, &r.BikeID,
			&r.Provider, &r.ExternalID, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rides: %w", err)
	}

	return rides, nil
}
