package database

import (
	"database/sql"
	"fmt"
	"time"
)

// GearMapping associates a provider gear id with an internal bike.
// Mappings are created by user action in the main application and are
// read-only to the ingestion pipeline.
type GearMapping struct {
	UserID         int64
	ProviderGearID string
	BikeID         int64
	CreatedAt      int64
}

// CreateGearMapping inserts a gear mapping (provisioning and tests)
func (db *DB) CreateGearMapping(m *GearMapping) error {
	m.CreatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO gear_mappings (user_id, provider_gear_id, bike_id, created_at)
		VALUES (?, ?, ?, ?)
	`, m.UserID, m.ProviderGearID, m.BikeID, m.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create gear mapping: %w", err)
	}
	return nil
}

// GearMappingBikeID resolves a provider gear id to a bike id for a user.
// Returns nil if no mapping exists.
func (db *DB) GearMappingBikeID(userID int64, providerGearID string) (*int64, error) {
	var bikeID int64
	err := db.conn.QueryRow(`
		SELECT bike_id FROM gear_mappings WHERE user_id = ? AND provider_gear_id = ?
	`, userID, providerGearID).Scan(&bikeID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gear mapping: %w", err)
	}
	return &bikeID, nil
}
