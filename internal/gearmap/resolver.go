// Package gearmap maps provider equipment identifiers to internal bikes.
package gearmap

import (
	"log/slog"

	"pedalsync/internal/database"
)

// Resolver resolves provider gear ids against the user's gear mappings
type Resolver struct {
	db     *database.DB
	logger *slog.Logger
}

// NewResolver creates a gear resolver
func NewResolver(db *database.DB) *Resolver {
	return &Resolver{
		db:     db,
		logger: slog.Default(),
	}
}

// Resolve maps a provider gear id to a bike id. The second return value
// reports whether a configured mapping was found; when it is false and the
// returned bike id is non-nil, the single-bike fallback assigned the
// user's only bike. An unmapped gear on a user with zero or multiple
// bikes resolves to nil.
func (r *Resolver) Resolve(userID int64, providerGearID string) (*int64, bool, error) {
	if providerGearID != "" {
		bikeID, err := r.db.GearMappingBikeID(userID, providerGearID)
		if err != nil {
			return nil, false, err
		}
		if bikeID != nil {
			return bikeID, true, nil
		}
	}

	// Fallback: assign the user's only bike, if they have exactly one
	bikeID, err := r.db.OnlyBikeID(userID)
	if err != nil {
		return nil, false, err
	}
	if bikeID != nil {
		r.logger.Debug("Auto-assigned only bike", "user_id", userID, "bike_id", *bikeID, "gear_id", providerGearID)
	}
	return bikeID, false, nil
}
