package database

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateUser inserts a user row. User management belongs to the main
// application; this exists for provisioning and tests.
func (db *DB) CreateUser() (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO users (active_data_source, created_at) VALUES ('', ?)
	`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user id: %w", err)
	}
	return id, nil
}

// ActiveDataSource returns the user's active data source preference,
// or '' when no preference is set
func (db *DB) ActiveDataSource(userID int64) (string, error) {
	var source string
	err := db.conn.QueryRow(`SELECT active_data_source FROM users WHERE id = ?`, userID).Scan(&source)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active data source: %w", err)
	}
	return source, nil
}

// SetActiveDataSource sets the user's active data source preference
func (db *DB) SetActiveDataSource(userID int64, provider string) error {
	result, err := db.conn.Exec(`
		UPDATE users SET active_data_source = ? WHERE id = ?
	`, provider, userID)
	if err != nil {
		return fmt.Errorf("failed to set active data source: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// CreateBike inserts a bike for a user. Bike CRUD belongs to the main
// application; this exists for provisioning and tests.
func (db *DB) CreateBike(userID int64, name string) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO bikes (user_id, name, created_at) VALUES (?, ?, ?)
	`, userID, name, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create bike: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get bike id: %w", err)
	}
	return id, nil
}

// OnlyBikeID returns the user's bike id when they own exactly one bike,
// nil otherwise. Used for the unmapped-gear auto-assignment fallback.
func (db *DB) OnlyBikeID(userID int64) (*int64, error) {
	rows, err := db.conn.Query(`SELECT id FROM bikes WHERE user_id = ? LIMIT 2`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bikes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan bike: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bikes: %w", err)
	}

	if len(ids) == 1 {
		return &ids[0], nil
	}
	return nil, nil
}
