package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ProviderLink links an internal user to a provider-assigned user id
type ProviderLink struct {
	UserID         int64
	Provider       string
	ProviderUserID string
	CreatedAt      int64
}

// Credential is the per-(user, provider) OAuth token pair
type Credential struct {
	UserID       int64
	Provider     string
	AccessToken  string
	RefreshToken *string
	ExpiresAt    int64
	UpdatedAt    int64
}

// CreateProviderLink inserts a provider link for a user
func (db *DB) CreateProviderLink(l *ProviderLink) error {
	l.CreatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO provider_links (user_id, provider, provider_user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, l.UserID, l.Provider, l.ProviderUserID, l.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create provider link: %w", err)
	}
	return nil
}

// LinkByProviderUserID resolves a provider-assigned user id to the internal
// link. Returns nil if no link exists; this is expected under normal
// operation (stale links after revocation).
func (db *DB) LinkByProviderUserID(provider, providerUserID string) (*ProviderLink, error) {
	var l ProviderLink
	err := db.conn.QueryRow(`
		SELECT user_id, provider, provider_user_id, created_at
		FROM provider_links WHERE provider = ? AND provider_user_id = ?
	`, provider, providerUserID).Scan(&l.UserID, &l.Provider, &l.ProviderUserID, &l.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider link: %w", err)
	}
	return &l, nil
}

// LinkByUser retrieves a user's link for a provider. Returns nil if none.
func (db *DB) LinkByUser(userID int64, provider string) (*ProviderLink, error) {
	var l ProviderLink
	err := db.conn.QueryRow(`
		SELECT user_id, provider, provider_user_id, created_at
		FROM provider_links WHERE user_id = ? AND provider = ?
	`, userID, provider).Scan(&l.UserID, &l.Provider, &l.ProviderUserID, &l.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider link: %w", err)
	}
	return &l, nil
}

// RemoveProviderLink removes a user's link and credential for a provider and
// clears the active data source preference if it pointed at that provider.
// All three happen in one transaction so a revocation can't leave a
// credential behind.
func (db *DB) RemoveProviderLink(userID int64, provider string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM provider_links WHERE user_id = ? AND provider = ?
	`, userID, provider); err != nil {
		return fmt.Errorf("failed to delete provider link: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM oauth_credentials WHERE user_id = ? AND provider = ?
	`, userID, provider); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET active_data_source = '' WHERE id = ? AND active_data_source = ?
	`, userID, provider); err != nil {
		return fmt.Errorf("failed to clear active data source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CredentialByUser retrieves the stored credential for (user, provider).
// Returns nil if no credential exists.
func (db *DB) CredentialByUser(userID int64, provider string) (*Credential, error) {
	var c Credential
	err := db.conn.QueryRow(`
		SELECT user_id, provider, access_token, refresh_token, expires_at, updated_at
		FROM oauth_credentials WHERE user_id = ? AND provider = ?
	`, userID, provider).Scan(&c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// SaveCredential inserts or replaces the single credential row for
// (user, provider). Every token refresh rewrites this row; no history
// is kept.
func (db *DB) SaveCredential(c *Credential) error {
	c.UpdatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO oauth_credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.UserID, c.Provider, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}
