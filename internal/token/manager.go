// Package token keeps per-user provider credentials valid. Every outbound
// provider call goes through Manager.AccessToken, which refreshes expired
// tokens before handing them out.
package token

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"pedalsync/internal/database"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

// expiryMargin is subtracted from the stored expiry so we never hand out a
// token that expires mid-request
const expiryMargin = 60 * time.Second

// ErrUnavailable means there is no usable credential for the user and
// provider: either no link exists or the refresh exchange failed. Callers
// must treat this as "provider not connected" and surface a reconnect
// prompt, not an internal error.
var ErrUnavailable = errors.New("provider credentials unavailable")

// Manager wraps the credential store with refresh-before-use semantics
type Manager struct {
	db         *database.DB
	logger     *slog.Logger
	refreshers map[string]provider.TokenRefresher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a token manager. Provider clients are registered
// with Register before use.
func NewManager(db *database.DB) *Manager {
	return &Manager{
		db:         db,
		logger:     slog.Default(),
		refreshers: make(map[string]provider.TokenRefresher),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Register wires a provider's token refresher into the manager
func (m *Manager) Register(providerName string, r provider.TokenRefresher) {
	m.refreshers[providerName] = r
}

// AccessToken returns a currently-valid access token for (user, provider),
// refreshing first when the stored token is expired or about to expire.
// Returns ErrUnavailable when no credential exists or the refresh fails.
func (m *Manager) AccessToken(ctx context.Context, userID int64, providerName string) (string, error) {
	// Serialize refreshes per (user, provider) so near-simultaneous calls
	// can't race each other into the provider's token endpoint
	lock := m.keyLock(userID, providerName)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.db.CredentialByUser(userID, providerName)
	if err != nil {
		return "", err
	}
	if cred == nil {
		m.logger.Info("No credential stored", "user_id", userID, "provider", providerName)
		return "", ErrUnavailable
	}

	if time.Now().Add(expiryMargin).Unix() < cred.ExpiresAt {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, cred)
}

// refresh performs the refresh exchange and rewrites the credential row
func (m *Manager) refresh(ctx context.Context, cred *database.Credential) (string, error) {
	refresher, ok := m.refreshers[cred.Provider]
	if !ok {
		m.logger.Error("No refresher registered", "provider", cred.Provider)
		return "", ErrUnavailable
	}

	if cred.RefreshToken == nil || *cred.RefreshToken == "" {
		m.logger.Warn("Expired credential has no refresh token", "user_id", cred.UserID, "provider", cred.Provider)
		return "", ErrUnavailable
	}

	m.logger.Info("Refreshing token", "user_id", cred.UserID, "provider", cred.Provider)

	tokenResp, err := refresher.RefreshToken(ctx, *cred.RefreshToken)
	if err != nil {
		m.logger.Warn("Token refresh failed", "user_id", cred.UserID, "provider", cred.Provider, "error", err)
		metrics.TokenRefreshTotal.WithLabelValues(cred.Provider, metrics.ResultFailure).Inc()
		return "", ErrUnavailable
	}

	// Some providers omit the refresh token when it hasn't rotated; keep
	// the stored one in that case
	newRefresh := tokenResp.RefreshToken
	if newRefresh == "" {
		newRefresh = *cred.RefreshToken
	}

	updated := &database.Credential{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: &newRefresh,
		ExpiresAt:    tokenResp.Expiry(time.Now()).Unix(),
	}
	if err := m.db.SaveCredential(updated); err != nil {
		return "", err
	}

	metrics.TokenRefreshTotal.WithLabelValues(cred.Provider, metrics.ResultSuccess).Inc()

	return tokenResp.AccessToken, nil
}

func (m *Manager) keyLock(userID int64, providerName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := providerName + ":" + strconv.FormatInt(userID, 10)
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
