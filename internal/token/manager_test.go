package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"pedalsync/internal/database"
	"pedalsync/internal/provider"
)

type fakeRefresher struct {
	calls    int
	response *provider.TokenResponse
	err      error
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func setupManagerTest(t *testing.T) (*Manager, *database.DB, int64) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	userID, err := db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	return NewManager(db), db, userID
}

func saveCredential(t *testing.T, db *database.DB, userID int64, providerName, access, refresh string, expiresAt int64) {
	t.Helper()
	if err := db.SaveCredential(&database.Credential{
		UserID:       userID,
		Provider:     providerName,
		AccessToken:  access,
		RefreshToken: &refresh,
		ExpiresAt:    expiresAt,
	}); err != nil {
		t.Fatalf("Failed to save credential: %v", err)
	}
}

func TestAccessToken_FreshTokenNoRefresh(t *testing.T) {
	m, db, userID := setupManagerTest(t)

	refresher := &fakeRefresher{}
	m.Register(provider.Strava, refresher)
	saveCredential(t, db, userID, provider.Strava, "fresh-token", "r", time.Now().Add(time.Hour).Unix())

	token, err := m.AccessToken(context.Background(), userID, provider.Strava)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("Expected stored token, got %q", token)
	}
	if refresher.calls != 0 {
		t.Errorf("Expected no refresh calls, got %d", refresher.calls)
	}
}

func TestAccessToken_ExpiredTokenRefreshed(t *testing.T) {
	m, db, userID := setupManagerTest(t)

	refresher := &fakeRefresher{
		response: &provider.TokenResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
		},
	}
	m.Register(provider.Strava, refresher)
	saveCredential(t, db, userID, provider.Strava, "old-access", "old-refresh", time.Now().Add(-time.Minute).Unix())

	token, err := m.AccessToken(context.Background(), userID, provider.Strava)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "new-access" {
		t.Errorf("Expected refreshed token, got %q", token)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected exactly one refresh call, got %d", refresher.calls)
	}

	// The refreshed pair must be persisted
	cred, err := db.CredentialByUser(userID, provider.Strava)
	if err != nil {
		t.Fatalf("Failed to get credential: %v", err)
	}
	if cred.AccessToken != "new-access" {
		t.Errorf("Expected persisted access token, got %q", cred.AccessToken)
	}
	if cred.RefreshToken == nil || *cred.RefreshToken != "new-refresh" {
		t.Errorf("Expected persisted refresh token, got %v", cred.RefreshToken)
	}

	// A second call uses the stored token without another exchange
	if _, err := m.AccessToken(context.Background(), userID, provider.Strava); err != nil {
		t.Fatalf("Unexpected error on second call: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected no further refresh calls, got %d", refresher.calls)
	}
}

func TestAccessToken_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	m, db, userID := setupManagerTest(t)

	// Garmin-style response without a rotated refresh token
	refresher := &fakeRefresher{
		response: &provider.TokenResponse{
			AccessToken: "new-access",
			ExpiresIn:   3600,
		},
	}
	m.Register(provider.Garmin, refresher)
	saveCredential(t, db, userID, provider.Garmin, "old-access", "keep-me", time.Now().Add(-time.Minute).Unix())

	if _, err := m.AccessToken(context.Background(), userID, provider.Garmin); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cred, err := db.CredentialByUser(userID, provider.Garmin)
	if err != nil {
		t.Fatalf("Failed to get credential: %v", err)
	}
	if cred.RefreshToken == nil || *cred.RefreshToken != "keep-me" {
		t.Errorf("Expected original refresh token kept, got %v", cred.RefreshToken)
	}
}

func TestAccessToken_NoCredential(t *testing.T) {
	m, _, userID := setupManagerTest(t)
	m.Register(provider.Strava, &fakeRefresher{})

	_, err := m.AccessToken(context.Background(), userID, provider.Strava)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestAccessToken_RefreshFailure(t *testing.T) {
	m, db, userID := setupManagerTest(t)

	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	m.Register(provider.Strava, refresher)
	saveCredential(t, db, userID, provider.Strava, "old", "revoked", time.Now().Add(-time.Minute).Unix())

	_, err := m.AccessToken(context.Background(), userID, provider.Strava)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable on refresh failure, got %v", err)
	}

	// The stale credential stays; reconnecting rewrites it
	cred, err := db.CredentialByUser(userID, provider.Strava)
	if err != nil {
		t.Fatalf("Failed to get credential: %v", err)
	}
	if cred == nil || cred.AccessToken != "old" {
		t.Errorf("Expected stored credential untouched, got %+v", cred)
	}
}
