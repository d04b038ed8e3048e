// Package provider holds the pieces shared by both provider API clients:
// provider names, the token refresh contract, and HTTP error classification.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider names as stored in the database
const (
	Strava = "strava"
	Garmin = "garmin"
)

// Known reports whether name is a supported provider
func Known(name string) bool {
	return name == Strava || name == Garmin
}

// TokenResponse is the result of a token refresh exchange. Strava returns
// an absolute expires_at; Garmin only returns expires_in.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Expiry resolves the absolute expiry instant of the response
func (t *TokenResponse) Expiry(now time.Time) time.Time {
	if t.ExpiresAt != 0 {
		return time.Unix(t.ExpiresAt, 0)
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TokenRefresher exchanges a refresh token for a new token pair
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// HTTPError is a non-2xx response from a provider API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider request failed with status %d: %s", e.StatusCode, e.Body)
}

func statusIs(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

// IsNotFound reports whether err is a 404 from a provider
func IsNotFound(err error) bool {
	return statusIs(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 from a provider
func IsUnauthorized(err error) bool {
	return statusIs(err, http.StatusUnauthorized)
}

// IsTooManyRequests reports whether err is a 429 from a provider
func IsTooManyRequests(err error) bool {
	return statusIs(err, http.StatusTooManyRequests)
}

// IsConflict reports whether err is a 409 from a provider. Garmin answers
// 409 to a backfill trigger that duplicates a pending request.
func IsConflict(err error) bool {
	return statusIs(err, http.StatusConflict)
}
