package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"
)

// Client is a Strava API client. API calls take the bearer token as an
// argument; keeping tokens valid is the token manager's job.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	// Overridable for tests
	BaseURL  string
	TokenURL string
}

// NewClient creates a new Strava API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     cfg.StravaClientID,
		clientSecret: cfg.StravaClientSecret,
		logger:       slog.Default(),
		BaseURL:      defaultBaseURL,
		TokenURL:     defaultTokenURL,
	}
}

// RefreshToken refreshes an access token using a refresh token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	data := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token refresh failed", "provider", provider.Strava, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("token_refresh", "provider", provider.Strava, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderStrava, "refresh_token", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tokenResp provider.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &tokenResp, nil
}

// doRequest performs an authenticated GET against the Strava API and
// returns the response body. Non-200 responses become *provider.HTTPError.
func (c *Client) doRequest(ctx context.Context, operation, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("request failed", "operation", operation, "path", path, "error", err)
		return nil, fmt.Errorf("strava request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("strava_api_request", "operation", operation, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderStrava, operation, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
