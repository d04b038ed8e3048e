package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

const (
	defaultBaseURL  = "https://apis.garmin.com"
	defaultTokenURL = "https://diauth.garmin.com/di-oauth2-service/oauth/token"
)

// Client is a Garmin Health API client. Garmin delivers activity data
// through webhooks; this client covers the detail fetch behind ping
// notifications, the backfill trigger, and token refresh.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	// Overridable for tests
	BaseURL  string
	TokenURL string
}

// NewClient creates a new Garmin API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     cfg.GarminClientID,
		clientSecret: cfg.GarminClientSecret,
		logger:       slog.Default(),
		BaseURL:      defaultBaseURL,
		TokenURL:     defaultTokenURL,
	}
}

// RefreshToken refreshes an access token using a refresh token.
// Garmin uses a form-encoded exchange and returns expires_in only.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token refresh failed", "provider", provider.Garmin, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("token_refresh", "provider", provider.Garmin, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderGarmin, "refresh_token", strconv.Itoa(resp.StatusCode)).Inc()

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

// Activity is a Garmin activity summary as delivered in ping payloads
// and by the activity detail endpoint
type Activity struct {
	UserID                           string  `json:"userId"`
	SummaryID                        string  `json:"summaryId"`
	ActivityName                     string  `json:"activityName"`
	ActivityType                     string  `json:"activityType"`
	StartTimeInSeconds               int64   `json:"startTimeInSeconds"`
	StartTimeOffsetInSeconds         int64   `json:"startTimeOffsetInSeconds"`
	DurationInSeconds                int64   `json:"durationInSeconds"`
	DistanceInMeters                 float64 `json:"distanceInMeters"`
	TotalElevationGainInMeters       float64 `json:"totalElevationGainInMeters"`
	AverageHeartRateInBeatsPerMinute float64 `json:"averageHeartRateInBeatsPerMinute"`
	DeviceName                       string  `json:"deviceName"`
}

// ActivityDetail fetches the full summary for one activity by its
// summary id
func (c *Client) ActivityDetail(ctx context.Context, accessToken, summaryID string) (*Activity, error) {
	u := c.BaseURL + "/wellness-api/rest/activities/" + url.PathEscape(summaryID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("request failed", "operation", "activity_detail", "error", err)
		return nil, fmt.Errorf("garmin request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("garmin_api_request", "operation", "activity_detail", "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderGarmin, "activity_detail", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
	}

	return &activity, nil
}

// RequestBackfill asks Garmin to redeliver activities for a historical
// sub-window through the webhook channel. Garmin answers 202 when the
// request is accepted and 409 when an equivalent request is already
// pending; both are surfaced to the caller (409 as *provider.HTTPError).
func (c *Client) RequestBackfill(ctx context.Context, accessToken string, start, end time.Time) error {
	params := url.Values{
		"summaryStartTimeInSeconds": {strconv.FormatInt(start.Unix(), 10)},
		"summaryEndTimeInSeconds":   {strconv.FormatInt(end.Unix(), 10)},
	}
	u := c.BaseURL + "/wellness-api/rest/backfill/activities?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	reqStart := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(reqStart)

	if err != nil {
		c.logger.Error("request failed", "operation", "request_backfill", "error", err)
		return fmt.Errorf("garmin backfill request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("garmin_api_request",
		"operation", "request_backfill",
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"start", start.Unix(),
		"end", end.Unix())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderGarmin, "request_backfill", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
