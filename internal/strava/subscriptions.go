package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
)

// Subscription represents a Strava webhook push subscription
type Subscription struct {
	ID            int    `json:"id"`
	ApplicationID int    `json:"application_id"`
	CallbackURL   string `json:"callback_url"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// subscriptionsURL derives the push subscription endpoint from BaseURL so
// tests can point the client at a fake server
func (c *Client) subscriptionsURL() string {
	return c.BaseURL + "/push_subscriptions"
}

// CreateSubscription registers a webhook subscription. Strava calls the
// verification GET on callbackURL before answering.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*Subscription, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.subscriptionsURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("subscription creation failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("strava_api_request", "operation", "create_subscription", "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderStrava, "create_subscription", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	return &sub, nil
}

// ListSubscriptions returns all active webhook subscriptions for the app
func (c *Client) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.subscriptionsURL()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer resp.Body.Close()

	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderStrava, "list_subscriptions", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var subs []*Subscription
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriptions: %w", err)
	}

	return subs, nil
}

// DeleteSubscription deletes a webhook subscription by ID
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID int) error {
	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	u := fmt.Sprintf("%s/%d?%s", c.subscriptionsURL(), subscriptionID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	defer resp.Body.Close()

	metrics.ProviderAPIRequestsTotal.WithLabelValues(metrics.ProviderStrava, "delete_subscription", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
