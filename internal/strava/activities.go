package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Activity is the subset of a Strava activity we normalize into a Ride.
// The list endpoint returns the same fields as the detail endpoint for
// everything we care about.
type Activity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Distance           float64 `json:"distance"`             // meters
	MovingTime         int64   `json:"moving_time"`          // seconds
	TotalElevationGain float64 `json:"total_elevation_gain"` // meters
	Type               string  `json:"type"`
	SportType          string  `json:"sport_type"`
	StartDate          string  `json:"start_date"` // RFC3339, UTC
	AverageHeartrate   float64 `json:"average_heartrate"`
	GearID             string  `json:"gear_id"`
}

// Gear is a Strava gear record (bike or shoes)
type Gear struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Activity fetches detailed data for a single activity
func (c *Client) Activity(ctx context.Context, accessToken string, activityID int64) (*Activity, error) {
	path := fmt.Sprintf("/activities/%d", activityID)

	body, err := c.doRequest(ctx, "get_activity", path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
	}

	return &activity, nil
}

// ListActivities fetches one page of the athlete's activities within a
// Unix time range
func (c *Client) ListActivities(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*Activity, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 200 // Strava max
	}

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
		"after":    {strconv.FormatInt(after, 10)},
		"before":   {strconv.FormatInt(before, 10)},
	}

	path := "/athlete/activities?" + params.Encode()

	body, err := c.doRequest(ctx, "list_activities", path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	var activities []*Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}

	return activities, nil
}

// GetGear fetches a gear record, used to name unmapped gear in backfill
// reports
func (c *Client) GetGear(ctx context.Context, accessToken, gearID string) (*Gear, error) {
	path := "/gear/" + url.PathEscape(gearID)

	body, err := c.doRequest(ctx, "get_gear", path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get gear %s: %w", gearID, err)
	}

	var gear Gear
	if err := json.Unmarshal(body, &gear); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gear: %w", err)
	}

	return &gear, nil
}
