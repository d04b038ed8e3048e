package garmin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/provider"
)

func testClient() *Client {
	return NewClient(&config.Config{
		GarminClientID:     "test_client",
		GarminClientSecret: "test_secret",
	})
}

func TestRefreshToken_FormEncoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Expected form content type, got %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "old-refresh" {
			t.Errorf("Unexpected form values: %v", r.PostForm)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   86400,
		})
	}))
	defer server.Close()

	client := testClient()
	client.TokenURL = server.URL

	resp, err := client.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.AccessToken != "new-access" {
		t.Errorf("Unexpected access token %q", resp.AccessToken)
	}

	// Garmin only sends expires_in; Expiry resolves it relative to now
	now := time.Now()
	expiry := resp.Expiry(now)
	if got := expiry.Sub(now); got != 86400*time.Second {
		t.Errorf("Expected expiry 24h out, got %v", got)
	}
}

func TestRequestBackfill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wellness-api/rest/backfill/activities" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("summaryStartTimeInSeconds"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("summaryEndTimeInSeconds"), 10, 64)
		if end-start != 30*24*3600 {
			t.Errorf("Expected 30-day window, got %d seconds", end-start)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient()
	client.BaseURL = server.URL

	end := time.Now()
	start := end.AddDate(0, 0, -30)
	if err := client.RequestBackfill(context.Background(), "token", start, end); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestRequestBackfill_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message": "duplicate request"}`))
	}))
	defer server.Close()

	client := testClient()
	client.BaseURL = server.URL

	err := client.RequestBackfill(context.Background(), "token", time.Now().AddDate(0, 0, -10), time.Now())
	if err == nil {
		t.Fatal("Expected error for duplicate backfill")
	}
	if !provider.IsConflict(err) {
		t.Errorf("Expected 409 classification, got %v", err)
	}
}

func TestActivityDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wellness-api/rest/activities/s-9" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(&Activity{
			SummaryID:          "s-9",
			ActivityType:       "GRAVEL_CYCLING",
			StartTimeInSeconds: 1767225600,
		})
	}))
	defer server.Close()

	client := testClient()
	client.BaseURL = server.URL

	activity, err := client.ActivityDetail(context.Background(), "token", "s-9")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if activity.SummaryID != "s-9" || activity.ActivityType != "GRAVEL_CYCLING" {
		t.Errorf("Unexpected activity: %+v", activity)
	}
}
