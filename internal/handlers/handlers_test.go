package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"pedalsync/internal/backfill"
	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/gearmap"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/token"
)

type testEnv struct {
	db           *database.DB
	cfg          *config.Config
	router       *chi.Mux
	stravaClient *strava.Client
	garminClient *garmin.Client
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		StravaClientID:     "test_client",
		StravaClientSecret: "test_secret",
		StravaVerifyToken:  "test_verify_token",
		GarminClientID:     "test_client",
		GarminClientSecret: "test_secret",
		SessionSecret:      "test_session_secret",
	}

	stravaClient := strava.NewClient(cfg)
	garminClient := garmin.NewClient(cfg)

	tokens := token.NewManager(db)
	tokens.Register(provider.Strava, stravaClient)
	tokens.Register(provider.Garmin, garminClient)

	gears := gearmap.NewResolver(db)
	orchestrator := backfill.NewOrchestrator(db, tokens, stravaClient, garminClient, gears)
	h := New(db, cfg, orchestrator)

	r := chi.NewRouter()
	r.Get("/webhook/strava", h.HandleStravaVerification)
	r.Post("/webhook/strava", h.HandleStravaEvent)
	r.Post("/webhook/garmin/ping", h.HandleGarminPing)
	r.Post("/webhook/garmin/push", h.HandleGarminPush)
	r.Post("/webhook/garmin/deregistration", h.HandleGarminDeregistration)
	r.Post("/webhook/garmin/permissions", h.HandleGarminPermissions)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return SessionAuth(cfg.SessionSecret, next)
		})
		r.Get("/{provider}/backfill/fetch", h.HandleBackfillFetch)
		r.Get("/{provider}/backfill/history", h.HandleBackfillHistory)
	})
	r.Get("/health", h.HandleHealth)

	return &testEnv{db: db, cfg: cfg, router: r, stravaClient: stravaClient, garminClient: garminClient}
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) authedRequest(t *testing.T, userID int64, method, target string) *http.Request {
	t.Helper()
	tok, err := SignSession(e.cfg.SessionSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign session: %v", err)
	}
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestStravaVerification_Success(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/strava?hub.mode=subscribe&hub.challenge=test_challenge&hub.verify_token=test_verify_token", nil)
	w := env.serve(req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["hub.challenge"] != "test_challenge" {
		t.Errorf("Expected challenge echoed, got %q", response["hub.challenge"])
	}
}

func TestStravaVerification_WrongToken(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/strava?hub.mode=subscribe&hub.challenge=c&hub.verify_token=wrong", nil)
	w := env.serve(req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestStravaEvent_AckAndEnqueue(t *testing.T) {
	env := setupTest(t)

	body, _ := json.Marshal(map[string]any{
		"object_type": "activity",
		"object_id":   1234567890,
		"aspect_type": "create",
		"owner_id":    98765,
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook/strava", bytes.NewReader(body))
	w := env.serve(req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "EVENT_RECEIVED" {
		t.Errorf("Expected EVENT_RECEIVED body, got %q", w.Body.String())
	}

	length, err := env.db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 1 {
		t.Errorf("Expected 1 queued item, got %d", length)
	}
}

func TestStravaEvent_MalformedRejected(t *testing.T) {
	env := setupTest(t)

	for _, body := range []string{"not json", `{"aspect_type": "create"}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/strava", bytes.NewReader([]byte(body)))
		w := env.serve(req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %q, got %d", body, w.Code)
		}
	}

	length, err := env.db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected nothing enqueued, got %d", length)
	}
}

func TestGarminPing_Enqueued(t *testing.T) {
	env := setupTest(t)

	body := []byte(`{"activities": [{"userId": "u1", "summaryId": "s1"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/garmin/ping", bytes.NewReader(body))
	w := env.serve(req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	item, err := env.db.ClaimWebhook()
	if err != nil || item == nil {
		t.Fatalf("Expected a queued item: %v", err)
	}
	if item.Kind != database.KindGarminPing {
		t.Errorf("Expected ping kind, got %q", item.Kind)
	}
}

func TestGarminPush_AckedButNotEnqueued(t *testing.T) {
	env := setupTest(t)

	body := []byte(`{"activityDetails": [{"summary": {"summaryId": "s1"}}]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/garmin/push", bytes.NewReader(body))
	w := env.serve(req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected push to be acknowledged with 200, got %d", w.Code)
	}

	length, err := env.db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected push payload dropped, got %d queued items", length)
	}
}

func TestBackfill_RequiresAuth(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/garmin/backfill/fetch?days=30", nil)
	w := env.serve(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/garmin/backfill/fetch?days=30", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = env.serve(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with bad token, got %d", w.Code)
	}
}

func TestBackfill_InvalidWindow(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	for _, query := range []string{"", "days=0", "days=400", "days=abc", "year=1850"} {
		req := env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?"+query)
		w := env.serve(req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for query %q, got %d", query, w.Code)
		}
	}
}

func TestBackfill_GarminAcceptedAndGuarded(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	refresh := "r"
	if err := env.db.SaveCredential(&database.Credential{
		UserID: userID, Provider: provider.Garmin, AccessToken: "a", RefreshToken: &refresh,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("Failed to save credential: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()
	env.garminClient.BaseURL = server.URL

	req := env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?days=30")
	w := env.serve(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	// History records the run as in progress; Garmin delivers via webhook
	// with no completion callback
	reqs, err := env.db.ListBackfillRequests(userID, provider.Garmin)
	if err != nil {
		t.Fatalf("Failed to list backfill requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Status != database.BackfillInProgress {
		t.Fatalf("Expected one in-progress request, got %+v", reqs)
	}

	// An in-flight request blocks resubmission of any period
	req = env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?year=2024")
	w = env.serve(req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 while a run is in progress, got %d", w.Code)
	}
}

func TestBackfill_GarminSettledRunUnblocks(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	refresh := "r"
	if err := env.db.SaveCredential(&database.Credential{
		UserID: userID, Provider: provider.Garmin, AccessToken: "a", RefreshToken: &refresh,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("Failed to save credential: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()
	env.garminClient.BaseURL = server.URL

	req := env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?days=30")
	w := env.serve(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	// While the run is in flight every new window is rejected
	req = env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?ytd")
	w = env.serve(req)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 while in flight, got %d", w.Code)
	}

	// Once the delivery window has elapsed the run is settled and new
	// requests go through again
	if err := env.db.ExpireStaleBackfills(userID, provider.Garmin, 0); err != nil {
		t.Fatalf("Failed to expire backfills: %v", err)
	}

	req = env.authedRequest(t, userID, http.MethodGet, "/garmin/backfill/fetch?ytd")
	w = env.serve(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202 after the run settled, got %d: %s", w.Code, w.Body.String())
	}

	reqs, err := env.db.ListBackfillRequests(userID, provider.Garmin)
	if err != nil {
		t.Fatalf("Failed to list backfill requests: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 history rows, got %+v", reqs)
	}
	var settled, inFlight int
	for _, r := range reqs {
		switch r.Status {
		case database.BackfillCompleted:
			settled++
		case database.BackfillInProgress:
			inFlight++
		}
	}
	if settled != 1 || inFlight != 1 {
		t.Errorf("Expected one settled and one in-flight row, got %+v", reqs)
	}
}

func TestBackfill_CompletedYearBlocked(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	prior, err := env.db.CreateBackfillRequest(userID, provider.Strava, "2024")
	if err != nil {
		t.Fatalf("Failed to create prior request: %v", err)
	}
	count := int64(40)
	msg := "imported 40 rides"
	if err := env.db.UpdateBackfillRequest(prior.ID, database.BackfillCompleted, &count, &msg); err != nil {
		t.Fatalf("Failed to complete prior request: %v", err)
	}

	req := env.authedRequest(t, userID, http.MethodGet, "/strava/backfill/fetch?year=2024")
	w := env.serve(req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for completed year, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["error"] != "imported 40 rides" {
		t.Errorf("Expected prior message surfaced, got %q", response["error"])
	}
}

func TestBackfillHistory(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if _, err := env.db.CreateBackfillRequest(userID, provider.Strava, "ytd"); err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	req := env.authedRequest(t, userID, http.MethodGet, "/strava/backfill/history")
	w := env.serve(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Requests []backfillHistoryEntry `json:"requests"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Requests) != 1 || response.Requests[0].Period != "ytd" {
		t.Errorf("Unexpected history: %+v", response.Requests)
	}
}

func TestUnknownProvider(t *testing.T) {
	env := setupTest(t)

	userID, err := env.db.CreateUser()
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	req := env.authedRequest(t, userID, http.MethodGet, "/fitbit/backfill/fetch?days=30")
	w := env.serve(req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown provider, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	env := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := env.serve(req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
