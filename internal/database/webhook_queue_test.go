package database

import (
	"encoding/json"
	"testing"
)

func TestWebhookQueue(t *testing.T) {
	db := testDB(t)

	data := json.RawMessage(`{"object_type": "activity", "object_id": 123}`)

	id, err := db.EnqueueWebhook("strava", KindStravaEvent, data)
	if err != nil {
		t.Fatalf("Failed to enqueue webhook: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero queue item id")
	}

	length, err := db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 1 {
		t.Errorf("Expected queue length 1, got %d", length)
	}

	item, err := db.ClaimWebhook()
	if err != nil {
		t.Fatalf("Failed to claim webhook: %v", err)
	}
	if item == nil {
		t.Fatal("Expected to claim an item")
	}
	if item.Provider != "strava" || item.Kind != KindStravaEvent {
		t.Errorf("Expected strava/%s item, got %s/%s", KindStravaEvent, item.Provider, item.Kind)
	}
	if string(item.Data) != string(data) {
		t.Errorf("Expected payload preserved, got %s", item.Data)
	}

	// A claimed item is not visible to another claim
	second, err := db.ClaimWebhook()
	if err != nil {
		t.Fatalf("Failed on second claim: %v", err)
	}
	if second != nil {
		t.Error("Expected second claim to find nothing")
	}

	if err := db.DeleteWebhook(item.ID); err != nil {
		t.Fatalf("Failed to delete webhook: %v", err)
	}

	length, err = db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected empty queue, got %d", length)
	}
}

func TestClaimWebhook_Empty(t *testing.T) {
	db := testDB(t)

	item, err := db.ClaimWebhook()
	if err != nil {
		t.Fatalf("Unexpected error claiming from empty queue: %v", err)
	}
	if item != nil {
		t.Errorf("Expected nil item from empty queue, got %+v", item)
	}
}

func TestReleaseWebhook_RetryAndDrop(t *testing.T) {
	db := testDB(t)

	id, err := db.EnqueueWebhook("garmin", KindGarminPing, json.RawMessage(`{"activities":[]}`))
	if err != nil {
		t.Fatalf("Failed to enqueue webhook: %v", err)
	}

	item, err := db.ClaimWebhook()
	if err != nil || item == nil {
		t.Fatalf("Failed to claim webhook: %v", err)
	}

	released, err := db.ReleaseWebhook(id, item.RetryCount, "provider timeout")
	if err != nil {
		t.Fatalf("Failed to release webhook: %v", err)
	}
	if !released {
		t.Error("Expected item to be released for retry")
	}

	// Backed-off item is not ready yet
	ready, err := db.GetReadyQueueLength()
	if err != nil {
		t.Fatalf("Failed to get ready queue length: %v", err)
	}
	if ready != 0 {
		t.Errorf("Expected 0 ready items during backoff, got %d", ready)
	}

	// Past the retry ceiling the item is dropped instead of released
	released, err = db.ReleaseWebhook(id, MaxRetries, "still failing")
	if err != nil {
		t.Fatalf("Failed to release at max retries: %v", err)
	}
	if released {
		t.Error("Expected item to be dropped at max retries")
	}

	length, err := db.GetQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected dropped item gone from queue, got length %d", length)
	}
}
