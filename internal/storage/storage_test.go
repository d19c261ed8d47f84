package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/config"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	cfg := &config.Storage{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}

	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStoreAndQueryEvents(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	event := &nostr.Event{
		ID:        "0000000000000000000000000000000000000000000000000000000000000001",
		PubKey:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		CreatedAt: nostr.Now(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   "hello",
		Sig:       "sig",
	}

	if err := s.StoreEvent(ctx, event); err != nil {
		t.Fatalf("Failed to store event: %v", err)
	}

	// Storing the same event again is a no-op, not an error
	if err := s.StoreEvent(ctx, event); err != nil {
		t.Fatalf("Duplicate store should not error: %v", err)
	}

	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{event.ID}})
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Content != "hello" {
		t.Errorf("Expected content %q, got %q", "hello", events[0].Content)
	}

	exists, err := s.EventExists(ctx, event.ID)
	if err != nil {
		t.Fatalf("EventExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected event to exist")
	}

	if err := s.DeleteEventByID(ctx, event.ID); err != nil {
		t.Fatalf("Failed to delete event: %v", err)
	}
	exists, err = s.EventExists(ctx, event.ID)
	if err != nil {
		t.Fatalf("EventExists failed: %v", err)
	}
	if exists {
		t.Error("Expected event to be gone after delete")
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	value, err := s.GetState(ctx, "missing")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty value for missing key, got %q", value)
	}

	if err := s.SetState(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if err := s.SetState(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetState overwrite failed: %v", err)
	}

	value, err = s.GetState(ctx, "k")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if value != "v2" {
		t.Errorf("Expected v2, got %q", value)
	}
}

func TestWatermarks(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	ts, err := s.GetWatermark(ctx, KeyLastIndexed)
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if ts != 0 {
		t.Errorf("Expected 0 for unset watermark, got %d", ts)
	}

	if err := s.SetWatermark(ctx, RelayWatermarkKey("wss://relay.example"), 1700000000); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	ts, err = s.GetWatermark(ctx, RelayWatermarkKey("wss://relay.example"))
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if ts != 1700000000 {
		t.Errorf("Expected 1700000000, got %d", ts)
	}
}

func TestAcquireLockExclusion(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	acquired, err := s.AcquireLock(ctx, "ingest", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected first acquire to succeed")
	}

	// A second holder is refused while the lock is live
	acquired, err = s.AcquireLock(ctx, "ingest", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acquired {
		t.Fatal("Expected second acquire to be refused")
	}

	// The holder can re-acquire to extend its TTL
	acquired, err = s.AcquireLock(ctx, "ingest", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected holder re-acquire to succeed")
	}

	if err := s.ReleaseLock(ctx, "ingest", "token-a"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	acquired, err = s.AcquireLock(ctx, "ingest", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected acquire after release to succeed")
	}
}

func TestAcquireLockExpiredTakeover(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	// A negative TTL writes an already-expired lock
	acquired, err := s.AcquireLock(ctx, "ingest", "stale", -time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected acquire to succeed")
	}

	acquired, err = s.AcquireLock(ctx, "ingest", "fresh", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected takeover of expired lock")
	}
}

func TestReleaseLockWrongToken(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	if _, err := s.AcquireLock(ctx, "trending", "holder", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// Releasing with the wrong token must not free the lock
	if err := s.ReleaseLock(ctx, "trending", "intruder"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	acquired, err := s.AcquireLock(ctx, "trending", "intruder", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acquired {
		t.Fatal("Lock should still be held after wrong-token release")
	}
}

func TestParseLockValue(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		wantToken   string
		wantExpires int64
	}{
		{"well formed", "abc|1700000000", "abc", 1700000000},
		{"no separator", "abc", "abc", 0},
		{"garbage expiry", "abc|soon", "abc", 0},
		{"empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, expires := parseLockValue(tt.value)
			if token != tt.wantToken || expires != tt.wantExpires {
				t.Errorf("parseLockValue(%q) = (%q, %d), want (%q, %d)",
					tt.value, token, expires, tt.wantToken, tt.wantExpires)
			}
		})
	}
}
