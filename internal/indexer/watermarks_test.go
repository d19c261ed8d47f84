package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandwichfarm/pulsr/internal/config"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

func setupWatermarks(t *testing.T) (*WatermarkManager, *storage.Storage) {
	t.Helper()

	cfg := &config.Storage{SQLitePath: filepath.Join(t.TempDir(), "test.db")}
	st, err := storage.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	wm := NewWatermarkManager(st, 60*time.Second, 86400*time.Second)
	wm.now = func() time.Time { return time.Unix(1700000000, 0) }
	return wm, st
}

func TestSinceForRelay(t *testing.T) {
	wm, st := setupWatermarks(t)
	ctx := context.Background()

	// No watermarks anywhere: fall back to the lookback horizon
	since, err := wm.SinceForRelay(ctx, "wss://a.example", 0)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if want := int64(1700000000 - 86400); since != want {
		t.Errorf("Expected lookback since %d, got %d", want, since)
	}

	// Global watermark set: global minus overlap
	if err := st.SetWatermark(ctx, storage.KeyLastIndexed, 1699999000); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	since, err = wm.SinceForRelay(ctx, "wss://a.example", 0)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if want := int64(1699999000 - 60); since != want {
		t.Errorf("Expected global since %d, got %d", want, since)
	}

	// Relay watermark wins over global
	if err := st.SetWatermark(ctx, storage.RelayWatermarkKey("wss://a.example"), 1699999500); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	since, err = wm.SinceForRelay(ctx, "wss://a.example", 0)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if want := int64(1699999500 - 60); since != want {
		t.Errorf("Expected relay since %d, got %d", want, since)
	}

	// An explicit override beats everything
	since, err = wm.SinceForRelay(ctx, "wss://a.example", 42)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if since != 42 {
		t.Errorf("Expected override 42, got %d", since)
	}

	// A different relay still falls back to global
	since, err = wm.SinceForRelay(ctx, "wss://b.example", 0)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if want := int64(1699999000 - 60); since != want {
		t.Errorf("Expected global since %d for fresh relay, got %d", want, since)
	}
}

func TestSinceForRelayNeverNegative(t *testing.T) {
	wm, st := setupWatermarks(t)
	ctx := context.Background()

	if err := st.SetWatermark(ctx, storage.RelayWatermarkKey("wss://a.example"), 30); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	since, err := wm.SinceForRelay(ctx, "wss://a.example", 0)
	if err != nil {
		t.Fatalf("SinceForRelay failed: %v", err)
	}
	if since != 0 {
		t.Errorf("Expected since clamped to 0, got %d", since)
	}
}

func TestAdvanceWatermarks(t *testing.T) {
	wm, st := setupWatermarks(t)
	ctx := context.Background()

	if err := wm.AdvanceRelay(ctx, "wss://a.example"); err != nil {
		t.Fatalf("AdvanceRelay failed: %v", err)
	}
	if err := wm.AdvanceGlobal(ctx); err != nil {
		t.Fatalf("AdvanceGlobal failed: %v", err)
	}

	relayMark, err := st.GetWatermark(ctx, storage.RelayWatermarkKey("wss://a.example"))
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if relayMark != 1700000000 {
		t.Errorf("Expected relay watermark at now, got %d", relayMark)
	}

	globalMark, err := st.GetWatermark(ctx, storage.KeyLastIndexed)
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if globalMark != 1700000000 {
		t.Errorf("Expected global watermark at now, got %d", globalMark)
	}
}
