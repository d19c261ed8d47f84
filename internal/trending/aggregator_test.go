package trending

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/config"
	"github.com/sandwichfarm/pulsr/internal/indexer"
	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

func setupTrendingStorage(t *testing.T) *storage.Storage {
	t.Helper()

	cfg := &config.Storage{SQLitePath: filepath.Join(t.TempDir(), "test.db")}
	st, err := storage.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testLogger() *ops.Logger {
	return ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
}

var eventSeq int

func storeEvent(t *testing.T, st *storage.Storage, kind int, createdAt int64, tags nostr.Tags) *nostr.Event {
	t.Helper()

	eventSeq++
	event := &nostr.Event{
		ID:        fmt.Sprintf("%060d%04d", 0, eventSeq),
		PubKey:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
	}
	if err := st.StoreEvent(context.Background(), event); err != nil {
		t.Fatalf("Failed to store event: %v", err)
	}
	return event
}

func TestAggregateCountsSignals(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 100, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	windowStart := windowEnd.Add(-24 * time.Hour)
	inWindow := windowEnd.Unix() - 3600

	note := storeEvent(t, st, indexer.KindNote, inWindow, nostr.Tags{})

	// One like, one repost, one zap, one reply, one quote
	storeEvent(t, st, indexer.KindReaction, inWindow+10, nostr.Tags{{"e", note.ID}})
	storeEvent(t, st, indexer.KindRepost, inWindow+20, nostr.Tags{{"e", note.ID}})
	storeEvent(t, st, indexer.KindZapReceipt, inWindow+30, nostr.Tags{{"e", note.ID}})
	storeEvent(t, st, indexer.KindNote, inWindow+40, nostr.Tags{{"e", note.ID, "", "reply"}})
	storeEvent(t, st, indexer.KindNote, inWindow+50, nostr.Tags{{"e", note.ID, "", "q"}})

	candidates, counts, err := agg.Aggregate(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	found := false
	for _, cand := range candidates {
		if cand.EventID == note.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("Expected note among candidates")
	}

	c := counts[note.ID]
	if c == nil {
		t.Fatal("Expected counts for note")
	}
	if c.Likes != 1 {
		t.Errorf("Expected 1 like, got %d", c.Likes)
	}
	if c.Reposts != 2 {
		t.Errorf("Expected 2 reposts (repost + quote), got %d", c.Reposts)
	}
	if c.Replies != 1 {
		t.Errorf("Expected 1 reply, got %d", c.Replies)
	}
	if c.Zaps != 1 {
		t.Errorf("Expected 1 zap, got %d", c.Zaps)
	}
}

func TestAggregateDeduplicatesTags(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 100, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	windowStart := windowEnd.Add(-24 * time.Hour)
	inWindow := windowEnd.Unix() - 3600

	note := storeEvent(t, st, indexer.KindNote, inWindow, nostr.Tags{})

	// A reaction referencing the same note through two e tags counts once
	storeEvent(t, st, indexer.KindReaction, inWindow+10, nostr.Tags{
		{"e", note.ID},
		{"e", note.ID},
	})

	_, counts, err := agg.Aggregate(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if counts[note.ID].Likes != 1 {
		t.Errorf("Expected duplicate tags to count once, got %d likes", counts[note.ID].Likes)
	}
}

func TestAggregateIgnoresNonCandidateTargets(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 100, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	windowStart := windowEnd.Add(-24 * time.Hour)
	inWindow := windowEnd.Unix() - 3600

	note := storeEvent(t, st, indexer.KindNote, inWindow, nostr.Tags{})

	// Engagement pointing outside the candidate set is dropped
	storeEvent(t, st, indexer.KindReaction, inWindow+10, nostr.Tags{
		{"e", "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
	})

	_, counts, err := agg.Aggregate(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if counts[note.ID].Likes != 0 {
		t.Errorf("Expected 0 likes, got %d", counts[note.ID].Likes)
	}
	if len(counts) != 1 {
		t.Errorf("Expected counts only for candidates, got %d entries", len(counts))
	}
}

func TestAggregateWindowBounds(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 100, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	windowStart := windowEnd.Add(-24 * time.Hour)

	storeEvent(t, st, indexer.KindNote, windowStart.Unix()-10, nostr.Tags{}) // too old
	inside := storeEvent(t, st, indexer.KindNote, windowEnd.Unix()-3600, nostr.Tags{})

	candidates, _, err := agg.Aggregate(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].EventID != inside.ID {
		t.Errorf("Expected only the in-window note, got %d candidates", len(candidates))
	}
}

func TestAggregateCandidateCap(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 3, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	windowStart := windowEnd.Add(-24 * time.Hour)

	for i := 0; i < 10; i++ {
		storeEvent(t, st, indexer.KindNote, windowEnd.Unix()-int64(100*(i+1)), nostr.Tags{})
	}

	candidates, _, err := agg.Aggregate(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("Expected cap of 3 candidates, got %d", len(candidates))
	}

	// The cap keeps the newest notes
	for i := 1; i < len(candidates); i++ {
		if candidates[i-1].CreatedAt < candidates[i].CreatedAt {
			t.Errorf("Expected newest-first order, got %d before %d",
				candidates[i-1].CreatedAt, candidates[i].CreatedAt)
		}
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	st := setupTrendingStorage(t)
	agg := NewAggregator(st, 100, testLogger())

	windowEnd := time.Unix(1700000000, 0)
	candidates, counts, err := agg.Aggregate(context.Background(), windowEnd.Add(-time.Hour), windowEnd)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(candidates) != 0 || len(counts) != 0 {
		t.Errorf("Expected empty result, got %d candidates", len(candidates))
	}
}
