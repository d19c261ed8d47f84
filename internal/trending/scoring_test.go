package trending

import (
	"math"
	"testing"
	"time"

	"github.com/sandwichfarm/pulsr/internal/config"
)

func testEngine() *Engine {
	return NewEngine(&config.Scoring{
		RecencyWeight:    0.6,
		EngagementWeight: 0.4,
		KindDamping:      map[int]float64{6: 0.7},
	})
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreTwoCandidates(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	candidates := []*Candidate{
		{EventID: "evt1", Pubkey: "pk1", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "evt2", Pubkey: "pk2", Kind: 1, CreatedAt: now.Unix() - 1800},
	}
	counts := map[string]*Counts{
		"evt1": {Likes: 10, Reposts: 3, Replies: 2, Zaps: 1},
		"evt2": {Likes: 8, Reposts: 5, Replies: 1, Zaps: 0},
	}

	items := engine.Score(candidates, counts, now)
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	// raw(evt1) = 10 + 2*3 + 1.5*2 + 3*1 = 22
	// raw(evt2) = 8 + 2*5 + 1.5*1 = 19.5
	// Both are within the first hour, so recency floors at 1h: 1/(1+1) = 0.5
	// evt1 normalizes to engagement 1, evt2 to 0
	if items[0].EventID != "evt1" {
		t.Fatalf("Expected evt1 first, got %s", items[0].EventID)
	}
	if !approxEqual(items[0].Raw, 22) {
		t.Errorf("Expected raw 22, got %v", items[0].Raw)
	}
	if !approxEqual(items[1].Raw, 19.5) {
		t.Errorf("Expected raw 19.5, got %v", items[1].Raw)
	}
	if !approxEqual(items[0].Score, 0.7) {
		t.Errorf("Expected score 0.7 for evt1, got %v", items[0].Score)
	}
	if !approxEqual(items[1].Score, 0.3) {
		t.Errorf("Expected score 0.3 for evt2, got %v", items[1].Score)
	}
}

func TestScoreZeroZapsAddNothing(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	candidates := []*Candidate{
		{EventID: "a", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "b", Kind: 1, CreatedAt: now.Unix() - 3600},
	}
	counts := map[string]*Counts{
		"a": {Likes: 5, Zaps: 0},
		"b": {Likes: 5, Zaps: 1},
	}

	items := engine.Score(candidates, counts, now)
	if items[0].EventID != "b" {
		t.Errorf("Expected zapped event to rank first, got %s", items[0].EventID)
	}
	if !approxEqual(items[0].Raw, 8) {
		t.Errorf("Expected raw 8 with zap bonus, got %v", items[0].Raw)
	}
	if !approxEqual(items[1].Raw, 5) {
		t.Errorf("Expected raw 5 without zaps, got %v", items[1].Raw)
	}
}

func TestScoreFlatSpread(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	// Identical raw scores: engagement is defined as 0 for everyone
	candidates := []*Candidate{
		{EventID: "a", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "b", Kind: 1, CreatedAt: now.Unix() - 3600},
	}
	counts := map[string]*Counts{
		"a": {Likes: 3},
		"b": {Likes: 3},
	}

	items := engine.Score(candidates, counts, now)
	for _, item := range items {
		if item.Engagement != 0 {
			t.Errorf("Expected engagement 0 on flat spread, got %v for %s", item.Engagement, item.EventID)
		}
		if !approxEqual(item.Score, 0.6*0.5) {
			t.Errorf("Expected pure recency score, got %v", item.Score)
		}
	}
}

func TestScoreKindDamping(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	candidates := []*Candidate{
		{EventID: "note", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "repost", Kind: 6, CreatedAt: now.Unix() - 3600},
	}
	counts := map[string]*Counts{
		"note":   {Likes: 3},
		"repost": {Likes: 3},
	}

	items := engine.Score(candidates, counts, now)
	var note, repost *ScoredItem
	for _, item := range items {
		switch item.EventID {
		case "note":
			note = item
		case "repost":
			repost = item
		}
	}
	if !approxEqual(repost.Score, note.Score*0.7) {
		t.Errorf("Expected repost score damped to 0.7x, got %v vs %v", repost.Score, note.Score)
	}
}

func TestScoreRecencyDecay(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	candidates := []*Candidate{
		{EventID: "fresh", Kind: 1, CreatedAt: now.Unix() - 1800},
		{EventID: "old", Kind: 1, CreatedAt: now.Add(-10 * time.Hour).Unix()},
	}
	counts := map[string]*Counts{}

	items := engine.Score(candidates, counts, now)
	if items[0].EventID != "fresh" {
		t.Errorf("Expected fresh event to rank first")
	}
	if !approxEqual(items[0].Recency, 0.5) {
		t.Errorf("Expected floored recency 0.5, got %v", items[0].Recency)
	}
	if !approxEqual(items[1].Recency, 1.0/11.0) {
		t.Errorf("Expected recency 1/11 at 10h, got %v", items[1].Recency)
	}
}

func TestScoreDeterministicTieBreak(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	// Same score, same created_at: id ascending decides
	candidates := []*Candidate{
		{EventID: "bbb", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "aaa", Kind: 1, CreatedAt: now.Unix() - 3600},
		{EventID: "ccc", Kind: 1, CreatedAt: now.Unix() - 7200},
	}
	counts := map[string]*Counts{}

	for i := 0; i < 5; i++ {
		items := engine.Score(candidates, counts, now)
		if items[0].EventID != "aaa" || items[1].EventID != "bbb" || items[2].EventID != "ccc" {
			t.Fatalf("Run %d: unexpected order %s, %s, %s",
				i, items[0].EventID, items[1].EventID, items[2].EventID)
		}
	}
}

func TestScoreMissingCounts(t *testing.T) {
	engine := testEngine()
	now := time.Unix(1700000000, 0)

	candidates := []*Candidate{
		{EventID: "a", Kind: 1, CreatedAt: now.Unix() - 3600},
	}

	// No counts entry at all: treated as zero engagement
	items := engine.Score(candidates, nil, now)
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Raw != 0 {
		t.Errorf("Expected raw 0 for missing counts, got %v", items[0].Raw)
	}
}
