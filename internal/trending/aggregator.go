package trending

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/indexer"
	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

// signalQueryLimit bounds how many signal events one aggregation run will
// scan inside the window.
const signalQueryLimit = 10000

// Candidate is an event eligible for ranking in a window
type Candidate struct {
	EventID   string
	Pubkey    string
	Kind      int
	CreatedAt int64
}

// Counts is the per-candidate engagement tally for one run
type Counts struct {
	Likes   int64
	Reposts int64
	Replies int64
	Zaps    int64
}

// Aggregator recomputes engagement counts for all candidates in a time
// window. The output is a full recomputation, never a delta on stored
// counts.
type Aggregator struct {
	store        *storage.Storage
	candidateCap int
	log          *ops.Logger
}

// NewAggregator creates an engagement aggregator
func NewAggregator(store *storage.Storage, candidateCap int, log *ops.Logger) *Aggregator {
	if candidateCap <= 0 {
		candidateCap = 2000
	}
	return &Aggregator{
		store:        store,
		candidateCap: candidateCap,
		log:          log.WithComponent("aggregator"),
	}
}

// Aggregate selects candidate notes in [windowStart, windowEnd] and
// tallies likes, reposts, replies and zaps referencing them. Engagement
// pointing at events outside the candidate set is not tracked.
func (a *Aggregator) Aggregate(ctx context.Context, windowStart, windowEnd time.Time) ([]*Candidate, map[string]*Counts, error) {
	since := nostr.Timestamp(windowStart.Unix())
	until := nostr.Timestamp(windowEnd.Unix())

	notes, err := a.store.QueryEvents(ctx, nostr.Filter{
		Kinds: []int{indexer.KindNote},
		Since: &since,
		Until: &until,
		Limit: a.candidateCap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select candidates: %w", err)
	}

	// Newest first, capped. The store usually returns this order already
	// but the cap must not depend on it.
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt != notes[j].CreatedAt {
			return notes[i].CreatedAt > notes[j].CreatedAt
		}
		return notes[i].ID < notes[j].ID
	})
	if len(notes) > a.candidateCap {
		notes = notes[:a.candidateCap]
	}

	candidates := make([]*Candidate, 0, len(notes))
	counts := make(map[string]*Counts, len(notes))
	for _, note := range notes {
		candidates = append(candidates, &Candidate{
			EventID:   note.ID,
			Pubkey:    note.PubKey,
			Kind:      note.Kind,
			CreatedAt: int64(note.CreatedAt),
		})
		counts[note.ID] = &Counts{}
	}

	if len(candidates) == 0 {
		return candidates, counts, nil
	}

	signals, err := a.store.QueryEvents(ctx, nostr.Filter{
		Kinds: []int{indexer.KindNote, indexer.KindRepost, indexer.KindReaction, indexer.KindZapReceipt},
		Since: &since,
		Until: &until,
		Limit: signalQueryLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select signal events: %w", err)
	}

	for _, signal := range signals {
		a.applySignal(signal, counts)
	}

	a.log.Debug("aggregation complete",
		"candidates", len(candidates),
		"signals", len(signals),
		"window_start", windowStart.Unix(),
		"window_end", windowEnd.Unix())

	return candidates, counts, nil
}

// applySignal increments counter buckets for every candidate the signal
// references. A signal referencing the same candidate through several e
// tags counts once.
func (a *Aggregator) applySignal(signal *nostr.Event, counts map[string]*Counts) {
	seen := make(map[string]bool)

	for _, tag := range signal.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		target := tag[1]
		c, ok := counts[target]
		if !ok {
			continue
		}

		marker := ""
		if len(tag) > 3 {
			marker = tag[3]
		}

		switch signal.Kind {
		case indexer.KindReaction:
			if !seen[target] {
				c.Likes++
			}
		case indexer.KindRepost:
			if !seen[target] {
				c.Reposts++
			}
		case indexer.KindZapReceipt:
			if !seen[target] {
				c.Zaps++
			}
		case indexer.KindNote:
			// Replies and quotes are kind-1 notes distinguished by the
			// e-tag marker; unmarked references are plain mentions.
			switch marker {
			case "reply":
				c.Replies++
			case "q", "quote":
				c.Reposts++
			}
			continue // markers decide per tag, not per event
		}
		seen[target] = true
	}
}
