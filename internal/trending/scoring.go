package trending

import (
	"sort"
	"time"

	"github.com/sandwichfarm/pulsr/internal/config"
)

// ScoredItem is a candidate with its engagement tally and final score
type ScoredItem struct {
	Candidate
	Counts
	Raw        float64
	Engagement float64
	Recency    float64
	Score      float64
}

// Engine converts candidates plus counts into a deterministic ranked
// ordering. Weights come from configuration (0.6 recency / 0.4 engagement
// by default) and never vary between runs.
type Engine struct {
	recencyWeight    float64
	engagementWeight float64
	kindDamping      map[int]float64
}

// NewEngine creates a scoring engine from the scoring configuration
func NewEngine(cfg *config.Scoring) *Engine {
	return &Engine{
		recencyWeight:    cfg.RecencyWeight,
		engagementWeight: cfg.EngagementWeight,
		kindDamping:      cfg.KindDamping,
	}
}

// Score ranks the candidates as of now. The same candidates and counts
// always produce the same order: ties break on created_at descending,
// then event id ascending.
func (e *Engine) Score(candidates []*Candidate, counts map[string]*Counts, now time.Time) []*ScoredItem {
	items := make([]*ScoredItem, 0, len(candidates))

	minRaw, maxRaw := 0.0, 0.0
	for i, cand := range candidates {
		c := counts[cand.EventID]
		if c == nil {
			c = &Counts{}
		}

		raw := float64(c.Likes) + 2*float64(c.Reposts) + 1.5*float64(c.Replies)
		if c.Zaps > 0 {
			raw += 3 * float64(c.Zaps)
		}

		if i == 0 || raw < minRaw {
			minRaw = raw
		}
		if i == 0 || raw > maxRaw {
			maxRaw = raw
		}

		items = append(items, &ScoredItem{
			Candidate: *cand,
			Counts:    *c,
			Raw:       raw,
		})
	}

	spread := maxRaw - minRaw
	for _, item := range items {
		// With a flat candidate set the engagement term is defined as 0
		// rather than dividing by zero.
		if spread > 0 {
			item.Engagement = (item.Raw - minRaw) / spread
		}

		hours := now.Sub(time.Unix(item.CreatedAt, 0)).Hours()
		if hours < 1 {
			hours = 1
		}
		item.Recency = 1 / (1 + hours)

		item.Score = e.recencyWeight*item.Recency + e.engagementWeight*item.Engagement
		if damp, ok := e.kindDamping[item.Kind]; ok {
			item.Score *= damp
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].EventID < items[j].EventID
	})

	return items
}
