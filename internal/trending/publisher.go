package trending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

// Publisher persists one aggregation run: engagement counts, the new
// trending and discovery snapshots, the current-pointer swaps, and
// retention pruning, all inside a single transaction. Readers flip from
// the old snapshot to the new one atomically and never see a partially
// populated ranking.
type Publisher struct {
	store     *storage.Storage
	retention time.Duration
	log       *ops.Logger
	now       func() time.Time
}

// NewPublisher creates a snapshot publisher
func NewPublisher(store *storage.Storage, retention time.Duration, log *ops.Logger) *Publisher {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Publisher{
		store:     store,
		retention: retention,
		log:       log.WithComponent("publisher"),
		now:       time.Now,
	}
}

// TrendingSnapshotID derives the deterministic header id for a window so
// a retried run for the same window replaces rows instead of duplicating
// them.
func TrendingSnapshotID(windowEnd time.Time) string {
	return fmt.Sprintf("trending_24h_%d", windowEnd.Unix())
}

// DiscoverySnapshotID derives the discovery header id for a window
func DiscoverySnapshotID(windowEnd time.Time) string {
	return fmt.Sprintf("discovery_%d", windowEnd.Unix())
}

// Publish commits one run's output. Items arrive already ranked; ranks
// are assigned 1..N in slice order.
func (p *Publisher) Publish(ctx context.Context, windowStart, windowEnd time.Time, items []*ScoredItem) (string, string, error) {
	start := p.now()
	trendingID := TrendingSnapshotID(windowEnd)
	discoveryID := DiscoverySnapshotID(windowEnd)
	createdAt := start.Unix()
	cutoff := windowEnd.Add(-p.retention).Unix()

	counts := make([]*storage.EngagementCounts, 0, len(items))
	trendingItems := make([]*storage.TrendingItem, 0, len(items))
	discoveryItems := make([]*storage.DiscoveryItem, 0, len(items))

	for i, item := range items {
		rank := i + 1
		counts = append(counts, &storage.EngagementCounts{
			EventID:   item.EventID,
			Likes:     item.Likes,
			Reposts:   item.Reposts,
			Replies:   item.Replies,
			Zaps:      item.Zaps,
			UpdatedAt: createdAt,
		})
		trendingItems = append(trendingItems, &storage.TrendingItem{
			SnapshotID: trendingID,
			Rank:       rank,
			EventID:    item.EventID,
			Pubkey:     item.Pubkey,
			Kind:       item.Kind,
			CreatedAt:  item.CreatedAt,
			Score:      item.Score,
			Likes:      item.Likes,
			Reposts:    item.Reposts,
			Replies:    item.Replies,
			Zaps:       item.Zaps,
		})

		reasons, err := json.Marshal(map[string]float64{
			"recency":    item.Recency,
			"engagement": item.Engagement,
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to encode reasons: %w", err)
		}
		discoveryItems = append(discoveryItems, &storage.DiscoveryItem{
			SnapshotID: discoveryID,
			Rank:       rank,
			EventID:    item.EventID,
			Pubkey:     item.Pubkey,
			Kind:       item.Kind,
			CreatedAt:  item.CreatedAt,
			Score:      item.Score,
			Reasons:    string(reasons),
		})
	}

	var pruned int64
	err := p.store.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := storage.UpsertEngagementCountsTx(ctx, tx, counts); err != nil {
			return err
		}

		trendingSnap := &storage.Snapshot{
			ID:          trendingID,
			WindowStart: windowStart.Unix(),
			WindowEnd:   windowEnd.Unix(),
			CreatedAt:   createdAt,
		}
		if err := storage.InsertTrendingSnapshotTx(ctx, tx, trendingSnap, trendingItems); err != nil {
			return err
		}

		discoverySnap := &storage.Snapshot{
			ID:          discoveryID,
			WindowStart: windowStart.Unix(),
			WindowEnd:   windowEnd.Unix(),
			CreatedAt:   createdAt,
		}
		if err := storage.InsertDiscoverySnapshotTx(ctx, tx, discoverySnap, discoveryItems); err != nil {
			return err
		}

		// Readers only ever observe these pointers; everything above is
		// invisible until the commit that also swaps them.
		if err := storage.SetStateTx(ctx, tx, storage.KeyCurrentTrending, trendingID); err != nil {
			return err
		}
		if err := storage.SetStateTx(ctx, tx, storage.KeyCurrentDiscovery, discoveryID); err != nil {
			return err
		}

		var err error
		pruned, err = storage.PruneSnapshotsTx(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to publish snapshots: %w", err)
	}

	p.log.LogSnapshotPublish("trending", trendingID, len(trendingItems), time.Since(start))
	p.log.LogSnapshotPublish("discovery", discoveryID, len(discoveryItems), time.Since(start))
	p.log.LogRetentionPrune(int(pruned), nil)

	return trendingID, discoveryID, nil
}
