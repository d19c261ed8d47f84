package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Snapshot is an immutable ranking header. Items hang off its id.
type Snapshot struct {
	ID          string `db:"id"`
	WindowStart int64  `db:"window_start"`
	WindowEnd   int64  `db:"window_end"`
	CreatedAt   int64  `db:"created_at"`
}

// TrendingItem is one ranked row of a trending snapshot
type TrendingItem struct {
	SnapshotID string  `db:"snapshot_id" json:"-"`
	Rank       int     `db:"rank" json:"rank"`
	EventID    string  `db:"event_id" json:"event_id"`
	Pubkey     string  `db:"pubkey" json:"pubkey"`
	Kind       int     `db:"kind" json:"kind"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
	Score      float64 `db:"score" json:"score"`
	Likes      int64   `db:"likes" json:"likes"`
	Reposts    int64   `db:"reposts" json:"reposts"`
	Replies    int64   `db:"replies" json:"replies"`
	Zaps       int64   `db:"zaps" json:"zaps"`
}

// DiscoveryItem is one ranked row of a discovery snapshot. Reasons is an
// opaque JSON payload explaining the ranking.
type DiscoveryItem struct {
	SnapshotID string  `db:"snapshot_id" json:"-"`
	Rank       int     `db:"rank" json:"rank"`
	EventID    string  `db:"event_id" json:"event_id"`
	Pubkey     string  `db:"pubkey" json:"pubkey"`
	Kind       int     `db:"kind" json:"kind"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
	Score      float64 `db:"score" json:"score"`
	Reasons    string  `db:"reasons" json:"reasons"`
}

// InsertTrendingSnapshotTx writes a snapshot header and its ranked items.
// Both replace on conflict, so a retried run for the same window is
// idempotent.
func InsertTrendingSnapshotTx(ctx context.Context, tx *sqlx.Tx, snap *Snapshot, items []*TrendingItem) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO trending_snapshots (id, window_start, window_end, created_at)
		VALUES (:id, :window_start, :window_end, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			created_at = excluded.created_at`, snap)
	if err != nil {
		return fmt.Errorf("failed to insert trending snapshot: %w", err)
	}

	for _, item := range items {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO trending_items (snapshot_id, rank, event_id, pubkey, kind,
				created_at, score, likes, reposts, replies, zaps)
			VALUES (:snapshot_id, :rank, :event_id, :pubkey, :kind,
				:created_at, :score, :likes, :reposts, :replies, :zaps)
			ON CONFLICT(snapshot_id, rank) DO UPDATE SET
				event_id = excluded.event_id,
				pubkey = excluded.pubkey,
				kind = excluded.kind,
				created_at = excluded.created_at,
				score = excluded.score,
				likes = excluded.likes,
				reposts = excluded.reposts,
				replies = excluded.replies,
				zaps = excluded.zaps`, item)
		if err != nil {
			return fmt.Errorf("failed to insert trending item %d: %w", item.Rank, err)
		}
	}
	return nil
}

// InsertDiscoverySnapshotTx writes a discovery snapshot header and items
func InsertDiscoverySnapshotTx(ctx context.Context, tx *sqlx.Tx, snap *Snapshot, items []*DiscoveryItem) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO discovery_snapshots (id, window_start, window_end, created_at)
		VALUES (:id, :window_start, :window_end, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			created_at = excluded.created_at`, snap)
	if err != nil {
		return fmt.Errorf("failed to insert discovery snapshot: %w", err)
	}

	for _, item := range items {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO discovery_items (snapshot_id, rank, event_id, pubkey, kind,
				created_at, score, reasons)
			VALUES (:snapshot_id, :rank, :event_id, :pubkey, :kind,
				:created_at, :score, :reasons)
			ON CONFLICT(snapshot_id, rank) DO UPDATE SET
				event_id = excluded.event_id,
				pubkey = excluded.pubkey,
				kind = excluded.kind,
				created_at = excluded.created_at,
				score = excluded.score,
				reasons = excluded.reasons`, item)
		if err != nil {
			return fmt.Errorf("failed to insert discovery item %d: %w", item.Rank, err)
		}
	}
	return nil
}

// SetStateTx upserts a state key inside an existing transaction. Used for
// the current-snapshot pointer swap so readers flip atomically with the
// snapshot commit.
func SetStateTx(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO indexer_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// PruneSnapshotsTx deletes snapshot headers whose window ended before the
// cutoff, then removes items whose header no longer exists.
func PruneSnapshotsTx(ctx context.Context, tx *sqlx.Tx, cutoff int64) (int64, error) {
	var deleted int64
	for _, table := range []struct{ headers, items string }{
		{"trending_snapshots", "trending_items"},
		{"discovery_snapshots", "discovery_items"},
	} {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE window_end < ?`, table.headers), cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to prune %s: %w", table.headers, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE snapshot_id NOT IN (SELECT id FROM %s)`,
			table.items, table.headers))
		if err != nil {
			return deleted, fmt.Errorf("failed to prune %s: %w", table.items, err)
		}
	}
	return deleted, nil
}

// GetTrendingSnapshot returns a snapshot header by id, nil if absent
func (s *Storage) GetTrendingSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.getSnapshot(ctx, "trending_snapshots", id)
}

// GetDiscoverySnapshot returns a discovery snapshot header by id
func (s *Storage) GetDiscoverySnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.getSnapshot(ctx, "discovery_snapshots", id)
}

func (s *Storage) getSnapshot(ctx context.Context, table, id string) (*Snapshot, error) {
	var snaps []*Snapshot
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, table)
	if err := s.db.SelectContext(ctx, &snaps, query, id); err != nil {
		return nil, fmt.Errorf("failed to get snapshot %q: %w", id, err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0], nil
}

// GetTrendingPage returns one page of a trending snapshot, rank order
func (s *Storage) GetTrendingPage(ctx context.Context, snapshotID string, offset, limit int) ([]*TrendingItem, error) {
	var items []*TrendingItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM trending_items WHERE snapshot_id = ?
		ORDER BY rank ASC LIMIT ? OFFSET ?`, snapshotID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get trending page: %w", err)
	}
	return items, nil
}

// GetDiscoveryPage returns one page of a discovery snapshot, rank order
func (s *Storage) GetDiscoveryPage(ctx context.Context, snapshotID string, offset, limit int) ([]*DiscoveryItem, error) {
	var items []*DiscoveryItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM discovery_items WHERE snapshot_id = ?
		ORDER BY rank ASC LIMIT ? OFFSET ?`, snapshotID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get discovery page: %w", err)
	}
	return items, nil
}

// CountSnapshotItems returns how many items a snapshot holds
func (s *Storage) CountSnapshotItems(ctx context.Context, table, snapshotID string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE snapshot_id = ?`, table)
	if err := s.db.GetContext(ctx, &n, query, snapshotID); err != nil {
		return 0, fmt.Errorf("failed to count snapshot items: %w", err)
	}
	return n, nil
}
