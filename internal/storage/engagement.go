package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// EngagementCounts is the recomputed aggregate for one event. Each
// aggregation run overwrites the whole row; counts are never incremented
// in place.
type EngagementCounts struct {
	EventID   string `db:"event_id" json:"event_id"`
	Likes     int64  `db:"likes" json:"likes"`
	Reposts   int64  `db:"reposts" json:"reposts"`
	Replies   int64  `db:"replies" json:"replies"`
	Zaps      int64  `db:"zaps" json:"zaps"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// UpsertEngagementCountsTx overwrites counts rows inside an existing
// transaction.
func UpsertEngagementCountsTx(ctx context.Context, tx *sqlx.Tx, counts []*EngagementCounts) error {
	for _, c := range counts {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO engagement_counts (event_id, likes, reposts, replies, zaps, updated_at)
			VALUES (:event_id, :likes, :reposts, :replies, :zaps, :updated_at)
			ON CONFLICT(event_id) DO UPDATE SET
				likes = excluded.likes,
				reposts = excluded.reposts,
				replies = excluded.replies,
				zaps = excluded.zaps,
				updated_at = excluded.updated_at`, c)
		if err != nil {
			return fmt.Errorf("failed to upsert engagement counts for %s: %w", c.EventID, err)
		}
	}
	return nil
}

// GetEngagementCounts returns counts for a batch of event ids. Events
// with no row are simply absent from the result.
func (s *Storage) GetEngagementCounts(ctx context.Context, eventIDs []string) (map[string]*EngagementCounts, error) {
	result := make(map[string]*EngagementCounts)
	if len(eventIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	var rows []*EngagementCounts
	query := fmt.Sprintf(`SELECT * FROM engagement_counts WHERE event_id IN (%s)`, placeholders)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get engagement counts: %w", err)
	}

	for _, row := range rows {
		result[row.EventID] = row
	}
	return result, nil
}
