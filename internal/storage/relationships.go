package storage

import (
	"context"
	"fmt"
)

// Relationship is one follower→following edge from a kind-3 contact list
type Relationship struct {
	FollowerPubkey  string `db:"follower_pubkey" json:"follower_pubkey"`
	FollowingPubkey string `db:"following_pubkey" json:"following_pubkey"`
	Relay           string `db:"relay" json:"relay"`
	Petname         string `db:"petname" json:"petname"`
	CreatedAt       int64  `db:"created_at" json:"created_at"`
	IndexedAt       int64  `db:"indexed_at" json:"indexed_at"`
}

// UpsertRelationship replaces the row for a (follower, following) pair.
// Stale contact-list events (older created_at) are ignored.
func (s *Storage) UpsertRelationship(ctx context.Context, r *Relationship) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO relationships (follower_pubkey, following_pubkey, relay, petname,
			created_at, indexed_at)
		VALUES (:follower_pubkey, :following_pubkey, :relay, :petname,
			:created_at, :indexed_at)
		ON CONFLICT(follower_pubkey, following_pubkey) DO UPDATE SET
			relay = excluded.relay,
			petname = excluded.petname,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at
		WHERE excluded.created_at >= relationships.created_at`, r)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

// GetFollowing returns who a pubkey follows, newest first
func (s *Storage) GetFollowing(ctx context.Context, pubkey string, limit int) ([]*Relationship, error) {
	var rels []*Relationship
	err := s.db.SelectContext(ctx, &rels, `
		SELECT * FROM relationships WHERE follower_pubkey = ?
		ORDER BY created_at DESC LIMIT ?`, pubkey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get following: %w", err)
	}
	return rels, nil
}

// GetFollowers returns who follows a pubkey, newest first
func (s *Storage) GetFollowers(ctx context.Context, pubkey string, limit int) ([]*Relationship, error) {
	var rels []*Relationship
	err := s.db.SelectContext(ctx, &rels, `
		SELECT * FROM relationships WHERE following_pubkey = ?
		ORDER BY created_at DESC LIMIT ?`, pubkey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get followers: %w", err)
	}
	return rels, nil
}

// RelationshipStats holds follow-graph counts for one pubkey
type RelationshipStats struct {
	Pubkey         string `json:"pubkey"`
	FollowingCount int64  `json:"following_count"`
	FollowersCount int64  `json:"followers_count"`
}

// GetRelationshipStats returns follower/following counts for a pubkey
func (s *Storage) GetRelationshipStats(ctx context.Context, pubkey string) (*RelationshipStats, error) {
	stats := &RelationshipStats{Pubkey: pubkey}
	err := s.db.GetContext(ctx, &stats.FollowingCount,
		`SELECT COUNT(*) FROM relationships WHERE follower_pubkey = ?`, pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to count following: %w", err)
	}
	err = s.db.GetContext(ctx, &stats.FollowersCount,
		`SELECT COUNT(*) FROM relationships WHERE following_pubkey = ?`, pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to count followers: %w", err)
	}
	return stats, nil
}

// CountRelationships returns the total number of follow edges
func (s *Storage) CountRelationships(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM relationships`); err != nil {
		return 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return n, nil
}
