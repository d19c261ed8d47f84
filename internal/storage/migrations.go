package storage

import (
	"context"
	"fmt"
)

// migrations are the indexer tables layered next to the raw event store.
// Every statement must stay idempotent; they run on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		pubkey TEXT PRIMARY KEY,
		name TEXT,
		display_name TEXT,
		about TEXT,
		picture TEXT,
		banner TEXT,
		website TEXT,
		lud16 TEXT,
		nip05 TEXT,
		created_at INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profile_search (
		term TEXT NOT NULL,
		pubkey TEXT NOT NULL,
		PRIMARY KEY (term, pubkey)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_profile_search_term ON profile_search(term)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		follower_pubkey TEXT NOT NULL,
		following_pubkey TEXT NOT NULL,
		relay TEXT,
		petname TEXT,
		created_at INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL,
		PRIMARY KEY (follower_pubkey, following_pubkey)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_following ON relationships(following_pubkey)`,
	`CREATE TABLE IF NOT EXISTS engagement_counts (
		event_id TEXT PRIMARY KEY,
		likes INTEGER NOT NULL DEFAULT 0,
		reposts INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		zaps INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trending_snapshots (
		id TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trending_items (
		snapshot_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		pubkey TEXT NOT NULL,
		kind INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		score REAL NOT NULL,
		likes INTEGER NOT NULL DEFAULT 0,
		reposts INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		zaps INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS discovery_snapshots (
		id TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS discovery_items (
		snapshot_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		pubkey TEXT NOT NULL,
		kind INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		score REAL NOT NULL,
		reasons TEXT,
		PRIMARY KEY (snapshot_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS indexer_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// runMigrations creates the indexer tables
func (s *Storage) runMigrations(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
