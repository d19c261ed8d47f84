package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Keys used in the indexer_state table. Relay watermarks append the relay
// URL to the prefix.
const (
	KeyLastIndexed          = "last_indexed"
	KeyRelayWatermarkPrefix = "relay_last_indexed:"
	KeyLastRunStats         = "last_run_stats"
	KeyCurrentTrending      = "current_trending_snapshot_24h"
	KeyCurrentDiscovery     = "current_discovery_snapshot"
	keyLockPrefix           = "lock:"
)

// GetState returns the value for a state key, or "" if absent
func (s *Storage) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM indexer_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state key
func (s *Storage) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indexer_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// GetWatermark returns a unix-seconds watermark stored under key, 0 if unset
func (s *Storage) GetWatermark(ctx context.Context, key string) (int64, error) {
	value, err := s.GetState(ctx, key)
	if err != nil || value == "" {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark under %q: %w", key, err)
	}
	return ts, nil
}

// SetWatermark stores a unix-seconds watermark under key
func (s *Storage) SetWatermark(ctx context.Context, key string, ts int64) error {
	return s.SetState(ctx, key, strconv.FormatInt(ts, 10))
}

// RelayWatermarkKey returns the state key holding a relay's watermark
func RelayWatermarkKey(relay string) string {
	return KeyRelayWatermarkPrefix + relay
}

// AcquireLock takes a TTL-bound advisory lock. It returns false when the
// lock is currently held by a different token. An expired lock is taken
// over, so an abandoned run cannot block its successors forever. This is
// best-effort mutual exclusion for a single-instance deployment, not a
// strict distributed lease.
func (s *Storage) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key := keyLockPrefix + name
	now := time.Now()
	acquired := false

	err := s.Transact(ctx, func(tx *sqlx.Tx) error {
		var value string
		err := tx.GetContext(ctx, &value, `SELECT value FROM indexer_state WHERE key = ?`, key)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read lock %q: %w", name, err)
		}

		if err == nil {
			holder, expires := parseLockValue(value)
			if holder != token && expires > now.Unix() {
				return nil // held by someone else
			}
		}

		newValue := fmt.Sprintf("%s|%d", token, now.Add(ttl).Unix())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO indexer_state (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, newValue, now.Unix()); err != nil {
			return fmt.Errorf("failed to write lock %q: %w", name, err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLock releases an advisory lock if the token still holds it
func (s *Storage) ReleaseLock(ctx context.Context, name, token string) error {
	key := keyLockPrefix + name
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM indexer_state WHERE key = ? AND value LIKE ?`, key, token+"|%")
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}

// parseLockValue splits a "token|expiresUnix" lock value. A value that
// does not parse is treated as expired.
func parseLockValue(value string) (token string, expires int64) {
	idx := strings.LastIndexByte(value, '|')
	if idx < 0 {
		return value, 0
	}
	expires, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return value[:idx], 0
	}
	return value[:idx], expires
}
