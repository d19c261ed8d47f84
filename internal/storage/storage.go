package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/config"
)

// Storage provides the persistence layer for pulsr: the raw event store
// plus the indexer tables (profiles, relationships, engagement counts,
// snapshots, state) that share its database handle.
type Storage struct {
	events *sqlite3.SQLite3Backend
	db     *sqlx.DB
}

// New creates a new Storage instance with the given configuration
func New(ctx context.Context, cfg *config.Storage) (*Storage, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	backend := &sqlite3.SQLite3Backend{
		DatabaseURL: cfg.SQLitePath,
		QueryLimit:  10000,
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	// The eventstore backend configures its sqlx handle to map struct
	// fields by json tag; the indexer tables map by db tag, so wrap the
	// same connection pool in a handle with the default db-tag mapper.
	s := &Storage{
		events: backend,
		db:     sqlx.NewDb(backend.DB.DB, "sqlite3"),
	}

	if err := s.runMigrations(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// DB returns the underlying database handle (for the indexer tables)
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// StoreEvent stores a raw event, replacing by id. Event ids are content
// hashes, so a duplicate id means an identical event and is not an error.
func (s *Storage) StoreEvent(ctx context.Context, event *nostr.Event) error {
	if err := s.events.SaveEvent(ctx, event); err != nil {
		if errors.Is(err, eventstore.ErrDupEvent) {
			return nil
		}
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// QueryEvents queries raw events using a Nostr filter
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := s.events.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// EventExists checks whether an event id is already stored
func (s *Storage) EventExists(ctx context.Context, eventID string) (bool, error) {
	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// DeleteEventByID removes an event from the raw store, if present
func (s *Storage) DeleteEventByID(ctx context.Context, eventID string) error {
	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to query event before delete: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	if err := s.events.DeleteEvent(ctx, events[0]); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// Transact runs fn inside a single database transaction, rolling back on
// error or panic.
func (s *Storage) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the storage connections
func (s *Storage) Close() error {
	s.events.Close()
	return nil
}
