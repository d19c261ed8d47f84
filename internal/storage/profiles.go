package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"
)

// Profile is the materialized view of a kind-0 event
type Profile struct {
	Pubkey      string `db:"pubkey" json:"pubkey"`
	Name        string `db:"name" json:"name"`
	DisplayName string `db:"display_name" json:"display_name"`
	About       string `db:"about" json:"about"`
	Picture     string `db:"picture" json:"picture"`
	Banner      string `db:"banner" json:"banner"`
	Website     string `db:"website" json:"website"`
	Lud16       string `db:"lud16" json:"lud16"`
	Nip05       string `db:"nip05" json:"nip05"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	IndexedAt   int64  `db:"indexed_at" json:"indexed_at"`
}

// UpsertProfile replaces the profile row for a pubkey. A stale event
// (older created_at than the stored row) is ignored so out-of-order relay
// delivery cannot clobber newer state.
func (s *Storage) UpsertProfile(ctx context.Context, p *Profile) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (pubkey, name, display_name, about, picture, banner,
			website, lud16, nip05, created_at, indexed_at)
		VALUES (:pubkey, :name, :display_name, :about, :picture, :banner,
			:website, :lud16, :nip05, :created_at, :indexed_at)
		ON CONFLICT(pubkey) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			about = excluded.about,
			picture = excluded.picture,
			banner = excluded.banner,
			website = excluded.website,
			lud16 = excluded.lud16,
			nip05 = excluded.nip05,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at
		WHERE excluded.created_at >= profiles.created_at`, p)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil // stale event, search index untouched
	}

	return s.reindexProfileSearch(ctx, p)
}

// GetProfile returns the profile for a pubkey, nil if unknown
func (s *Storage) GetProfile(ctx context.Context, pubkey string) (*Profile, error) {
	var p Profile
	err := s.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE pubkey = ?`, pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// CountProfiles returns the number of indexed profiles
func (s *Storage) CountProfiles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM profiles`); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// SearchProfiles returns profiles whose indexed terms match the query,
// newest first, paginated.
func (s *Storage) SearchProfiles(ctx context.Context, query string, page, perPage int) ([]*Profile, int, error) {
	terms := ExtractSearchTerms(query)
	if len(terms) == 0 {
		return nil, 0, nil
	}
	if perPage <= 0 {
		perPage = 20
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terms)), ",")
	args := make([]interface{}, 0, len(terms)+2)
	for _, term := range terms {
		args = append(args, term)
	}

	var total int
	countQuery := fmt.Sprintf(
		`SELECT COUNT(DISTINCT pubkey) FROM profile_search WHERE term IN (%s)`, placeholders)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	query2 := fmt.Sprintf(`
		SELECT p.* FROM profiles p
		WHERE p.pubkey IN (SELECT DISTINCT pubkey FROM profile_search WHERE term IN (%s))
		ORDER BY p.created_at DESC
		LIMIT ? OFFSET ?`, placeholders)
	args = append(args, perPage, page*perPage)

	var profiles []*Profile
	if err := s.db.SelectContext(ctx, &profiles, query2, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search profiles: %w", err)
	}
	return profiles, total, nil
}

// reindexProfileSearch rebuilds the term index rows for one pubkey
func (s *Storage) reindexProfileSearch(ctx context.Context, p *Profile) error {
	terms := make(map[string]struct{})
	for _, field := range []string{p.Name, p.DisplayName, p.About} {
		for _, term := range ExtractSearchTerms(field) {
			terms[term] = struct{}{}
		}
	}
	if p.Nip05 != "" {
		terms[strings.ToLower(p.Nip05)] = struct{}{}
	}

	return s.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM profile_search WHERE pubkey = ?`, p.Pubkey); err != nil {
			return fmt.Errorf("failed to clear search terms: %w", err)
		}
		for term := range terms {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO profile_search (term, pubkey) VALUES (?, ?)`,
				term, p.Pubkey); err != nil {
				return fmt.Errorf("failed to index search term: %w", err)
			}
		}
		return nil
	})
}

// ExtractSearchTerms tokenizes free text into lowercase alphanumeric
// terms longer than two characters.
func ExtractSearchTerms(text string) []string {
	var terms []string
	for _, word := range strings.Fields(text) {
		if len(word) <= 2 {
			continue
		}
		term := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
