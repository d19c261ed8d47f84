package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sandwichfarm/pulsr/internal/storage"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	maxEngagementBatch = 500
	defaultGraphLimit  = 100
	maxGraphLimit      = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// feedPage is the common shape of trending and discovery responses
type feedPage struct {
	SnapshotID string      `json:"snapshot_id"`
	Items      interface{} `json:"items"`
	NextCursor *string     `json:"next_cursor"`
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	s.handleFeed(w, r, storage.KeyCurrentTrending, "trending_items",
		func(snapshotID string, offset, limit int) (interface{}, int, error) {
			items, err := s.store.GetTrendingPage(r.Context(), snapshotID, offset, limit)
			if items == nil {
				items = []*storage.TrendingItem{}
			}
			return items, len(items), err
		})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.handleFeed(w, r, storage.KeyCurrentDiscovery, "discovery_items",
		func(snapshotID string, offset, limit int) (interface{}, int, error) {
			items, err := s.store.GetDiscoveryPage(r.Context(), snapshotID, offset, limit)
			if items == nil {
				items = []*storage.DiscoveryItem{}
			}
			return items, len(items), err
		})
}

// handleFeed pages through whichever snapshot the current pointer names.
// The pointer is resolved per request, so a publish between two pages
// moves the reader to the new snapshot, never to a partial one.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, pointerKey, itemsTable string,
	fetch func(snapshotID string, offset, limit int) (interface{}, int, error)) {

	offset, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))

	snapshotID, err := s.store.GetState(r.Context(), pointerKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve current snapshot")
		return
	}
	if snapshotID == "" {
		writeJSON(w, http.StatusOK, feedPage{Items: []struct{}{}, NextCursor: nil})
		return
	}

	cacheKey := fmt.Sprintf("feed:%s:%d:%d", snapshotID, offset, limit)
	if cached, ok := s.cache.Get(r.Context(), cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	items, fetched, err := fetch(snapshotID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		return
	}

	var nextCursor *string
	if fetched == limit {
		total, err := s.store.CountSnapshotItems(r.Context(), itemsTable, snapshotID)
		if err == nil && offset+limit < total {
			cursor := encodeCursor(offset + limit)
			nextCursor = &cursor
		}
	}

	page := feedPage{SnapshotID: snapshotID, Items: items, NextCursor: nextCursor}
	body, err := json.Marshal(envelope{Success: true, Data: page})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode page")
		return
	}

	s.cache.Set(r.Context(), cacheKey, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// engagementRequest is the batch counts lookup payload
type engagementRequest struct {
	EventIDs []string `json:"event_ids"`
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids is required")
		return
	}
	if len(req.EventIDs) > maxEngagementBatch {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("event_ids is capped at %d ids", maxEngagementBatch))
		return
	}

	counts, err := s.store.GetEngagementCounts(r.Context(), req.EventIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load engagement counts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p >= 0 {
			page = p
		}
	}
	perPage := parseLimit(r.URL.Query().Get("per_page"))

	profiles, total, err := s.store.SearchProfiles(r.Context(), query, page, perPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":    profiles,
		"total_count": total,
		"page":        page,
		"per_page":    perPage,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.CountProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	relationships, err := s.store.CountRelationships(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	lastIndexed, _ := s.store.GetWatermark(r.Context(), storage.KeyLastIndexed)

	stats := map[string]interface{}{
		"total_profiles":      profiles,
		"total_relationships": relationships,
		"last_indexed":        lastIndexed,
	}

	if raw, err := s.store.GetState(r.Context(), storage.KeyLastRunStats); err == nil && raw != "" {
		var runStats json.RawMessage = []byte(raw)
		stats["last_run"] = runStats
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")

	profile, err := s.store.GetProfile(r.Context(), pubkey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.handleGraphList(w, r, s.store.GetFollowing)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.handleGraphList(w, r, s.store.GetFollowers)
}

// handleGraphList serves one direction of the follow graph for a pubkey.
// An unknown pubkey is an empty list, not an error.
func (s *Server) handleGraphList(w http.ResponseWriter, r *http.Request,
	fetch func(ctx context.Context, pubkey string, limit int) ([]*storage.Relationship, error)) {

	pubkey := r.PathValue("pubkey")
	limit := parseGraphLimit(r.URL.Query().Get("limit"))

	rels, err := fetch(r.Context(), pubkey, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load relationships")
		return
	}
	if rels == nil {
		rels = []*storage.Relationship{}
	}
	writeJSON(w, http.StatusOK, rels)
}

func (s *Server) handleProfileStats(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")

	stats, err := s.store.GetRelationshipStats(r.Context(), pubkey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load relationship stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseGraphLimit(raw string) int {
	limit := defaultGraphLimit
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxGraphLimit {
		limit = maxGraphLimit
	}
	return limit
}

func parseLimit(raw string) int {
	limit := defaultPageSize
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}
