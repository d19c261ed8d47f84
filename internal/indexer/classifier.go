package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

// Event kinds the indexer understands
const (
	KindProfile     = 0
	KindNote        = 1
	KindContactList = 3
	KindDeletion    = 5
	KindRepost      = 6
	KindReaction    = 7
	KindZapReceipt  = 9735
)

// EventClassifier dispatches incoming events on kind: kind 0 becomes a
// profile row, kind 3 becomes relationship rows, kind 5 removes the
// referenced events, everything else lands in the raw event store.
type EventClassifier struct {
	store *storage.Storage
	log   *ops.Logger
	now   func() time.Time
}

// NewEventClassifier creates an event classifier
func NewEventClassifier(store *storage.Storage, log *ops.Logger) *EventClassifier {
	return &EventClassifier{
		store: store,
		log:   log.WithComponent("classifier"),
		now:   time.Now,
	}
}

// Classify routes one event to the right upsert. Errors mean this single
// event could not be applied; callers skip it and continue the batch.
func (c *EventClassifier) Classify(ctx context.Context, event *nostr.Event) error {
	switch event.Kind {
	case KindProfile:
		return c.classifyProfile(ctx, event)
	case KindContactList:
		return c.classifyContactList(ctx, event)
	case KindDeletion:
		return c.classifyDeletion(ctx, event)
	default:
		return c.store.StoreEvent(ctx, event)
	}
}

// classifyProfile maps a kind-0 event onto the profiles table. Content
// that fails to parse as JSON is treated as an empty object, so a broken
// profile still claims its pubkey row.
func (c *EventClassifier) classifyProfile(ctx context.Context, event *nostr.Event) error {
	content := event.Content
	if !gjson.Valid(content) {
		c.log.Debug("profile content is not valid JSON, using empty object", "pubkey", event.PubKey)
		content = "{}"
	}

	profile := &storage.Profile{
		Pubkey:      event.PubKey,
		Name:        gjson.Get(content, "name").String(),
		DisplayName: gjson.Get(content, "display_name").String(),
		About:       gjson.Get(content, "about").String(),
		Picture:     gjson.Get(content, "picture").String(),
		Banner:      gjson.Get(content, "banner").String(),
		Website:     gjson.Get(content, "website").String(),
		Lud16:       gjson.Get(content, "lud16").String(),
		Nip05:       gjson.Get(content, "nip05").String(),
		CreatedAt:   int64(event.CreatedAt),
		IndexedAt:   c.now().Unix(),
	}

	if err := c.store.UpsertProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to index profile for %s: %w", event.PubKey, err)
	}
	return nil
}

// classifyContactList upserts one relationship row per p tag of a kind-3
// event.
func (c *EventClassifier) classifyContactList(ctx context.Context, event *nostr.Event) error {
	indexedAt := c.now().Unix()
	count := 0

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "p" || tag[1] == "" {
			continue
		}

		rel := &storage.Relationship{
			FollowerPubkey:  event.PubKey,
			FollowingPubkey: tag[1],
			CreatedAt:       int64(event.CreatedAt),
			IndexedAt:       indexedAt,
		}
		if len(tag) > 2 {
			rel.Relay = tag[2]
		}
		if len(tag) > 3 {
			rel.Petname = tag[3]
		}

		if err := c.store.UpsertRelationship(ctx, rel); err != nil {
			return fmt.Errorf("failed to index contact for %s: %w", event.PubKey, err)
		}
		count++
	}

	c.log.Debug("indexed contact list", "pubkey", event.PubKey, "contacts", count)
	return nil
}

// classifyDeletion removes the events a kind-5 deletion references
func (c *EventClassifier) classifyDeletion(ctx context.Context, event *nostr.Event) error {
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		if err := c.store.DeleteEventByID(ctx, tag[1]); err != nil {
			return fmt.Errorf("failed to apply deletion: %w", err)
		}
	}
	return nil
}
