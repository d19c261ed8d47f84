package indexer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/pulsr/internal/config"
	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

// LockName is the advisory lock guarding ingestion passes
const LockName = "ingest"

// SessionRunner opens one bounded subscription session against a relay
type SessionRunner interface {
	Session(ctx context.Context, url string, filters []nostr.Filter, maxEvents int, handle func(*nostr.Event)) (int, error)
}

// Classifier applies one event to storage
type Classifier interface {
	Classify(ctx context.Context, event *nostr.Event) error
}

// Options describe one ingestion pass
type Options struct {
	Relays      []string
	GlobalCap   int
	PerRelayCap int
	Budget      time.Duration
	RelayBudget time.Duration // per-relay backstop timer, defaults to Budget
	Concurrency int
	Kinds       string // profiles|contacts|posts|"" = all
	Since       int64  // explicit watermark override, 0 = resolve per relay
}

// OptionsFromConfig builds run options from configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Relays:      cfg.Relays.Seeds,
		GlobalCap:   cfg.Ingest.GlobalCap,
		PerRelayCap: cfg.Ingest.PerRelayCap,
		Budget:      cfg.Ingest.Budget(),
		Concurrency: cfg.Ingest.Concurrency,
		Kinds:       cfg.Ingest.Kinds,
	}
}

func (o *Options) applyDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.Budget <= 0 {
		o.Budget = 2 * time.Minute
	}
	if o.RelayBudget <= 0 || o.RelayBudget > o.Budget {
		o.RelayBudget = o.Budget
	}
	if o.GlobalCap <= 0 {
		o.GlobalCap = 5000
	}
	if o.PerRelayCap <= 0 || o.PerRelayCap > o.GlobalCap {
		o.PerRelayCap = o.GlobalCap
	}
}

// Result summarizes one ingestion pass
type Result struct {
	Skipped       bool           `json:"skipped"`
	RelaysTouched int            `json:"relays_touched"`
	EventsIndexed int            `json:"events_indexed"`
	LastIndexed   int64          `json:"last_indexed"`
	PerRelay      map[string]int `json:"per_relay,omitempty"`
}

// Coordinator performs bounded-concurrency ingestion passes over a set of
// relays, guarded by a TTL advisory lock and per-relay watermarks.
type Coordinator struct {
	store      *storage.Storage
	sessions   SessionRunner
	classifier Classifier
	marks      *WatermarkManager
	log        *ops.Logger
	now        func() time.Time
}

// NewCoordinator creates an ingestion coordinator
func NewCoordinator(store *storage.Storage, sessions SessionRunner, classifier Classifier, marks *WatermarkManager, log *ops.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		sessions:   sessions,
		classifier: classifier,
		marks:      marks,
		log:        log.WithComponent("coordinator"),
		now:        time.Now,
	}
}

// Run performs one ingestion pass. A pass that finds the lock held
// returns Skipped=true with no error and no writes. Budget exhaustion is
// a normal early stop, reported in the result, never an error.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()
	start := c.now()

	token := newLockToken()
	acquired, err := c.store.AcquireLock(ctx, LockName, token, opts.Budget)
	if err != nil {
		return nil, err
	}
	if !acquired {
		c.log.LogIngestPass(0, 0, 0, true)
		return &Result{Skipped: true}, nil
	}
	defer func() {
		// Release must happen even when the run context is already
		// cancelled or a relay session panicked through.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.store.ReleaseLock(releaseCtx, LockName, token); err != nil {
			c.log.Error("failed to release ingest lock", "error", err)
		}
	}()

	deadline := start.Add(opts.Budget)
	runCtx, cancelRun := context.WithDeadline(ctx, deadline)
	defer cancelRun()

	var remaining atomic.Int64
	remaining.Store(int64(opts.GlobalCap))

	result := &Result{PerRelay: make(map[string]int)}
	var mu sync.Mutex

	for i := 0; i < len(opts.Relays); i += opts.Concurrency {
		if remaining.Load() <= 0 {
			c.log.Info("global event cap reached, stopping early")
			break
		}
		if !c.now().Before(deadline) {
			c.log.Info("run budget elapsed, stopping early")
			break
		}

		end := i + opts.Concurrency
		if end > len(opts.Relays) {
			end = len(opts.Relays)
		}

		var wg sync.WaitGroup
		for _, url := range opts.Relays[i:end] {
			wg.Add(1)
			go func(url string) {
				defer wg.Done()
				count := c.runRelaySession(runCtx, url, opts, &remaining)
				mu.Lock()
				result.RelaysTouched++
				result.EventsIndexed += count
				result.PerRelay[url] = count
				mu.Unlock()
			}(url)
		}
		wg.Wait()
	}

	// Final writes go through even if the budget just expired.
	writeCtx := context.WithoutCancel(ctx)
	result.LastIndexed = c.now().Unix()

	if stats, err := json.Marshal(result); err == nil {
		if err := c.store.SetState(writeCtx, storage.KeyLastRunStats, string(stats)); err != nil {
			c.log.Warn("failed to record run stats", "error", err)
		}
	}
	if err := c.marks.AdvanceGlobal(writeCtx); err != nil {
		c.log.Warn("failed to advance global watermark", "error", err)
	}

	c.log.LogIngestPass(result.RelaysTouched, result.EventsIndexed, time.Since(start), false)
	return result, nil
}

// runRelaySession runs one relay's subscriptions and classifies its
// events. Transient failures count as zero events from this relay.
func (c *Coordinator) runRelaySession(ctx context.Context, url string, opts Options, remaining *atomic.Int64) int {
	since, err := c.marks.SinceForRelay(ctx, url, opts.Since)
	if err != nil {
		c.log.Warn("failed to resolve watermark", "relay", url, "error", err)
		return 0
	}

	limit := opts.PerRelayCap
	if rem := remaining.Load(); rem <= 0 {
		return 0
	} else if int64(limit) > rem {
		limit = int(rem)
	}

	filters := buildFilters(opts.Kinds, since, limit)

	sessionCtx, cancel := context.WithTimeout(ctx, opts.RelayBudget)
	defer cancel()

	indexed := 0
	start := time.Now()
	_, err = c.sessions.Session(sessionCtx, url, filters, limit, func(event *nostr.Event) {
		if remaining.Add(-1) < 0 {
			remaining.Add(1)
			return
		}
		// An upsert started before the deadline is allowed to finish.
		if cerr := c.classifier.Classify(context.WithoutCancel(ctx), event); cerr != nil {
			c.log.Debug("skipping unclassifiable event", "relay", url, "event", event.ID, "error", cerr)
			remaining.Add(1)
			return
		}
		indexed++
	})
	c.log.LogRelaySession(url, indexed, time.Since(start), err)

	if indexed > 0 {
		if err := c.marks.AdvanceRelay(context.WithoutCancel(ctx), url); err != nil {
			c.log.Warn("failed to advance relay watermark", "relay", url, "error", err)
		}
	}
	return indexed
}

// buildFilters produces one filter per enabled kind group, so each group
// becomes its own subscription request on the relay.
func buildFilters(kinds string, since int64, limit int) []nostr.Filter {
	var groups [][]int
	switch kinds {
	case "profiles":
		groups = [][]int{{KindProfile}}
	case "contacts":
		groups = [][]int{{KindContactList}}
	case "posts":
		groups = [][]int{{KindNote, KindRepost, KindReaction, KindZapReceipt}}
	default:
		groups = [][]int{
			{KindProfile},
			{KindContactList},
			{KindNote, KindRepost, KindReaction, KindZapReceipt},
		}
	}

	filters := make([]nostr.Filter, 0, len(groups))
	for _, group := range groups {
		filter := nostr.Filter{Kinds: group, Limit: limit}
		if since > 0 {
			ts := nostr.Timestamp(since)
			filter.Since = &ts
		}
		filters = append(filters, filter)
	}
	return filters
}

func newLockToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "pulsr"
	}
	return hex.EncodeToString(b[:])
}
