package trending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/sandwichfarm/pulsr/internal/config"
	"github.com/sandwichfarm/pulsr/internal/ops"
	"github.com/sandwichfarm/pulsr/internal/storage"
)

// LockName is the advisory lock guarding aggregation runs. It is a
// separate lock from ingestion on purpose: scoring and publishing must
// never interleave destructively with a concurrent pass over the same
// snapshot keys.
const LockName = "trending"

// jobLockTTL bounds how long an abandoned aggregation run can block its
// successors.
const jobLockTTL = 10 * time.Minute

// JobResult summarizes one aggregation run
type JobResult struct {
	Skipped     bool
	Candidates  int
	TrendingID  string
	DiscoveryID string
	WindowStart int64
	WindowEnd   int64
}

// Job wires aggregator, scoring engine and publisher into one locked
// aggregation run over the trailing window.
type Job struct {
	store      *storage.Storage
	aggregator *Aggregator
	engine     *Engine
	publisher  *Publisher
	window     time.Duration
	log        *ops.Logger
	now        func() time.Time
}

// NewJob creates an aggregation job from configuration
func NewJob(store *storage.Storage, cfg *config.Config, log *ops.Logger) *Job {
	return &Job{
		store:      store,
		aggregator: NewAggregator(store, cfg.Trending.CandidateCap, log),
		engine:     NewEngine(&cfg.Scoring),
		publisher:  NewPublisher(store, cfg.Trending.Retention(), log),
		window:     cfg.Trending.Window(),
		log:        log.WithComponent("trending"),
		now:        time.Now,
	}
}

// Run performs one aggregate→score→publish cycle. A run that finds the
// lock held returns Skipped=true with no error.
func (j *Job) Run(ctx context.Context) (*JobResult, error) {
	token := newJobToken()
	acquired, err := j.store.AcquireLock(ctx, LockName, token, jobLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		j.log.Info("aggregation skipped, lock held by another run")
		return &JobResult{Skipped: true}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := j.store.ReleaseLock(releaseCtx, LockName, token); err != nil {
			j.log.Error("failed to release trending lock", "error", err)
		}
	}()

	windowEnd := j.now()
	windowStart := windowEnd.Add(-j.window)

	candidates, counts, err := j.aggregator.Aggregate(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	items := j.engine.Score(candidates, counts, windowEnd)

	trendingID, discoveryID, err := j.publisher.Publish(ctx, windowStart, windowEnd, items)
	if err != nil {
		return nil, err
	}

	return &JobResult{
		Candidates:  len(candidates),
		TrendingID:  trendingID,
		DiscoveryID: discoveryID,
		WindowStart: windowStart.Unix(),
		WindowEnd:   windowEnd.Unix(),
	}, nil
}

func newJobToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "trending"
	}
	return hex.EncodeToString(b[:])
}
