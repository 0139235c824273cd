// Package janitor implements the background convergence half of the
// stale-index-entry design (spec.md §4.8, resolving Design Notes §9's
// open question): a cron-scheduled sweep over each indexable
// collection's pending-cleanup journal, replaying any index deletion
// left dangling by a crash between a document delete's commit and its
// best-effort cleanup. Scheduling follows the teacher's
// internal/retention manager shape (github.com/adhocore/gronx
// NextTickAfter polling loop); the read-time half of the fix
// (findByPrimaryIndex re-validation) lives in pkg/collection.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/logger"
	"github.com/jocades/kvdex/pkg/metrics"
)

// Sweeper is the minimal view of an indexable collection the janitor
// needs. pkg/collection's Collection[T] satisfies this structurally.
type Sweeper interface {
	Name() string
	JournalPrefix() keys.Key
	DecodeJournal(value []byte) (fields map[string]any, at int64, ok bool)
	PrimaryFields() []string
	SecondaryFields() []string
	PrimaryIndexKeyFor(field string, value any) (keys.Key, error)
	SecondaryIndexKeyFor(field string, value any, id string) (keys.Key, error)
}

func definedField(fields map[string]any, name string) (any, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Janitor periodically sweeps a fixed set of collections' journals.
type Janitor struct {
	store    kvstore.Store
	sweepers []Sweeper
	cron     string
	grace    time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
}

// Options configures a Janitor.
type Options struct {
	// Cron is a standard 5-field cron expression (github.com/adhocore/gronx
	// syntax); NextTickAfter drives the poll loop.
	Cron string
	// Grace is how old a journal entry must be before a sweep touches
	// it, so an entry from a delete whose cleanup atomic simply hasn't
	// run yet isn't mistaken for a crash.
	Grace time.Duration
	// RateLimit/Burst throttle how fast journal entries are processed,
	// so a large backlog can't monopolize store bandwidth.
	RateLimit float64
	Burst     int
	Metrics   *metrics.Metrics
}

// New builds a Janitor over sweepers, one per indexable collection to
// watch.
func New(store kvstore.Store, sweepers []Sweeper, opts Options) *Janitor {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	return &Janitor{
		store:    store,
		sweepers: sweepers,
		cron:     opts.Cron,
		grace:    opts.Grace,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		metrics:  opts.Metrics,
	}
}

// Run blocks, waking on each cron tick to sweep, until ctx is
// canceled. Grounded on the teacher's RetentionManager.scheduleLoop.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(j.cron, time.Now(), false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", j.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		wait := time.Until(next)
		select {
		case <-time.After(wait):
			j.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	for _, s := range j.sweepers {
		if err := j.Sweep(ctx, s); err != nil {
			logger.Error("janitor_sweep_failed", "collection", s.Name(), "error", err)
			if j.metrics != nil {
				j.metrics.JanitorErrorsTotal.Inc()
			}
		}
	}
}

// Sweep runs one pass over s's journal, replaying index deletions for
// every entry older than the configured grace period. Exported so
// callers can drive it directly (e.g. RunImmediate-style tests or
// operator tooling) without waiting on the cron schedule.
func (j *Janitor) Sweep(ctx context.Context, s Sweeper) error {
	sel := keys.PrefixSelector(s.JournalPrefix())
	iter, err := j.store.List(ctx, sel, kvstore.ListOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	now := time.Now().UnixNano()
	for iter.Next() {
		if err := j.limiter.Wait(ctx); err != nil {
			return err
		}
		entry := iter.Entry()
		fields, at, ok := s.DecodeJournal(entry.Value)
		if !ok {
			continue
		}
		if time.Duration(now-at) < j.grace {
			continue
		}

		id, _ := keys.Last(entry.Key).Value().(string)
		batch := j.store.Atomic().Delete(entry.Key)
		for _, field := range s.PrimaryFields() {
			if v, ok := definedField(fields, field); ok {
				if key, err := s.PrimaryIndexKeyFor(field, v); err == nil {
					batch = batch.Delete(key)
				}
			}
		}
		for _, field := range s.SecondaryFields() {
			if v, ok := definedField(fields, field); ok {
				if key, err := s.SecondaryIndexKeyFor(field, v, id); err == nil {
					batch = batch.Delete(key)
				}
			}
		}

		res, err := batch.Commit(ctx)
		if err != nil {
			return err
		}
		if res.OK && j.metrics != nil {
			j.metrics.JanitorSweptTotal.Inc()
		}
	}
	return iter.Err()
}
