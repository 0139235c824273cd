package collection

import (
	"context"
	"sync"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvstore"
)

// faultyStore wraps a kvstore.Store and fails exactly one specific
// commit (the failAt-th call to AtomicBatch.Commit across the whole
// store, 1-indexed), simulating a mid-write store failure without any
// change applied, per the Commit contract. Used to exercise
// writeSegmentsWithRetry's cleanup-then-retry path (spec.md §8
// scenario 6) deterministically instead of relying on real faults.
type faultyStore struct {
	kvstore.Store
	mu      sync.Mutex
	calls   int
	failAt  int
	tripped bool
}

func (s *faultyStore) Atomic() kvstore.AtomicBatch {
	return &faultyBatch{inner: s.Store.Atomic(), store: s}
}

// trippedOnce reports whether the injected failure has already fired.
func (s *faultyStore) trippedOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped
}

type faultyBatch struct {
	inner kvstore.AtomicBatch
	store *faultyStore
}

func (b *faultyBatch) Check(key keys.Key, vs string) kvstore.AtomicBatch {
	b.inner = b.inner.Check(key, vs)
	return b
}

func (b *faultyBatch) Set(key keys.Key, value []byte) kvstore.AtomicBatch {
	b.inner = b.inner.Set(key, value)
	return b
}

func (b *faultyBatch) SetCounter(key keys.Key, value int64) kvstore.AtomicBatch {
	b.inner = b.inner.SetCounter(key, value)
	return b
}

func (b *faultyBatch) Delete(key keys.Key) kvstore.AtomicBatch {
	b.inner = b.inner.Delete(key)
	return b
}

func (b *faultyBatch) Sum(key keys.Key, delta int64) kvstore.AtomicBatch {
	b.inner = b.inner.Sum(key, delta)
	return b
}

func (b *faultyBatch) Mutate(m kvstore.Mutation) kvstore.AtomicBatch {
	b.inner = b.inner.Mutate(m)
	return b
}

func (b *faultyBatch) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	b.store.mu.Lock()
	b.store.calls++
	n := b.store.calls
	if n == b.store.failAt {
		b.store.tripped = true
		b.store.mu.Unlock()
		return kvstore.CommitResult{OK: false}, nil
	}
	b.store.mu.Unlock()
	return b.inner.Commit(ctx)
}
