// Package kvstore defines the Store Interface (spec.md §4.2): the
// minimal ordered key/value contract every collection is built on top
// of. A Store gives callers get/list/delete plus a single atomic
// commit primitive covering conditional writes (versionstamp checks),
// plain sets and deletes, and a 64-bit counter mutation. Two
// implementations live under this package: pebblestore (the on-disk
// reference engine, backed by cockroachdb/pebble) and memstore (an
// in-memory double used by fast unit tests).
package kvstore

import (
	"context"

	"github.com/jocades/kvdex/pkg/keys"
)

// ValueKind tags the physical type of a stored value: an opaque byte
// string (the common case, holding a document or index marker) or the
// store's native 64-bit counter, the only kind Sum can target.
type ValueKind uint8

const (
	KindBytes ValueKind = iota
	KindCounter
)

// Entry is a single key/value record as returned by Get, GetMany and
// List. Versionstamp is empty when the key has no value (Get) or is
// never empty for a key yielded by List/GetMany with a hit.
type Entry struct {
	Key          keys.Key
	Value        []byte
	Kind         ValueKind
	Versionstamp string
}

// Counter decodes the entry's value as a 64-bit counter. Ok is false
// if Kind is not KindCounter.
func (e Entry) Counter() (value int64, ok bool) {
	if e.Kind != KindCounter || len(e.Value) != 8 {
		return 0, false
	}
	return decodeCounter(e.Value), true
}

// ListOptions controls an enumeration over a Selector's range.
type ListOptions struct {
	// Limit caps the number of entries returned. Zero means
	// unbounded.
	Limit int
	// Reverse walks the range from End towards Start instead of the
	// natural ascending order.
	Reverse bool
}

// CommitResult reports the outcome of an atomic commit. A commit that
// fails a Check is not an error: OK is simply false and no mutation in
// the batch was applied.
type CommitResult struct {
	OK           bool
	Versionstamp string
}

// Store is the ordered key/value contract collections are built on.
// All operations are safe for concurrent use.
type Store interface {
	// Get fetches a single key. A missing key is not an error: the
	// returned Entry has a nil Value and empty Versionstamp.
	Get(ctx context.Context, key keys.Key) (Entry, error)

	// GetMany fetches multiple keys in one round trip. The result
	// has exactly len(keys) entries, in the same order; misses are
	// zero-value Entries carrying only the requested Key.
	GetMany(ctx context.Context, keys []keys.Key) ([]Entry, error)

	// List enumerates entries within a Selector's range in key order
	// (or reverse, per opts.Reverse).
	List(ctx context.Context, sel keys.Selector, opts ListOptions) (Iterator, error)

	// Delete removes a single key unconditionally. Deleting a
	// missing key is a no-op, not an error.
	Delete(ctx context.Context, key keys.Key) error

	// Atomic starts a new batch of commands accumulated against this
	// store. Nothing is applied until Commit is called.
	Atomic() AtomicBatch

	// Close releases the store's underlying resources.
	Close() error
}

// Iterator walks a List result. Callers must call Close when done,
// even after exhausting or erroring out of Next.
type Iterator interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// MutationKind tags a Mutate command's effect.
type MutationKind uint8

const (
	MutationSet MutationKind = iota
	MutationDelete
	MutationSum
)

// Mutation is a single unconditional write folded into a commit via
// AtomicBatch.Mutate, used by callers (notably AtomicBuilder) that
// build up a list of heterogeneous writes before committing them as
// one batch.
type Mutation struct {
	Key   keys.Key
	Kind  MutationKind
	Value []byte // used when Kind == MutationSet
	Delta int64  // used when Kind == MutationSum
}

// AtomicBatch accumulates checks and writes for one all-or-nothing
// commit. Every method returns the receiver so calls chain; nothing
// touches the store until Commit runs.
//
// Commit semantics: first every Check is evaluated against the
// store's current state. If any fails, the whole batch is rejected
// (CommitResult.OK == false) and no write in the batch is applied. If
// every check passes, every Set/Delete/Sum/Mutate is applied as one
// atomic unit and a fresh versionstamp is assigned to the commit.
type AtomicBatch interface {
	// Check requires key's current versionstamp to equal vs exactly.
	// An empty vs means "key must not currently exist".
	Check(key keys.Key, versionstamp string) AtomicBatch

	// Set writes value at key unconditionally (subject to the
	// batch's Checks).
	Set(key keys.Key, value []byte) AtomicBatch

	// SetCounter initializes or overwrites key with the store's
	// native 64-bit counter value, the only value type Sum can
	// target.
	SetCounter(key keys.Key, value int64) AtomicBatch

	// Delete removes key unconditionally (subject to the batch's
	// Checks).
	Delete(key keys.Key) AtomicBatch

	// Sum atomically adds delta to the 64-bit counter stored at key.
	// If key does not hold a counter value, the whole commit fails
	// (OK=false, no error): this is a runtime check, not a compile
	// or build-time one.
	Sum(key keys.Key, delta int64) AtomicBatch

	// Mutate folds a pre-built Mutation into the batch; used by
	// callers assembling a batch from a slice of commands rather
	// than chaining calls directly.
	Mutate(m Mutation) AtomicBatch

	// Commit applies the batch. A non-nil error means the commit
	// could not be attempted at all (e.g. the store is closed);
	// a failed Check is reported via CommitResult.OK, not an error.
	Commit(ctx context.Context) (CommitResult, error)
}

// UseAtomics commits mutations against store in successive batches of
// at most batchSize each, so a write set larger than a store's
// preferred commit size (spec.md §5, §6) doesn't have to go through
// one oversized atomic. It stops at the first batch that errors or is
// rejected (CommitResult.OK == false) and reports how many mutations
// were successfully committed before that point, so the caller can
// clean up or retry the remainder (pkg/collection's LargeCollection
// write path does exactly this). batchSize <= 0 means "one batch".
func UseAtomics(ctx context.Context, store Store, batchSize int, mutations []Mutation) (committed int, res CommitResult, err error) {
	if batchSize <= 0 {
		batchSize = len(mutations)
	}
	if len(mutations) == 0 {
		return 0, CommitResult{OK: true}, nil
	}
	for start := 0; start < len(mutations); start += batchSize {
		end := start + batchSize
		if end > len(mutations) {
			end = len(mutations)
		}
		batch := store.Atomic()
		for _, m := range mutations[start:end] {
			batch = batch.Mutate(m)
		}
		res, err = batch.Commit(ctx)
		if err != nil {
			return committed, res, err
		}
		if !res.OK {
			return committed, res, nil
		}
		committed = end
	}
	return committed, res, nil
}
