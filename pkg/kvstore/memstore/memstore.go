// Package memstore is an in-memory Store used by package tests that
// don't need to exercise the on-disk path. It implements the exact
// same commit semantics as pebblestore (single commit mutex,
// versionstamp-per-commit, Check/Set/Delete/Sum) over a plain sorted
// slice instead of an LSM tree, so collection-level tests run fast
// and without a temp directory. There is no third-party ordered-map
// dependency here: sort.Search over a slice is the whole job for a
// test double, and reaching for one of the pack's tree libraries
// would only add an unexercised dependency.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
)

type record struct {
	key     []byte
	keyObj  keys.Key
	value   []byte
	kind    kvstore.ValueKind
	version uint64
}

// Store is an in-memory kvstore.Store.
type Store struct {
	mu      sync.Mutex
	records []*record // sorted by key
	seq     uint64
	closed  bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) find(enc []byte) (int, bool) {
	i := sort.Search(len(s.records), func(i int) bool {
		return string(s.records[i].key) >= string(enc)
	})
	if i < len(s.records) && string(s.records[i].key) == string(enc) {
		return i, true
	}
	return i, false
}

func (s *Store) versionstamp(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

func (s *Store) Get(ctx context.Context, key keys.Key) (kvstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.Entry{}, kvdexerr.ErrClosed
	}
	enc := keys.Encode(key)
	i, ok := s.find(enc)
	if !ok {
		return kvstore.Entry{Key: key}, nil
	}
	r := s.records[i]
	return kvstore.Entry{
		Key:          key,
		Value:        append([]byte(nil), r.value...),
		Kind:         r.kind,
		Versionstamp: s.versionstamp(r.version),
	}, nil
}

func (s *Store) GetMany(ctx context.Context, ks []keys.Key) ([]kvstore.Entry, error) {
	out := make([]kvstore.Entry, len(ks))
	for i, k := range ks {
		e, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key keys.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := keys.Encode(key)
	if i, ok := s.find(enc); ok {
		s.records = append(s.records[:i], s.records[i+1:]...)
	}
	return nil
}

func (s *Store) List(ctx context.Context, sel keys.Selector, opts kvstore.ListOptions) (kvstore.Iterator, error) {
	s.mu.Lock()
	lower, upper := sel.Bounds()
	var matched []*record
	for _, r := range s.records {
		if string(r.key) < string(lower) {
			continue
		}
		if upper != nil && string(r.key) >= string(upper) {
			break
		}
		matched = append(matched, r)
	}
	s.mu.Unlock()

	if opts.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return &memIterator{store: s, records: matched, idx: -1}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Atomic() kvstore.AtomicBatch {
	return &batch{store: s}
}

type memIterator struct {
	store   *Store
	records []*record
	idx     int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.records)
}

func (it *memIterator) Entry() kvstore.Entry {
	r := it.records[it.idx]
	return kvstore.Entry{
		Key:          r.keyObj,
		Value:        append([]byte(nil), r.value...),
		Kind:         r.kind,
		Versionstamp: it.store.versionstamp(r.version),
	}
}

func (it *memIterator) Err() error   { return nil }
func (it *memIterator) Close() error { return nil }
