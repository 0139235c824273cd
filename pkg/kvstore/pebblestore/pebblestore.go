// Package pebblestore is the reference on-disk implementation of
// kvstore.Store, backed by github.com/cockroachdb/pebble. Pebble has
// no public per-key CAS or versionstamp primitive, so this package
// synthesizes one: every stored value carries a 9-byte header (a kind
// byte and an 8-byte version) whose version comes from the Store's
// commit sequence, advanced under the commit mutex, and every
// commit runs inside a single mutex-guarded read-check-then-apply
// section so the Check/Set/Delete/Sum batch behaves as one
// serializable unit even though the underlying engine only offers
// atomic application of an already-decided write set (pebble.Batch).
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/logger"
)

// Options configures a Store's underlying pebble database.
type Options struct {
	// Path is the on-disk directory pebble will manage.
	Path string
	// DisableWAL trades durability for write throughput, matching
	// pebble.Options.DisableWAL. Off by default.
	DisableWAL bool
	// LargeValueLimit is the per-value byte size this store reports
	// through Store.LargeValueLimit. The store itself does not enforce
	// it, and pkg/collection does not read it: a Large collection
	// shards at its own Options.SegmentLimit. Zero uses a 64KiB default.
	LargeValueLimit int
	// MaxBatchOps is the per-commit write count this store reports
	// through Store.MaxBatchOps. Commit does not enforce it and does
	// not split batches. Zero uses a 10000 default.
	MaxBatchOps int
}

const defaultLargeValueLimit = 64 * 1024
const defaultMaxBatchOps = 10000

// value header: 1 kind byte + 8 big-endian version bytes, followed by
// the caller's payload.
const headerLen = 9

// Store is a pebble-backed kvstore.Store.
type Store struct {
	db       *pebble.DB
	opts     Options
	seq      uint64
	commitMu sync.Mutex
	closed   atomic.Bool
}

// Open creates or opens a pebble database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.LargeValueLimit == 0 {
		opts.LargeValueLimit = defaultLargeValueLimit
	}
	if opts.MaxBatchOps == 0 {
		opts.MaxBatchOps = defaultMaxBatchOps
	}
	db, err := pebble.Open(opts.Path, &pebble.Options{
		DisableWAL: opts.DisableWAL,
	})
	if err != nil {
		logger.Error("pebble_open_failed", "path", opts.Path, "error", err)
		return nil, fmt.Errorf("pebblestore: open %s: %w", opts.Path, err)
	}
	if opts.DisableWAL {
		logger.Warn("durability_disabled", "path", opts.Path)
	}
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) LargeValueLimit() int { return s.opts.LargeValueLimit }
func (s *Store) MaxBatchOps() int     { return s.opts.MaxBatchOps }

func writeOpt(sync bool) *pebble.WriteOptions {
	if sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func isNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

func encodeValue(kind kvstore.ValueKind, version uint64, payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	out[0] = byte(kind)
	for i := 0; i < 8; i++ {
		out[1+i] = byte(version >> (56 - 8*i))
	}
	copy(out[headerLen:], payload)
	return out
}

func decodeValue(raw []byte) (kind kvstore.ValueKind, version uint64, payload []byte, err error) {
	if len(raw) < headerLen {
		return 0, 0, nil, fmt.Errorf("pebblestore: truncated value header (%d bytes)", len(raw))
	}
	kind = kvstore.ValueKind(raw[0])
	for i := 0; i < 8; i++ {
		version = version<<8 | uint64(raw[1+i])
	}
	payload = raw[headerLen:]
	return kind, version, payload, nil
}

func versionstamp(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

func (s *Store) Get(ctx context.Context, key keys.Key) (kvstore.Entry, error) {
	if s.closed.Load() {
		return kvstore.Entry{}, kvdexerr.ErrClosed
	}
	raw, closer, err := s.db.Get(keys.Encode(key))
	if err != nil {
		if isNotFound(err) {
			return kvstore.Entry{Key: key}, nil
		}
		return kvstore.Entry{}, fmt.Errorf("pebblestore: get: %w", err)
	}
	defer closer.Close()
	kind, version, payload, derr := decodeValue(raw)
	if derr != nil {
		return kvstore.Entry{}, derr
	}
	return kvstore.Entry{
		Key:          key,
		Value:        append([]byte(nil), payload...),
		Kind:         kind,
		Versionstamp: versionstamp(version),
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
	if s.closed.Load() {
		return kvdexerr.ErrClosed
	}
	if err := s.db.Delete(keys.Encode(key), writeOpt(true)); err != nil {
		logger.Error("pebble_delete_failed", "error", err)
		return fmt.Errorf("pebblestore: delete: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, sel keys.Selector, opts kvstore.ListOptions) (kvstore.Iterator, error) {
	if s.closed.Load() {
		return nil, kvdexerr.ErrClosed
	}
	lower, upper := sel.Bounds()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: new iter: %w", err)
	}
	return &pebbleIterator{iter: iter, opts: opts, first: true}, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebblestore: close: %w", err)
	}
	return nil
}

func (s *Store) Atomic() kvstore.AtomicBatch {
	return &batch{store: s}
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	opts    kvstore.ListOptions
	first   bool
	count   int
	entry   kvstore.Entry
	err     error
}

func (it *pebbleIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.opts.Limit > 0 && it.count >= it.opts.Limit {
		return false
	}
	var ok bool
	if it.first {
		it.first = false
		if it.opts.Reverse {
			ok = it.iter.Last()
		} else {
			ok = it.iter.First()
		}
	} else {
		if it.opts.Reverse {
			ok = it.iter.Prev()
		} else {
			ok = it.iter.Next()
		}
	}
	if !ok {
		return false
	}
	k, err := keys.Decode(append([]byte(nil), it.iter.Key()...))
	if err != nil {
		it.err = err
		return false
	}
	kind, version, payload, err := decodeValue(it.iter.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.entry = kvstore.Entry{
		Key:          k,
		Value:        append([]byte(nil), payload...),
		Kind:         kind,
		Versionstamp: versionstamp(version),
	}
	it.count++
	return true
}

func (it *pebbleIterator) Entry() kvstore.Entry { return it.entry }
func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}
func (it *pebbleIterator) Close() error { return it.iter.Close() }
