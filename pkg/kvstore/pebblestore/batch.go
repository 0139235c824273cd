package pebblestore

import (
	"context"
	"fmt"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
)

type check struct {
	key          []byte
	versionstamp string
}

type write struct {
	key   []byte
	kind  kvstore.MutationKind
	value []byte
	vkind kvstore.ValueKind
	delta int64
}

type batch struct {
	store  *Store
	checks []check
	writes []write
}

func (b *batch) Check(key keys.Key, versionstamp string) kvstore.AtomicBatch {
	b.checks = append(b.checks, check{key: keys.Encode(key), versionstamp: versionstamp})
	return b
}

func (b *batch) Set(key keys.Key, value []byte) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{key: keys.Encode(key), kind: kvstore.MutationSet, value: value, vkind: kvstore.KindBytes})
	return b
}

func (b *batch) SetCounter(key keys.Key, value int64) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{
		key: keys.Encode(key), kind: kvstore.MutationSet,
		value: kvstore.EncodeCounter(value), vkind: kvstore.KindCounter,
	})
	return b
}

func (b *batch) Delete(key keys.Key) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{key: keys.Encode(key), kind: kvstore.MutationDelete})
	return b
}

func (b *batch) Sum(key keys.Key, delta int64) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{key: keys.Encode(key), kind: kvstore.MutationSum, delta: delta})
	return b
}

func (b *batch) Mutate(m kvstore.Mutation) kvstore.AtomicBatch {
	switch m.Kind {
	case kvstore.MutationSet:
		return b.Set(m.Key, m.Value)
	case kvstore.MutationDelete:
		return b.Delete(m.Key)
	case kvstore.MutationSum:
		return b.Sum(m.Key, m.Delta)
	}
	return b
}

// Commit runs the whole check-then-apply sequence under the store's
// single commit mutex. Pebble gives us atomic application of an
// already-decided pebble.Batch but no read-modify-write primitive, so
// the mutex is what makes Check and Sum see a consistent snapshot of
// the keys this commit touches.
func (b *batch) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	s := b.store
	if s.closed.Load() {
		return kvstore.CommitResult{}, kvdexerr.ErrClosed
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for _, c := range b.checks {
		raw, closer, err := s.db.Get(c.key)
		if err != nil && !isNotFound(err) {
			return kvstore.CommitResult{}, fmt.Errorf("pebblestore: check get: %w", err)
		}
		exists := err == nil
		var curVersion uint64
		if exists {
			_, v, _, derr := decodeValue(raw)
			closer.Close()
			if derr != nil {
				return kvstore.CommitResult{}, derr
			}
			curVersion = v
		}
		if c.versionstamp == "" {
			if exists {
				return kvstore.CommitResult{OK: false}, nil
			}
			continue
		}
		if !exists || versionstamp(curVersion) != c.versionstamp {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	counterValues := make(map[string]int64, len(b.writes))
	for _, w := range b.writes {
		if w.kind != kvstore.MutationSum {
			continue
		}
		raw, closer, err := s.db.Get(w.key)
		if err != nil {
			if isNotFound(err) {
				return kvstore.CommitResult{OK: false}, nil
			}
			return kvstore.CommitResult{}, fmt.Errorf("pebblestore: sum get: %w", err)
		}
		kind, _, payload, derr := decodeValue(raw)
		closer.Close()
		if derr != nil {
			return kvstore.CommitResult{}, derr
		}
		if kind != kvstore.KindCounter {
			return kvstore.CommitResult{OK: false}, nil
		}
		counterValues[string(w.key)] = kvstore.DecodeCounter(payload)
	}

	commitVersion := s.nextVersion()
	pb := s.db.NewBatch()
	defer pb.Close()

	for _, w := range b.writes {
		switch w.kind {
		case kvstore.MutationDelete:
			if err := pb.Delete(w.key, nil); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("pebblestore: batch delete: %w", err)
			}
		case kvstore.MutationSet:
			if err := pb.Set(w.key, encodeValue(w.vkind, commitVersion, w.value), nil); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("pebblestore: batch set: %w", err)
			}
		case kvstore.MutationSum:
			newVal := counterValues[string(w.key)] + w.delta
			if err := pb.Set(w.key, encodeValue(kvstore.KindCounter, commitVersion, kvstore.EncodeCounter(newVal)), nil); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("pebblestore: batch sum: %w", err)
			}
		}
	}

	if err := s.db.Apply(pb, writeOpt(true)); err != nil {
		return kvstore.CommitResult{}, fmt.Errorf("pebblestore: apply: %w", err)
	}

	return kvstore.CommitResult{OK: true, Versionstamp: versionstamp(commitVersion)}, nil
}

func (s *Store) nextVersion() uint64 {
	s.seq++
	return s.seq
}
