package memstore

import (
	"context"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
)

type check struct {
	key          []byte
	versionstamp string
}

type write struct {
	key    []byte
	keyObj keys.Key
	kind   kvstore.MutationKind
	value  []byte
	vkind  kvstore.ValueKind
	delta  int64
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
	b.writes = append(b.writes, write{
		key: keys.Encode(key), keyObj: key,
		kind: kvstore.MutationSet, value: value, vkind: kvstore.KindBytes,
	})
	return b
}

func (b *batch) SetCounter(key keys.Key, value int64) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{
		key: keys.Encode(key), keyObj: key,
		kind: kvstore.MutationSet, value: kvstore.EncodeCounter(value), vkind: kvstore.KindCounter,
	})
	return b
}

func (b *batch) Delete(key keys.Key) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{key: keys.Encode(key), keyObj: key, kind: kvstore.MutationDelete})
	return b
}

func (b *batch) Sum(key keys.Key, delta int64) kvstore.AtomicBatch {
	b.writes = append(b.writes, write{
		key: keys.Encode(key), keyObj: key,
		kind: kvstore.MutationSum, delta: delta,
	})
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

func (b *batch) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kvstore.CommitResult{}, kvdexerr.ErrClosed
	}

	for _, c := range b.checks {
		i, ok := s.find(c.key)
		if c.versionstamp == "" {
			if ok {
				return kvstore.CommitResult{OK: false}, nil
			}
			continue
		}
		if !ok || s.versionstamp(s.records[i].version) != c.versionstamp {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	// Runtime check: Sum must target an existing counter value.
	for _, w := range b.writes {
		if w.kind != kvstore.MutationSum {
			continue
		}
		i, ok := s.find(w.key)
		if !ok || s.records[i].kind != kvstore.KindCounter {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	s.seq++
	commitVersion := s.seq

	for _, w := range b.writes {
		switch w.kind {
		case kvstore.MutationDelete:
			if i, ok := s.find(w.key); ok {
				s.records = append(s.records[:i], s.records[i+1:]...)
			}
		case kvstore.MutationSet:
			s.upsert(w.key, w.keyObj, w.value, w.vkind, commitVersion)
		case kvstore.MutationSum:
			i, _ := s.find(w.key)
			cur := kvstore.DecodeCounter(s.records[i].value)
			s.records[i].value = kvstore.EncodeCounter(cur + w.delta)
			s.records[i].version = commitVersion
		}
	}

	return kvstore.CommitResult{OK: true, Versionstamp: s.versionstamp(commitVersion)}, nil
}

func (s *Store) upsert(enc []byte, k keys.Key, value []byte, kind kvstore.ValueKind, version uint64) {
	i, ok := s.find(enc)
	r := &record{key: enc, keyObj: k, value: append([]byte(nil), value...), kind: kind, version: version}
	if ok {
		s.records[i] = r
		return
	}
	s.records = append(s.records, nil)
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = r
}
