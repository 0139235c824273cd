package kvstore_test

import (
	"context"
	"testing"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/kvstore/memstore"
)

func mutationsFor(root keys.Key, n int) []kvstore.Mutation {
	out := make([]kvstore.Mutation, n)
	for i := range out {
		out[i] = kvstore.Mutation{
			Key:   root.Extend(keys.Int(int64(i))),
			Kind:  kvstore.MutationSet,
			Value: []byte{byte(i)},
		}
	}
	return out
}

func TestUseAtomicsSplitsAcrossMultipleBatches(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	root := keys.New(keys.String("segments"))

	committed, res, err := kvstore.UseAtomics(ctx, s, 3, mutationsFor(root, 7))
	if err != nil || !res.OK {
		t.Fatalf("use atomics: res=%v err=%v", res, err)
	}
	if committed != 7 {
		t.Fatalf("expected all 7 mutations committed, got %d", committed)
	}

	iter, err := s.List(ctx, keys.PrefixSelector(root), kvstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	var count int
	for iter.Next() {
		count++
	}
	if count != 7 {
		t.Fatalf("expected 7 stored entries, got %d", count)
	}
}

func TestUseAtomicsStopsAtFirstFailedBatch(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	root := keys.New(keys.String("segments"))

	// A Sum mutation against a key holding plain bytes (not a counter)
	// fails the whole commit at runtime (store.go's AtomicBatch.Sum
	// doc), which is what forces the second batch below to reject.
	notACounter := root.Extend(keys.Int(4))
	if _, err := s.Atomic().Set(notACounter, []byte("not a counter")).Commit(ctx); err != nil {
		t.Fatal(err)
	}

	mutations := mutationsFor(root, 7)
	mutations[4] = kvstore.Mutation{Key: notACounter, Kind: kvstore.MutationSum, Delta: 1}

	committed, res, err := kvstore.UseAtomics(ctx, s, 3, mutations)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatalf("expected the batch touching a non-counter key to be rejected")
	}
	if committed != 3 {
		t.Fatalf("expected only the first fully-committed batch (3) to count, got %d", committed)
	}

	iter, err := s.List(ctx, keys.PrefixSelector(root), kvstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	var count int
	for iter.Next() {
		count++
	}
	if count != 4 {
		t.Fatalf("expected 3 mutated entries plus the pre-seeded key, got %d", count)
	}
}

func TestUseAtomicsEmptyMutationsIsANoOp(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	committed, res, err := kvstore.UseAtomics(ctx, s, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if committed != 0 || !res.OK {
		t.Fatalf("expected a no-op success, got committed=%d res=%v", committed, res)
	}
}
