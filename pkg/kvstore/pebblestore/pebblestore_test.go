package pebblestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPebbleGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	k := keys.New(keys.String("docs"), keys.String("id"), keys.String("1"))

	res, err := s.Atomic().Set(k, []byte("hello")).Commit(ctx)
	if err != nil || !res.OK {
		t.Fatalf("commit: res=%v err=%v", res, err)
	}

	e, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(e.Value) != "hello" {
		t.Fatalf("got %q", e.Value)
	}
	if e.Versionstamp != res.Versionstamp {
		t.Fatalf("versionstamp mismatch: %q != %q", e.Versionstamp, res.Versionstamp)
	}
}

func TestPebbleCheckVersionstampCAS(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	k := keys.New(keys.String("docs"), keys.String("id"), keys.String("1"))

	res1, err := s.Atomic().Set(k, []byte("v1")).Commit(ctx)
	if err != nil || !res1.OK {
		t.Fatalf("commit: res=%v err=%v", res1, err)
	}

	res2, err := s.Atomic().Check(k, "deadbeef").Set(k, []byte("v2")).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res2.OK {
		t.Fatalf("expected rejection on stale versionstamp")
	}

	res3, err := s.Atomic().Check(k, res1.Versionstamp).Set(k, []byte("v2")).Commit(ctx)
	if err != nil || !res3.OK {
		t.Fatalf("expected acceptance: res=%v err=%v", res3, err)
	}
	e, _ := s.Get(ctx, k)
	if string(e.Value) != "v2" {
		t.Fatalf("got %q", e.Value)
	}
}

func TestPebbleSumRejectsNonCounter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	k := keys.New(keys.String("docs"), keys.String("id"), keys.String("1"))

	if _, err := s.Atomic().Set(k, []byte("plain bytes")).Commit(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := s.Atomic().Sum(k, 5).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatalf("expected sum against non-counter value to be rejected")
	}
}

func TestPebbleSumAccumulates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	k := keys.New(keys.String("counters"), keys.String("id"), keys.String("views"))

	if _, err := s.Atomic().SetCounter(k, 10).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Atomic().Sum(k, 5).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := s.Atomic().Sum(k, -2).Commit(ctx)
	if err != nil || !res.OK {
		t.Fatalf("sum: res=%v err=%v", res, err)
	}

	e, _ := s.Get(ctx, k)
	v, ok := e.Counter()
	if !ok || v != 13 {
		t.Fatalf("expected counter 13, got %v ok=%v", v, ok)
	}
}

func TestPebbleListPrefixOrderingAndReverse(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	root := keys.New(keys.String("docs"), keys.String("id"))
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Atomic().Set(root.Extend(keys.String(id)), []byte(id)).Commit(ctx); err != nil {
			t.Fatal(err)
		}
	}

	iter, err := s.List(ctx, keys.PrefixSelector(root), kvstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	var got []string
	for iter.Next() {
		got = append(got, string(iter.Entry().Value))
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected order: %v", got)
	}

	iter2, err := s.List(ctx, keys.PrefixSelector(root), kvstore.ListOptions{Reverse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer iter2.Close()
	var gotRev []string
	for iter2.Next() {
		gotRev = append(gotRev, string(iter2.Entry().Value))
	}
	if len(gotRev) != 3 || gotRev[0] != "c" || gotRev[2] != "a" {
		t.Fatalf("unexpected reverse order: %v", gotRev)
	}
}

func TestPebbleReopenPersistsData(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	k := keys.New(keys.String("docs"), keys.String("id"), keys.String("1"))

	s1, err := Open(Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Atomic().Set(k, []byte("persisted")).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	e, err := s2.Get(ctx, k)
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Value) != "persisted" {
		t.Fatalf("got %q", e.Value)
	}
}

func TestPebbleClosedStoreRejectsOps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.Close()
	if _, err := s.Get(ctx, keys.New(keys.String("x"))); err == nil {
		t.Fatalf("expected error on closed store")
	}
}
