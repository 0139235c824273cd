package atomicbuilder

import (
	"context"
	"testing"

	"github.com/jocades/kvdex/pkg/collection"
	"github.com/jocades/kvdex/pkg/kvstore/memstore"
)

type account struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance,omitempty"`
}

type ledgerEntry struct {
	Account string `json:"account"`
	Note    string `json:"note,omitempty"`
}

func newAccounts(store *memstore.Store) *collection.Collection[account] {
	return collection.New(store, "accounts", collection.Options[account]{
		Kind:    collection.KindIndexable,
		Indices: map[string]collection.IndexKind{"owner": collection.IndexPrimary},
	})
}

func newLedger(store *memstore.Store) *collection.Collection[ledgerEntry] {
	return collection.New(store, "ledger", collection.Options[ledgerEntry]{
		Kind:    collection.KindIndexable,
		Indices: map[string]collection.IndexKind{"account": collection.IndexSecondary},
	})
}

func TestBuilderAddAcrossTwoCollections(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accounts := newAccounts(store)
	ledger := newLedger(store)

	b := New(store, accounts)
	b, accID, err := b.Add(account{Owner: "ana", Balance: 100})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	b, _, err = b.Select(ledger).Add(ledgerEntry{Account: accID, Note: "opening balance"})
	if err != nil {
		t.Fatalf("add ledger entry: %v", err)
	}

	res, err := b.Commit(ctx)
	if err != nil || !res.OK {
		t.Fatalf("commit: res=%v err=%v", res, err)
	}

	doc, err := accounts.FindByPrimaryIndex(ctx, "owner", "ana")
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if doc.Value.Balance != 100 {
		t.Fatalf("got %+v", doc.Value)
	}

	entries, err := ledger.FindBySecondaryIndex(ctx, "account", accID, collection.ListOptions[ledgerEntry]{})
	if err != nil {
		t.Fatalf("find ledger entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestBuilderRejectsOverlappingAddAndDelete(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accounts := newAccounts(store)

	doc, _, err := accounts.Add(ctx, account{Owner: "beto"})
	if err != nil {
		t.Fatal(err)
	}

	b := New(store, accounts)
	b, _, err = b.Add(account{Owner: "caio"})
	if err != nil {
		t.Fatal(err)
	}
	b = b.Select(accounts).Delete(doc.ID)

	res, err := b.Commit(ctx)
	if err != nil {
		t.Fatalf("commit errored: %v", err)
	}
	if res.OK {
		t.Fatalf("expected overlap invariant to reject the commit")
	}
}

func TestBuilderDeleteCleansUpIndexEntries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accounts := newAccounts(store)

	doc, _, err := accounts.Add(ctx, account{Owner: "dara"})
	if err != nil {
		t.Fatal(err)
	}

	b := New(store, accounts).Delete(doc.ID)
	res, err := b.Commit(ctx)
	if err != nil || !res.OK {
		t.Fatalf("commit: res=%v err=%v", res, err)
	}

	if _, err := accounts.FindByPrimaryIndex(ctx, "owner", "dara"); err == nil {
		t.Fatalf("expected deleted account's primary index entry to be gone")
	}
}

func TestBuilderCheckRejectsStaleVersionstamp(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accounts := newAccounts(store)

	doc, _, err := accounts.Add(ctx, account{Owner: "eve"})
	if err != nil {
		t.Fatal(err)
	}

	b := New(store, accounts).Check(doc.ID, "stale-versionstamp")
	res, err := b.Commit(ctx)
	if err != nil {
		t.Fatalf("commit errored: %v", err)
	}
	if res.OK {
		t.Fatalf("expected rejection on stale versionstamp")
	}
}

func TestBuilderSumAccumulatesAcrossCommits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	counters := collection.New(store, "counters", collection.Options[int64]{})

	if _, err := store.Atomic().SetCounter(counters.IDKey("views"), 10).Commit(ctx); err != nil {
		t.Fatal(err)
	}

	b := New(store, counters).Sum("views", 5)
	if res, err := b.Commit(ctx); err != nil || !res.OK {
		t.Fatalf("commit: res=%v err=%v", res, err)
	}

	b2 := New(store, counters).Sum("views", -2)
	res, err := b2.Commit(ctx)
	if err != nil || !res.OK {
		t.Fatalf("second sum commit: res=%v err=%v", res, err)
	}

	e, err := store.Get(ctx, counters.IDKey("views"))
	if err != nil {
		t.Fatal(err)
	}
	v, ok := e.Counter()
	if !ok || v != 13 {
		t.Fatalf("expected counter 13, got %v ok=%v", v, ok)
	}
}
