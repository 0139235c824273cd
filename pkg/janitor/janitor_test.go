package janitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jocades/kvdex/pkg/collection"
	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/kvstore/memstore"
)

type widget struct {
	Owner string `json:"owner"`
	SKU   string `json:"sku,omitempty"`
}

func newWidgets(store *memstore.Store) *collection.Collection[widget] {
	return collection.New(store, "widgets", collection.Options[widget]{
		Kind: collection.KindIndexable,
		Indices: map[string]collection.IndexKind{
			"owner": collection.IndexPrimary,
			"sku":   collection.IndexSecondary,
		},
	})
}

// simulateCrashedDelete writes the journal entry and removes the id-key,
// exactly what a delete's first atomic commit does, but skips the
// best-effort cleanup entirely, leaving the index keys dangling the way
// a crash between the two commits would.
func simulateCrashedDelete(t *testing.T, ctx context.Context, store *memstore.Store, w *collection.Collection[widget], id string, fields map[string]any, age time.Duration) {
	t.Helper()
	raw, err := json.Marshal(struct {
		Fields map[string]any `json:"fields"`
		At     int64          `json:"at"`
	}{Fields: fields, At: time.Now().Add(-age).UnixNano()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Atomic().Delete(w.IDKey(id)).Set(w.JournalKey(id), raw).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweepConvergesDanglingJournalEntry(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	widgets := newWidgets(store)

	doc, _, err := widgets.Add(ctx, widget{Owner: "ana", SKU: "sku-1"})
	if err != nil {
		t.Fatal(err)
	}

	simulateCrashedDelete(t, ctx, store, widgets, doc.ID,
		map[string]any{"owner": "ana", "sku": "sku-1"}, time.Hour)

	// Before the sweep: stale index entries linger.
	if _, err := widgets.FindByPrimaryIndex(ctx, "owner", "ana"); err == nil {
		t.Fatalf("expected stale primary index read to fail re-validation before sweep")
	}

	j := New(store, []Sweeper{widgets}, Options{Cron: "* * * * *", Grace: time.Minute})
	if err := j.Sweep(ctx, widgets); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	entries, err := widgets.FindBySecondaryIndex(ctx, "sku", "sku-1", collection.ListOptions[widget]{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected secondary index entry swept away, got %v", entries)
	}

	iter, err := store.List(ctx, keys.PrefixSelector(widgets.JournalPrefix()), kvstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()
	if iter.Next() {
		t.Fatalf("expected no journal entries left after sweep")
	}
}

func TestSweepSkipsEntriesYoungerThanGrace(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	widgets := newWidgets(store)

	doc, _, err := widgets.Add(ctx, widget{Owner: "beto", SKU: "sku-2"})
	if err != nil {
		t.Fatal(err)
	}

	simulateCrashedDelete(t, ctx, store, widgets, doc.ID,
		map[string]any{"owner": "beto", "sku": "sku-2"}, time.Second)

	j := New(store, []Sweeper{widgets}, Options{Cron: "* * * * *", Grace: time.Hour})
	if err := j.Sweep(ctx, widgets); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	entries, err := widgets.FindBySecondaryIndex(ctx, "sku", "sku-2", collection.ListOptions[widget]{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the too-young journal entry to survive this sweep, got %v", entries)
	}
}
