package collection

import (
	"context"
	"strings"
	"testing"

	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore/memstore"
)

type user struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Team  string `json:"team,omitempty"`
}

// product exercises model.Normalizer/model.Validator end to end
// through EncodePayload.
type product struct {
	SKU   string `json:"sku"`
	Price int    `json:"price"`
}

func (p *product) Normalize() error {
	if p.SKU == "" {
		p.SKU = "unassigned"
	}
	return nil
}

func (p *product) Validate() error {
	if p.Price < 0 {
		return errNegativePrice
	}
	return nil
}

type priceErr string

func (e priceErr) Error() string { return string(e) }

var errNegativePrice = priceErr("product: price cannot be negative")

func newUsers(t *testing.T) *Collection[user] {
	t.Helper()
	return New(memstore.New(), "users", Options[user]{
		Kind: KindIndexable,
		Indices: map[string]IndexKind{
			"email": IndexPrimary,
			"team":  IndexSecondary,
		},
	})
}

func TestPlainAddFindDelete(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "plain", Options[user]{})

	doc, ok, err := c.Add(ctx, user{Name: "ana"})
	if err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}

	got, err := c.Find(ctx, doc.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Value.Name != "ana" {
		t.Fatalf("got %+v", got.Value)
	}

	if err := c.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Find(ctx, doc.ID); err != kvdexerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexableFindByPrimaryIndex(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	doc, ok, err := c.Add(ctx, user{Name: "ana", Email: "ana@example.com", Team: "core"})
	if err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}

	found, err := c.FindByPrimaryIndex(ctx, "email", "ana@example.com")
	if err != nil {
		t.Fatalf("find by primary index: %v", err)
	}
	if found.ID != doc.ID {
		t.Fatalf("id mismatch: %s != %s", found.ID, doc.ID)
	}
}

func TestIndexablePrimaryIndexRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	if _, ok, err := c.Add(ctx, user{Name: "ana", Email: "dup@example.com"}); err != nil || !ok {
		t.Fatalf("first add: ok=%v err=%v", ok, err)
	}
	_, ok, err := c.Add(ctx, user{Name: "beto", Email: "dup@example.com"})
	if err != nil {
		t.Fatalf("second add errored unexpectedly: %v", err)
	}
	if ok {
		t.Fatalf("expected second add with duplicate primary index to fail")
	}
}

func TestIndexableSecondaryIndexIsNonUnique(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	c.Add(ctx, user{Name: "ana", Email: "ana@example.com", Team: "core"})
	c.Add(ctx, user{Name: "beto", Email: "beto@example.com", Team: "core"})
	c.Add(ctx, user{Name: "caio", Email: "caio@example.com", Team: "infra"})

	docs, err := c.FindBySecondaryIndex(ctx, "team", "core", ListOptions[user]{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs on team core, got %d", len(docs))
	}
}

func TestIndexableSparseIndexSkipsUndefinedField(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	// No Team set: the secondary index entry should simply not exist.
	doc, ok, err := c.Add(ctx, user{Name: "ana", Email: "ana@example.com"})
	if err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}

	docs, err := c.FindBySecondaryIndex(ctx, "team", "", ListOptions[user]{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	for _, d := range docs {
		if d.ID == doc.ID {
			t.Fatalf("expected no secondary index entry for undefined field")
		}
	}
}

func TestIndexableDeleteCleansUpIndexEntries(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	doc, _, _ := c.Add(ctx, user{Name: "ana", Email: "ana@example.com", Team: "core"})

	if err := c.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := c.FindByPrimaryIndex(ctx, "email", "ana@example.com"); err != kvdexerr.ErrNotFound {
		t.Fatalf("expected stale primary index lookup to miss, got %v", err)
	}
	docs, err := c.FindBySecondaryIndex(ctx, "team", "core", ListOptions[user]{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected secondary index entry removed, got %v", docs)
	}
}

// P9 — a primary-index entry whose id-key was since overwritten with a
// different field value must not be returned by FindByPrimaryIndex.
func TestFindByPrimaryIndexRevalidatesStaleEntry(t *testing.T) {
	ctx := context.Background()
	c := newUsers(t)

	doc, _, _ := c.Add(ctx, user{Name: "ana", Email: "ana@example.com", Team: "core"})

	// Overwrite the id-key directly, bypassing index maintenance, to
	// simulate a crash between the main commit and cleanup leaving a
	// stale primary-index entry behind.
	changed := user{Name: "ana", Email: "new@example.com", Team: "core"}
	payload, _ := c.opts.Serialize(changed)
	c.store.Atomic().Set(c.IDKey(doc.ID), payload).Commit(ctx)

	if _, err := c.FindByPrimaryIndex(ctx, "email", "ana@example.com"); err != kvdexerr.ErrNotFound {
		t.Fatalf("expected stale index entry to read as not found, got %v", err)
	}

	found, err := c.FindByPrimaryIndex(ctx, "email", "new@example.com")
	if err == nil {
		t.Fatalf("new@example.com was never indexed via the index path, expected miss, got %+v", found)
	}
}

type blob struct {
	Data string `json:"data"`
}

func TestLargeCollectionChunksAndReassembles(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "blobs", Options[blob]{
		Kind:         KindLarge,
		SegmentLimit: 16,
	})

	big := strings.Repeat("x", 200)
	doc, ok, err := c.Add(ctx, blob{Data: big})
	if err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}

	got, err := c.Find(ctx, doc.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Value.Data != big {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got.Value.Data), len(big))
	}

	if err := c.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Find(ctx, doc.ID); err != kvdexerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound after large-document delete, got %v", err)
	}
}

func TestLargeCollectionSetOverwrite(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "blobs", Options[blob]{Kind: KindLarge, SegmentLimit: 8})

	doc, _, err := c.Add(ctx, blob{Data: strings.Repeat("a", 50)})
	if err != nil {
		t.Fatal(err)
	}

	newData := strings.Repeat("b", 10)
	_, ok, err := c.Set(ctx, doc.ID, blob{Data: newData}, SetOptions{Overwrite: true})
	if err != nil || !ok {
		t.Fatalf("overwrite set: ok=%v err=%v", ok, err)
	}

	got, err := c.Find(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Value.Data != newData {
		t.Fatalf("got %q", got.Value.Data)
	}
}

func TestUpdateMutatesInPlace(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "plain", Options[user]{})

	doc, _, _ := c.Add(ctx, user{Name: "ana"})
	_, ok, err := c.Update(ctx, doc.ID, func(u *user) error {
		u.Name = "ana updated"
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}

	got, _ := c.Find(ctx, doc.ID)
	if got.Value.Name != "ana updated" {
		t.Fatalf("got %q", got.Value.Name)
	}
}

func TestListOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "plain", Options[user]{})

	for _, name := range []string{"a", "b", "c"} {
		c.Add(ctx, user{Name: name})
	}

	docs, err := c.List(ctx, ListOptions[user]{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}

	count, err := c.Count(ctx, ListOptions[user]{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestAddNormalizesBeforePersisting(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "products", Options[product]{})

	doc, ok, err := c.Add(ctx, product{Price: 500})
	if err != nil || !ok {
		t.Fatalf("add: ok=%v err=%v", ok, err)
	}
	if doc.Value.SKU != "unassigned" {
		t.Fatalf("expected returned document to reflect normalization, got %+v", doc.Value)
	}

	got, err := c.Find(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Value.SKU != "unassigned" {
		t.Fatalf("expected stored document to reflect normalization, got %+v", got.Value)
	}
}

func TestAddRejectsValueFailingValidateAfterNormalize(t *testing.T) {
	ctx := context.Background()
	c := New(memstore.New(), "products", Options[product]{})

	_, _, err := c.Add(ctx, product{SKU: "sku-1", Price: -1})
	if err == nil {
		t.Fatalf("expected validation error for negative price")
	}
}
