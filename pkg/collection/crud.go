package collection

import (
	"context"
	"fmt"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
)

// Find fetches a single document by id. A missing id returns
// kvdexerr.ErrNotFound.
func (c *Collection[T]) Find(ctx context.Context, id string) (Document[T], error) {
	if c.opts.Kind == KindLarge {
		return c.findLarge(ctx, id)
	}
	entry, err := c.store.Get(ctx, c.IDKey(id))
	if err != nil {
		return Document[T]{}, err
	}
	if entry.Value == nil {
		return Document[T]{}, kvdexerr.ErrNotFound
	}
	var v T
	if err := c.opts.Deserialize(entry.Value, &v); err != nil {
		return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, ID: id, Segments: 1, Err: err}
	}
	return Document[T]{ID: id, Value: v, Versionstamp: entry.Versionstamp}, nil
}

// FindMany fetches multiple documents by id, preserving order.
// Missing ids are simply absent from the result (unlike Find, which
// errors); callers that need to detect holes should compare lengths
// or ids.
func (c *Collection[T]) FindMany(ctx context.Context, ids []string) ([]Document[T], error) {
	out := make([]Document[T], 0, len(ids))
	for _, id := range ids {
		doc, err := c.Find(ctx, id)
		if err != nil {
			if err == kvdexerr.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// List enumerates documents under this collection's id namespace in
// key order, applying opts.Filter (if set) after each is decoded.
func (c *Collection[T]) List(ctx context.Context, opts ListOptions[T]) ([]Document[T], error) {
	if c.opts.Kind == KindLarge {
		return c.listLarge(ctx, opts)
	}

	base := c.root.Extend(keys.String(keys.SegID))
	sel := keys.PrefixSelector(base)
	if opts.StartID != "" {
		sel = sel.WithStart(base.Extend(keys.String(opts.StartID)))
	}
	if opts.EndID != "" {
		sel = sel.WithEnd(base.Extend(keys.String(opts.EndID)))
	}

	iter, err := c.store.List(ctx, sel, kvstore.ListOptions{Reverse: opts.Reverse})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Document[T]
	for iter.Next() {
		e := iter.Entry()
		id, ok := keys.TrailingID(e.Key)
		if !ok {
			continue
		}
		var v T
		if err := c.opts.Deserialize(e.Value, &v); err != nil {
			return nil, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, ID: fmt.Sprint(id.Value()), Segments: 1, Err: err}
		}
		doc := Document[T]{ID: fmt.Sprint(id.Value()), Value: v, Versionstamp: e.Versionstamp}
		if opts.Filter != nil && !opts.Filter(doc) {
			continue
		}
		out = append(out, doc)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of documents matching opts (Limit is
// respected the same way List respects it).
func (c *Collection[T]) Count(ctx context.Context, opts ListOptions[T]) (int, error) {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ForEach calls fn for every document matching opts, stopping early
// if fn returns false.
func (c *Collection[T]) ForEach(ctx context.Context, opts ListOptions[T], fn func(Document[T]) bool) error {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if !fn(d) {
			break
		}
	}
	return nil
}

// FindBySecondaryIndex lists every document whose field equals value,
// ordered by id ascending (spec.md §4.5). Only valid on KindIndexable
// collections with field declared secondary.
func (c *Collection[T]) FindBySecondaryIndex(ctx context.Context, field string, value any, opts ListOptions[T]) ([]Document[T], error) {
	base, err := c.SecondaryIndexKey(field, value, "")
	if err != nil {
		return nil, err
	}
	base = base[:len(base)-1] // drop the empty trailing docId part, keep as a prefix

	sel := keys.PrefixSelector(base)
	iter, err := c.store.List(ctx, sel, kvstore.ListOptions{Reverse: opts.Reverse, Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Document[T]
	for iter.Next() {
		e := iter.Entry()
		var v T
		if err := c.opts.Deserialize(e.Value, &v); err != nil {
			return nil, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, Segments: 1, Err: err}
		}
		docID := fmt.Sprint(keys.Last(e.Key).Value())
		doc := Document[T]{ID: docID, Value: v, Versionstamp: e.Versionstamp}
		if opts.Filter != nil && !opts.Filter(doc) {
			continue
		}
		out = append(out, doc)
	}
	return out, iter.Err()
}
