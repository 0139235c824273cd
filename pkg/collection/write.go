package collection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/metrics"
)

// addIndexFragments folds the primary/secondary index writes implied
// by value's fields into batch, for an indexable collection (spec.md
// §4.5, "Write path"). Fields absent or null are skipped (sparse
// indexes).
func (c *Collection[T]) addIndexFragments(batch kvstore.AtomicBatch, id string, fields map[string]any) (kvstore.AtomicBatch, error) {
	for _, field := range c.primaryFields {
		v, ok := definedField(fields, field)
		if !ok {
			continue
		}
		key, err := c.PrimaryIndexKey(field, v)
		if err != nil {
			return nil, err
		}
		raw, err := jsonMarshalFields(fields, id)
		if err != nil {
			return nil, err
		}
		batch = batch.Check(key, "").Set(key, raw)
	}
	for _, field := range c.secondaryFields {
		v, ok := definedField(fields, field)
		if !ok {
			continue
		}
		key, err := c.SecondaryIndexKey(field, v, id)
		if err != nil {
			return nil, err
		}
		raw, err := jsonMarshalFields(fields, "")
		if err != nil {
			return nil, err
		}
		batch = batch.Check(key, "").Set(key, raw)
	}
	return batch, nil
}

// Add allocates a new id and writes value, rejecting the commit if
// the allocated id somehow already exists (spec.md §4.4).
func (c *Collection[T]) Add(ctx context.Context, value T) (Document[T], bool, error) {
	id := c.opts.IDGenerator(value)
	doc, ok, err := c.setAt(ctx, id, value, SetOptions{Overwrite: false})
	return doc, ok, err
}

// Set writes value at id. With opts.Overwrite == false it behaves
// like Add against a caller-chosen id; with true, any prior entry
// (and its indexes/segments) is deleted first.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts SetOptions) (Document[T], bool, error) {
	if opts.Overwrite {
		if err := c.Delete(ctx, id); err != nil {
			return Document[T]{}, false, err
		}
	}
	return c.setAt(ctx, id, value, opts)
}

func (c *Collection[T]) setAt(ctx context.Context, id string, value T, opts SetOptions) (Document[T], bool, error) {
	if c.opts.Kind == KindLarge {
		return c.setLarge(ctx, id, value, opts)
	}

	payload, fields, err := c.EncodePayload(value)
	if err != nil {
		return Document[T]{}, false, err
	}

	batch := c.store.Atomic().Check(c.IDKey(id), "").Set(c.IDKey(id), payload)
	if c.opts.Kind == KindIndexable {
		batch, err = c.addIndexFragments(batch, id, fields)
		if err != nil {
			return Document[T]{}, false, err
		}
	}

	res, err := batch.Commit(ctx)
	if c.opts.Metrics != nil {
		switch {
		case err != nil:
			c.opts.Metrics.CommitsTotal.WithLabelValues(metrics.CommitError).Inc()
		case !res.OK:
			c.opts.Metrics.CommitsTotal.WithLabelValues(metrics.CommitRejected).Inc()
		default:
			c.opts.Metrics.CommitsTotal.WithLabelValues(metrics.CommitOK).Inc()
		}
	}
	if err != nil {
		return Document[T]{}, false, err
	}
	if !res.OK {
		return Document[T]{}, false, nil
	}
	// The stored payload may differ from value if EncodePayload's
	// model.Parse normalized it; decode it back so the returned
	// Document reflects what a subsequent Find would see.
	var stored T
	if err := c.opts.Deserialize(payload, &stored); err != nil {
		return Document[T]{}, false, err
	}
	return Document[T]{ID: id, Value: stored, Versionstamp: res.Versionstamp}, true, nil
}

// Update reads the current document, applies mutate, and writes the
// result back with Overwrite semantics.
func (c *Collection[T]) Update(ctx context.Context, id string, mutate func(*T) error) (Document[T], bool, error) {
	cur, err := c.Find(ctx, id)
	if err != nil {
		return Document[T]{}, false, err
	}
	if err := mutate(&cur.Value); err != nil {
		return Document[T]{}, false, fmt.Errorf("collection %s: update %s: %w", c.name, id, err)
	}
	return c.Set(ctx, id, cur.Value, SetOptions{Overwrite: true})
}

func jsonMarshalFields(fields map[string]any, id string) ([]byte, error) {
	if id == "" {
		return json.Marshal(fields)
	}
	withID := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withID[k] = v
	}
	withID[idField] = id
	return json.Marshal(withID)
}
