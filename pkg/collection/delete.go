package collection

import (
	"context"
	"time"

	"github.com/jocades/kvdex/pkg/kvdexerr"
)

// Delete removes the document at id, along with its index entries
// (indexable collections) or segments (large collections). Deleting a
// missing id is a no-op.
func (c *Collection[T]) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if err := c.deleteOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection[T]) deleteOne(ctx context.Context, id string) error {
	if c.opts.Kind == KindLarge {
		return c.deleteLarge(ctx, id)
	}

	if c.opts.Kind != KindIndexable {
		return c.store.Delete(ctx, c.IDKey(id))
	}

	// Two-phase: read first to learn which index entries exist, then
	// delete the id-key, then best-effort delete the index entries
	// (spec.md §4.5, "Delete path").
	current, err := c.Find(ctx, id)
	if err != nil {
		if err == kvdexerr.ErrNotFound {
			return nil
		}
		return err
	}

	payload, err := c.opts.Serialize(current.Value)
	if err != nil {
		return err
	}
	fields, err := fieldsOf(payload)
	if err != nil {
		return err
	}

	journalKey := c.JournalKey(id)
	journalValue, err := encodeJournal(fields, time.Now().UnixNano())
	if err != nil {
		return err
	}

	// The id-key delete and its journal entry commit together, so the
	// entry is never missing relative to the delete it describes even
	// if the process dies before the cleanup below runs (spec.md §4.8).
	if _, err := c.store.Atomic().Delete(c.IDKey(id)).Set(journalKey, journalValue).Commit(ctx); err != nil {
		return err
	}

	batch := c.store.Atomic().Delete(journalKey)
	for _, field := range c.primaryFields {
		if v, ok := definedField(fields, field); ok {
			key, kerr := c.PrimaryIndexKey(field, v)
			if kerr != nil {
				continue
			}
			batch = batch.Delete(key)
		}
	}
	for _, field := range c.secondaryFields {
		if v, ok := definedField(fields, field); ok {
			key, kerr := c.SecondaryIndexKey(field, v, id)
			if kerr != nil {
				continue
			}
			batch = batch.Delete(key)
		}
	}
	// Best-effort: the primary delete already succeeded, so a failure
	// here just leaves the journal entry and any stale index entries
	// for the janitor and read-time re-validation to handle (spec.md
	// §7, §4.8).
	res, err := batch.Commit(ctx)
	if c.opts.Metrics != nil && (err != nil || !res.OK) {
		c.opts.Metrics.IndexCleanupFailures.Inc()
	}
	return nil
}

// DeleteMany deletes every document matching opts.
func (c *Collection[T]) DeleteMany(ctx context.Context, opts ListOptions[T]) error {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return c.Delete(ctx, ids...)
}
