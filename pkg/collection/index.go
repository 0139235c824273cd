package collection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/model"
)

// idField is the embedded marker written into every primary-index
// entry's value (spec.md §3, "Primary index entry"), proving the
// index points at a reachable document without a second fetch.
const idField = "__id__"

// fieldsOf decodes value into a plain JSON object so index fragments
// can be computed from arbitrary field names without T needing to
// expose field access itself. A field absent from the map, or present
// with a JSON null, is treated as undefined (spec.md §4.5, sparse
// indexes).
func fieldsOf(payload []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("collection: decode fields: %w", err)
	}
	return m, nil
}

func definedField(fields map[string]any, name string) (any, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// FindByPrimaryIndex fetches the primary-index entry for field=value
// directly and takes the owning id from its __id__ field (spec.md
// §4.5). It then always fetches the current id-key and returns that
// document, after checking that its field still equals value, closing
// the read-time window
// left open by best-effort post-commit index cleanup (spec.md §9,
// "stale index entries after crash during cleanup").
func (c *Collection[T]) FindByPrimaryIndex(ctx context.Context, field string, value any) (Document[T], error) {
	key, err := c.PrimaryIndexKey(field, value)
	if err != nil {
		return Document[T]{}, err
	}
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return Document[T]{}, err
	}
	if entry.Value == nil {
		return Document[T]{}, kvdexerr.ErrNotFound
	}

	fields, err := fieldsOf(entry.Value)
	if err != nil {
		return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, Segments: 1, Err: err}
	}
	rawID, ok := fields[idField]
	if !ok {
		return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, Err: fmt.Errorf("primary index entry missing %s", idField)}
	}
	id, _ := rawID.(string)

	current, err := c.Find(ctx, id)
	if err != nil {
		// The id-key is gone: this index entry is stale, left behind
		// by a crash between the main commit and cleanup. Report it
		// the same way a direct miss would read, and take the chance
		// to clean the dangling entry up ourselves.
		if err == kvdexerr.ErrNotFound {
			c.opportunisticCleanup(ctx, key)
			return Document[T]{}, kvdexerr.ErrNotFound
		}
		return Document[T]{}, err
	}
	currentFields, err := fieldsOf(mustEncode(c, current.Value))
	if err != nil {
		return Document[T]{}, err
	}
	if cur, ok := definedField(currentFields, field); !ok || !jsonEqual(cur, value) {
		// Field changed since the index entry was written; treat as
		// stale rather than returning a mismatched document.
		c.opportunisticCleanup(ctx, key)
		return Document[T]{}, kvdexerr.ErrNotFound
	}
	return current, nil
}

// opportunisticCleanup best-effort deletes a primary-index entry found
// stale during a read (spec.md §4.8). Its result is discarded like
// every other index cleanup (spec.md §7): the janitor will converge on
// it eventually even if this delete itself fails or races.
func (c *Collection[T]) opportunisticCleanup(ctx context.Context, key keys.Key) {
	c.store.Atomic().Delete(key).Commit(ctx)
}

func mustEncode[T any](c *Collection[T], v T) []byte {
	b, err := c.opts.Serialize(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// The methods below give a Collection[T] the shape package
// atomicbuilder's Handle interface needs, so a single cross-collection
// builder can operate on it without collection importing atomicbuilder
// (which would be a cycle: atomicbuilder's tests already import
// collection). atomicbuilder declares the
// interface; Collection[T] satisfies it structurally.

// IDGeneratorValue returns a freshly generated id for value on this
// collection.
func (c *Collection[T]) IDGeneratorValue(value any) string { return c.opts.IDGenerator(value) }

// EncodePayload parses (normalizes, then validates), and serializes
// value (which must be this collection's T, or *T) into the bytes
// stored at the id-key, and returns the decoded field map used to
// compute index fragments.
func (c *Collection[T]) EncodePayload(value any) ([]byte, map[string]any, error) {
	v, ok := value.(T)
	if !ok {
		if p, ok2 := value.(*T); ok2 {
			v = *p
		} else {
			return nil, nil, fmt.Errorf("collection %s: value has wrong type %T", c.name, value)
		}
	}
	if _, err := model.Parse(&v); err != nil {
		return nil, nil, fmt.Errorf("collection %s: %w", c.name, err)
	}
	payload, err := c.opts.Serialize(v)
	if err != nil {
		return nil, nil, err
	}
	fields, err := fieldsOf(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, fields, nil
}

func (c *Collection[T]) PrimaryIndexKeyFor(field string, value any) (keys.Key, error) {
	return c.PrimaryIndexKey(field, value)
}

func (c *Collection[T]) SecondaryIndexKeyFor(field string, value any, id string) (keys.Key, error) {
	return c.SecondaryIndexKey(field, value, id)
}

// ReadIndexFields fetches id's current stored fields, for computing
// the index keys a delete needs to clean up (spec.md §4.5, "prepare
// closure"). found is false if the id-key doesn't currently exist.
func (c *Collection[T]) ReadIndexFields(ctx context.Context, id string) (fields map[string]any, found bool, err error) {
	doc, err := c.Find(ctx, id)
	if err != nil {
		if err == kvdexerr.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	payload, err := c.opts.Serialize(doc.Value)
	if err != nil {
		return nil, false, err
	}
	fields, err = fieldsOf(payload)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}
