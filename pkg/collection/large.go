package collection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jocades/kvdex/pkg/keys"
	"github.com/jocades/kvdex/pkg/kvdexerr"
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/telemetry"
)

// manifest is the id-key value for a large document: the ordered list
// of segment indices making up its payload (spec.md §3, "Large
// document entry").
type manifest struct {
	IDs []int `json:"ids"`
}

// segmentsPerBatch bounds how many segment writes go into one atomic
// commit, passed as kvstore.UseAtomics' batchSize so no single commit
// depends on a particular engine's batch-size limit (spec.md §4.2).
const segmentsPerBatch = 64

func (c *Collection[T]) chunk(payload []byte) [][]byte {
	limit := c.opts.SegmentLimit
	var out [][]byte
	for len(payload) > 0 {
		n := limit
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	if len(out) == 0 {
		out = append(out, []byte{})
	}
	return out
}

// setLarge implements LargeCollection.setDocument (spec.md §4.6).
func (c *Collection[T]) setLarge(ctx context.Context, id string, value T, opts SetOptions) (Document[T], bool, error) {
	span := telemetry.Track("collection.setLarge")
	defer span.Finish()

	payload, _, err := c.EncodePayload(value)
	if err != nil {
		return Document[T]{}, false, err
	}
	span.Mark("encode")

	probe, err := c.store.Atomic().Check(c.IDKey(id), "").Commit(ctx)
	if err != nil {
		return Document[T]{}, false, err
	}
	if !probe.OK {
		if !opts.Overwrite {
			return Document[T]{}, false, nil
		}
		if err := c.deleteLarge(ctx, id); err != nil {
			return Document[T]{}, false, err
		}
	}

	segments := c.chunk(payload)
	res, err := c.writeSegmentsWithRetry(ctx, id, segments, c.opts.Retry)
	span.Mark("write_segments")
	if c.opts.Metrics != nil {
		c.opts.Metrics.SegmentCount.Observe(float64(len(segments)))
	}
	if err != nil {
		return Document[T]{}, false, err
	}
	if !res.OK {
		return Document[T]{}, false, nil
	}
	// payload may differ from value if EncodePayload's model.Parse
	// normalized it; decode it back so the returned Document matches
	// what a subsequent Find would reassemble from segments.
	var stored T
	if err := c.opts.Deserialize(payload, &stored); err != nil {
		return Document[T]{}, false, err
	}
	return Document[T]{ID: id, Value: stored, Versionstamp: res.Versionstamp}, true, nil
}

func (c *Collection[T]) writeSegmentsWithRetry(ctx context.Context, id string, segments [][]byte, retry int) (kvstore.CommitResult, error) {
	written, err := c.writeSegments(ctx, id, segments)
	if err != nil {
		c.deleteSegments(ctx, id, written)
		return kvstore.CommitResult{}, err
	}
	if written < len(segments) {
		c.deleteSegments(ctx, id, written)
		if retry > 0 {
			return c.writeSegmentsWithRetry(ctx, id, segments, retry-1)
		}
		return kvstore.CommitResult{OK: false}, nil
	}

	ids := make([]int, len(segments))
	for i := range segments {
		ids[i] = i
	}
	manifestBytes, err := json.Marshal(manifest{IDs: ids})
	if err != nil {
		c.deleteSegments(ctx, id, written)
		return kvstore.CommitResult{}, err
	}

	res, err := c.store.Atomic().Set(c.IDKey(id), manifestBytes).Commit(ctx)
	if err != nil {
		c.deleteSegments(ctx, id, written)
		return kvstore.CommitResult{}, err
	}
	if !res.OK {
		c.deleteSegments(ctx, id, written)
		if retry > 0 {
			return c.writeSegmentsWithRetry(ctx, id, segments, retry-1)
		}
		return kvstore.CommitResult{OK: false}, nil
	}
	return res, nil
}

// writeSegments writes segments via kvstore.UseAtomics in batches of
// segmentsPerBatch, returning how many were successfully committed
// before the first batch failure (len(segments) if all succeeded).
func (c *Collection[T]) writeSegments(ctx context.Context, id string, segments [][]byte) (int, error) {
	mutations := make([]kvstore.Mutation, len(segments))
	for i, seg := range segments {
		mutations[i] = kvstore.Mutation{Key: c.SegmentKey(id, i), Kind: kvstore.MutationSet, Value: seg}
	}
	written, _, err := kvstore.UseAtomics(ctx, c.store, segmentsPerBatch, mutations)
	return written, err
}

func (c *Collection[T]) deleteSegments(ctx context.Context, id string, count int) {
	for i := 0; i < count; i++ {
		_ = c.store.Delete(ctx, c.SegmentKey(id, i))
	}
}

// findLarge implements LargeCollection's read path.
func (c *Collection[T]) findLarge(ctx context.Context, id string) (Document[T], error) {
	entry, err := c.store.Get(ctx, c.IDKey(id))
	if err != nil {
		return Document[T]{}, err
	}
	if entry.Value == nil {
		return Document[T]{}, kvdexerr.ErrNotFound
	}
	var m manifest
	if err := json.Unmarshal(entry.Value, &m); err != nil {
		return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, ID: id, Err: err}
	}

	segKeys := make([]keys.Key, len(m.IDs))
	for i, idx := range m.IDs {
		segKeys[i] = c.SegmentKey(id, idx)
	}
	entries, err := c.store.GetMany(ctx, segKeys)
	if err != nil {
		return Document[T]{}, err
	}

	var buf []byte
	for i, e := range entries {
		if e.Value == nil {
			return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{
				Collection: c.name, ID: id, Segments: len(m.IDs),
				Err: fmt.Errorf("missing segment %d", m.IDs[i]),
			}
		}
		buf = append(buf, e.Value...)
	}

	var v T
	if err := c.opts.Deserialize(buf, &v); err != nil {
		return Document[T]{}, &kvdexerr.CorruptedDocumentDataError{Collection: c.name, ID: id, Segments: len(m.IDs), Err: err}
	}
	return Document[T]{ID: id, Value: v, Versionstamp: entry.Versionstamp}, nil
}

func (c *Collection[T]) listLarge(ctx context.Context, opts ListOptions[T]) ([]Document[T], error) {
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
		docID := fmt.Sprint(id.Value())
		doc, err := c.findLarge(ctx, docID)
		if err != nil {
			return nil, err
		}
		if opts.Filter != nil && !opts.Filter(doc) {
			continue
		}
		out = append(out, doc)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, iter.Err()
}

func (c *Collection[T]) deleteLarge(ctx context.Context, id string) error {
	entry, err := c.store.Get(ctx, c.IDKey(id))
	if err != nil {
		return err
	}
	if entry.Value == nil {
		return nil
	}
	var m manifest
	if err := json.Unmarshal(entry.Value, &m); err != nil {
		return &kvdexerr.CorruptedDocumentDataError{Collection: c.name, ID: id, Err: err}
	}
	// Manifest first, so a reader mid-delete sees either the full
	// document or nothing, never a partially-deleted one (spec.md
	// §4.6, "Delete").
	if err := c.store.Delete(ctx, c.IDKey(id)); err != nil {
		return err
	}
	c.deleteSegments(ctx, id, len(m.IDs))
	return nil
}
