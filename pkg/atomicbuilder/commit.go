package atomicbuilder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/metrics"
	"github.com/jocades/kvdex/pkg/telemetry"
)

// marshalFields mirrors pkg/collection's jsonMarshalFields: with id
// set it embeds the "__id__" marker used by primary-index entries, so
// FindByPrimaryIndex-style reads never need a second fetch; with id
// empty it marshals the fields as-is, the shape secondary-index
// entries use.
func marshalFields(fields map[string]any, id string) ([]byte, error) {
	if id == "" {
		return json.Marshal(fields)
	}
	withID := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withID[k] = v
	}
	withID["__id__"] = id
	return json.Marshal(withID)
}

// journalEntry mirrors pkg/collection's own journal value shape (spec.md
// §4.8): the deleted document's fields plus a timestamp, so a janitor
// sweep can compute index keys without the id-key still existing.
type journalEntry struct {
	Fields map[string]any `json:"fields"`
	At     int64          `json:"at"`
}

func marshalJournal(fields map[string]any) ([]byte, error) {
	return json.Marshal(journalEntry{Fields: fields, At: time.Now().UnixNano()})
}

// deletePrepared is the outcome of reading one pending delete's
// current fields, used to compute index keys to clean up after the
// main commit succeeds.
type deletePrepared struct {
	handle Handle
	id     string
	fields map[string]any
	found  bool
}

// Commit runs the sequence spec.md §4.7 describes for a cross-
// collection atomic commit:
//
//  1. reject if any collection appears in both the add and delete
//     sets (the overlap invariant: one commit can't both add and
//     remove index entries for the same collection, since the delete
//     side needs to read-before-write against state the add side is
//     concurrently changing).
//  2. concurrently read the current fields for every pending delete,
//     before the commit that will remove them.
//  3. fold every queued command into one kvstore.AtomicBatch and
//     commit it.
//  4. on success, best-effort clean up the index entries the prepared
//     deletes turned up, in a second atomic commit whose result is
//     discarded (spec.md §9, write-time half of stale-index handling;
//     the read-time half is FindByPrimaryIndex's re-validation).
//  5. return the main commit's result.
func (b *Builder) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	span := telemetry.Track("atomicbuilder.commit")
	defer span.Finish()

	for name := range b.st.indexAddCollections {
		if b.st.indexDeleteCollections[name] {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	prepared := b.runPrepares(ctx)
	span.Mark("prepare")

	batch := b.st.store.Atomic()
	for _, cmd := range b.st.commands {
		switch cmd.Kind {
		case CmdAddIdCheckSet, CmdAddIndex:
			batch = batch.Check(cmd.Key, "").Set(cmd.Key, cmd.Value)
		case CmdDeleteKey:
			batch = batch.Delete(cmd.Key)
		case CmdCheck:
			batch = batch.Check(cmd.Key, cmd.Versionstamp)
		case CmdSum:
			batch = batch.Sum(cmd.Key, cmd.Delta)
		}
	}
	// Fold each prepared delete's journal entry into the SAME batch as
	// the document delete it describes, so the entry can never be
	// missing relative to the delete (spec.md §4.8).
	for _, p := range prepared {
		if !p.found {
			continue
		}
		journalValue, err := marshalJournal(p.fields)
		if err != nil {
			continue
		}
		batch = batch.Set(p.handle.JournalKey(p.id), journalValue)
	}

	res, err := batch.Commit(ctx)
	span.Mark("apply")
	if b.st.metrics != nil {
		switch {
		case err != nil:
			b.st.metrics.CommitsTotal.WithLabelValues(metrics.CommitError).Inc()
		case !res.OK:
			b.st.metrics.CommitsTotal.WithLabelValues(metrics.CommitRejected).Inc()
		default:
			b.st.metrics.CommitsTotal.WithLabelValues(metrics.CommitOK).Inc()
		}
	}
	if err != nil || !res.OK {
		return res, err
	}

	cleanupFailed := b.cleanupIndexes(ctx, prepared)
	if cleanupFailed && b.st.metrics != nil {
		b.st.metrics.IndexCleanupFailures.Inc()
	}
	span.Mark("cleanup")
	return res, nil
}

func (b *Builder) runPrepares(ctx context.Context) []deletePrepared {
	out := make([]deletePrepared, len(b.st.prepares))
	var wg sync.WaitGroup
	for i, p := range b.st.prepares {
		wg.Add(1)
		go func(i int, p prepareDelete) {
			defer wg.Done()
			fields, found, err := p.handle.ReadIndexFields(ctx, p.id)
			if err != nil {
				return
			}
			out[i] = deletePrepared{handle: p.handle, id: p.id, fields: fields, found: found}
		}(i, p)
	}
	wg.Wait()
	return out
}

// cleanupIndexes best-effort deletes the index keys and journal
// entries the prepared deletes turned up, returning whether a
// non-empty cleanup batch failed (for metrics; the caller still
// swallows the error itself per spec.md §7).
func (b *Builder) cleanupIndexes(ctx context.Context, prepared []deletePrepared) bool {
	cleanup := b.st.store.Atomic()
	hadCleanup := false
	for _, p := range prepared {
		if !p.found {
			continue
		}
		cleanup = cleanup.Delete(p.handle.JournalKey(p.id))
		hadCleanup = true
		for _, field := range p.handle.PrimaryFields() {
			v, ok := definedField(p.fields, field)
			if !ok {
				continue
			}
			key, err := p.handle.PrimaryIndexKeyFor(field, v)
			if err != nil {
				continue
			}
			cleanup = cleanup.Delete(key)
			hadCleanup = true
		}
		for _, field := range p.handle.SecondaryFields() {
			v, ok := definedField(p.fields, field)
			if !ok {
				continue
			}
			key, err := p.handle.SecondaryIndexKeyFor(field, v, p.id)
			if err != nil {
				continue
			}
			cleanup = cleanup.Delete(key)
			hadCleanup = true
		}
	}
	if !hadCleanup {
		return false
	}
	res, err := cleanup.Commit(ctx)
	return err != nil || !res.OK
}
