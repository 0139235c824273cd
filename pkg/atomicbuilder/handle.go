// Package atomicbuilder implements the AtomicBuilder (spec.md §4.7):
// a fluent accumulator that can span several collections in one
// commit, resolving each collection's index side-effects and running
// the prepare/commit/cleanup sequence deletes need.
//
// The builder is command-queue based rather than closure based
// (spec.md §9, "closures accumulated into a list -> command queue"):
// every fluent call appends a tagged Command instead of a function
// value and records its collection in per-collection add/delete
// marker sets, which Commit compares for the overlap invariant.
package atomicbuilder

import (
	"context"

	"github.com/jocades/kvdex/pkg/keys"
)

// Handle is the minimal view of a collection the builder needs.
// pkg/collection's Collection[T] satisfies this structurally; the
// builder declares the interface rather than importing a concrete
// generic type so it can hold collections of different element types
// in the same accumulator.
type Handle interface {
	Name() string
	// PrimaryFields/SecondaryFields drive which index fragments Add
	// and Set enqueue, and which fields a delete's prepare step reads.
	PrimaryFields() []string
	SecondaryFields() []string

	IDKey(id string) keys.Key
	IDGeneratorValue(value any) string

	// JournalKey returns the pending-cleanup journal key for id, used
	// so a delete's journal entry commits in the same batch as the
	// document delete it describes (spec.md §4.8).
	JournalKey(id string) keys.Key

	// EncodePayload validates and serializes value (this collection's
	// T or *T) and returns the decoded field map used for index
	// fragments.
	EncodePayload(value any) (payload []byte, fields map[string]any, err error)

	PrimaryIndexKeyFor(field string, value any) (keys.Key, error)
	SecondaryIndexKeyFor(field string, value any, id string) (keys.Key, error)

	// ReadIndexFields fetches id's current fields for delete-prepare.
	ReadIndexFields(ctx context.Context, id string) (fields map[string]any, found bool, err error)
}

func definedField(fields map[string]any, name string) (any, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
