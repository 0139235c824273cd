// Package model defines the contract a Go type must satisfy to be
// stored in a collection (spec.md §4.3) and the default id generator
// collections fall back to when none is supplied.
package model

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator produces a new, lexicographically sortable document id
// for value, the document about to be written. Collection.Add uses
// one when the caller doesn't supply an id directly; value lets a
// custom generator derive an id from the document's own content (a
// content hash, a tenant-prefixed id, ...) instead of always minting
// one from the clock. The default, NewID, ignores value.
type IDGenerator func(value any) string

var idSeq uint64

// NewID returns a time-ordered, collision-resistant document id:
// a 13-hex-digit millisecond timestamp, a dash, and a 5-hex-digit
// atomic sequence number, e.g. "00190f3a2b1c8-00001". It zero-pads both
// fields so ids compare correctly as plain strings (and as a
// keys.String key part), unlike the decimal, unpadded "prefix-%d-%d"
// shape used for log-line ids elsewhere in this codebase's ancestry.
func NewID(value any) string {
	ts := time.Now().UTC().UnixMilli()
	seq := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("%013x-%05x", ts, seq&0xFFFFF)
}

// Validator is implemented by document types that want Collection.Add
// and Set to reject malformed values before they ever reach the
// store. It is optional: types that don't implement it are accepted
// as-is.
type Validator interface {
	Validate() error
}

// Normalizer is implemented by document types that want to default or
// coerce their own fields before being persisted (spec.md §4.3,
// "parse(value) -> value ... normalizes an input"). Normalize should
// be implemented on a pointer receiver so its mutations are visible to
// the caller; it is optional, like Validator.
type Normalizer interface {
	Normalize() error
}

// Parse runs the parse/normalize contract spec.md §4.3 describes:
// value should be a pointer to the document about to be written. If
// it implements Normalizer, Normalize runs first, so defaulting or
// coercion happens before Validate ever sees the field; if it
// implements Validator, Validate then runs against the normalized
// result. Both steps are optional — a type implementing neither passes
// through unchanged. Returns value unchanged (for chaining) or the
// first error either step produces.
func Parse(value any) (any, error) {
	if n, ok := value.(Normalizer); ok {
		if err := n.Normalize(); err != nil {
			return nil, fmt.Errorf("model: normalize: %w", err)
		}
	}
	if v, ok := value.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("model: validate: %w", err)
		}
	}
	return value, nil
}
