// Package kvdexerr holds the sentinel and typed errors shared across
// kvdex's packages. Plain fmt.Errorf/%w wrapping is used throughout
// rather than a structured error library: kvdex's error surface is
// small and flat (not found, version mismatch, corrupted data, a
// handful of builder-misuse cases), so the extra stack-trace and
// redaction machinery a library like cockroachdb/errors brings along
// has no caller here that needs it.
package kvdexerr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by collection lookups when no document
// exists for the given id. Store.Get does not return this: a missing
// key there is a valid (nil, "") result, not an error.
var ErrNotFound = errors.New("kvdex: not found")

// ErrVersionMismatch names the case where a caller's versionstamp no
// longer matches the stored one, i.e. the document changed since it
// was read. No operation in this module returns it: a failed
// versionstamp check is reported as a CommitResult with OK false.
var ErrVersionMismatch = errors.New("kvdex: version mismatch")

// ErrOverlap names the case of an AtomicBuilder commit that would both
// add and delete index entries for the same collection. Builder.Commit
// does not return it: it rejects such a commit with a CommitResult
// whose OK is false and a nil error.
var ErrOverlap = errors.New("kvdex: overlapping index mutation for collection")

// ErrClosed is returned by store operations issued after Close.
var ErrClosed = errors.New("kvdex: store is closed")

// CorruptedDocumentDataError wraps a decode failure for a document
// read back from the store, identifying the offending id and segment
// count so an operator can find it in logs.
type CorruptedDocumentDataError struct {
	Collection string
	ID         string
	Segments   int
	Err        error
}

func (e *CorruptedDocumentDataError) Error() string {
	return fmt.Sprintf("kvdex: corrupted document data: collection=%s id=%s segments=%d: %v",
		e.Collection, e.ID, e.Segments, e.Err)
}

func (e *CorruptedDocumentDataError) Unwrap() error { return e.Err }
