package atomicbuilder

import (
	"github.com/jocades/kvdex/pkg/kvstore"
	"github.com/jocades/kvdex/pkg/metrics"
)

// prepareDelete captures the state a pending delete needs at commit
// time to compute which index entries to clean up (spec.md §4.5,
// §4.7, "ReadAndSynthesizeIndexDeletes").
type prepareDelete struct {
	handle Handle
	id     string
}

// state is the accumulator shared by every Builder value returned
// from Select, so one commit can span collections (spec.md §4.7,
// "select(selector) returns a new builder... sharing the same
// accumulator").
type state struct {
	store    kvstore.Store
	commands []Command
	prepares []prepareDelete

	indexAddCollections    map[string]bool
	indexDeleteCollections map[string]bool

	metrics *metrics.Metrics
}

// Builder accumulates operations against one or more collections for
// a single atomic commit.
type Builder struct {
	st     *state
	active Handle
}

// New starts a builder rooted at store, with initial as the active
// collection.
func New(store kvstore.Store, initial Handle) *Builder {
	return &Builder{
		st: &state{
			store:                  store,
			indexAddCollections:    make(map[string]bool),
			indexDeleteCollections: make(map[string]bool),
		},
		active: initial,
	}
}

// Select returns a builder sharing this one's accumulator, with h as
// the new active collection.
func (b *Builder) Select(h Handle) *Builder {
	return &Builder{st: b.st, active: h}
}

// WithMetrics attaches m so Commit records outcomes and cleanup
// failures to it (spec.md §2, §7). Returns the receiver for chaining.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.st.metrics = m
	return b
}

// MutationType tags a low-level Mutate operation.
type MutationType uint8

const (
	MutateSet MutationType = iota
	MutateDelete
	MutateSum
)

// Add allocates a new id on the active collection and enqueues its
// id-key write plus, for indexable collections, index fragments.
func (b *Builder) Add(value any) (*Builder, string, error) {
	id := b.active.IDGeneratorValue(value)
	if err := b.set(id, value); err != nil {
		return b, "", err
	}
	return b, id, nil
}

// Set enqueues a write of value at id on the active collection.
func (b *Builder) Set(id string, value any) (*Builder, error) {
	return b, b.set(id, value)
}

func (b *Builder) set(id string, value any) error {
	payload, fields, err := b.active.EncodePayload(value)
	if err != nil {
		return err
	}
	name := b.active.Name()
	b.st.commands = append(b.st.commands, Command{
		Kind: CmdAddIdCheckSet, Key: b.active.IDKey(id), Value: payload, Collection: name,
	})

	if len(b.active.PrimaryFields())+len(b.active.SecondaryFields()) == 0 {
		return nil
	}
	b.st.indexAddCollections[name] = true

	for _, field := range b.active.PrimaryFields() {
		v, ok := definedField(fields, field)
		if !ok {
			continue
		}
		key, err := b.active.PrimaryIndexKeyFor(field, v)
		if err != nil {
			return err
		}
		raw, err := marshalFields(fields, id)
		if err != nil {
			return err
		}
		b.st.commands = append(b.st.commands, Command{Kind: CmdAddIndex, Key: key, Value: raw, Collection: name})
	}
	for _, field := range b.active.SecondaryFields() {
		v, ok := definedField(fields, field)
		if !ok {
			continue
		}
		key, err := b.active.SecondaryIndexKeyFor(field, v, id)
		if err != nil {
			return err
		}
		raw, err := marshalFields(fields, "")
		if err != nil {
			return err
		}
		b.st.commands = append(b.st.commands, Command{Kind: CmdAddIndex, Key: key, Value: raw, Collection: name})
	}
	return nil
}

// Delete enqueues an id-key delete on the active collection. For
// indexable collections it also registers a prepare step that reads
// the current document at commit time to compute index keys to clean
// up afterward.
func (b *Builder) Delete(id string) *Builder {
	name := b.active.Name()
	b.st.commands = append(b.st.commands, Command{Kind: CmdDeleteKey, Key: b.active.IDKey(id), Collection: name})
	if len(b.active.PrimaryFields())+len(b.active.SecondaryFields()) > 0 {
		b.st.indexDeleteCollections[name] = true
		b.st.prepares = append(b.st.prepares, prepareDelete{handle: b.active, id: id})
	}
	return b
}

// Check enqueues a raw version check against id's id-key.
func (b *Builder) Check(id string, versionstamp string) *Builder {
	b.st.commands = append(b.st.commands, Command{Kind: CmdCheck, Key: b.active.IDKey(id), Versionstamp: versionstamp})
	return b
}

// Sum enqueues an atomic counter add against id's id-key. Valid only
// when the stored value is the store's native counter type; otherwise
// the whole commit fails at the store layer (spec.md §4.7).
func (b *Builder) Sum(id string, delta int64) *Builder {
	b.st.commands = append(b.st.commands, Command{Kind: CmdSum, Key: b.active.IDKey(id), Delta: delta})
	return b
}

// Mutate is the kind-tagged form of Set/Delete/Sum: it dispatches on
// kind to the same code those calls run, so it gets the same implicit
// checks and index handling (spec.md §4.7).
func (b *Builder) Mutate(id string, kind MutationType, value any) (*Builder, error) {
	switch kind {
	case MutateSet:
		return b, b.set(id, value)
	case MutateDelete:
		b.Delete(id)
		return b, nil
	case MutateSum:
		delta, _ := value.(int64)
		b.Sum(id, delta)
		return b, nil
	}
	return b, nil
}
