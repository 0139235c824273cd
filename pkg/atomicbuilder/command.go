package atomicbuilder

import "github.com/jocades/kvdex/pkg/keys"

// CommandKind tags one entry in the builder's command queue (spec.md
// §9, "command queue" design note).
type CommandKind uint8

const (
	// CmdAddIdCheckSet writes a document's id-key, preceded by a
	// versionstamp:"" check (the key must not already exist).
	CmdAddIdCheckSet CommandKind = iota
	// CmdAddIndex writes a primary or secondary index entry,
	// preceded by a versionstamp:"" check.
	CmdAddIndex
	// CmdDeleteKey deletes a key unconditionally.
	CmdDeleteKey
	// CmdCheck is a raw version check with no accompanying write.
	CmdCheck
	// CmdSum folds an atomic counter add.
	CmdSum
)

// Command is one entry in the builder's accumulated queue. Which
// fields are meaningful depends on Kind.
type Command struct {
	Kind         CommandKind
	Key          keys.Key
	Value        []byte
	Versionstamp string
	Delta        int64

	// Collection names the owning collection for CmdAddIdCheckSet,
	// CmdAddIndex and CmdDeleteKey commands. The overlap check does not
	// read it; it uses the builder's indexAddCollections and
	// indexDeleteCollections sets.
	Collection string
}
