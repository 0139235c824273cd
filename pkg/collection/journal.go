package collection

import "encoding/json"

// journalEntry is the value written at JournalKey(id) in the same
// atomic batch as an indexable collection's id-key delete (spec.md
// §4.8). It carries the deleted document's fields so a later cleanup
// (the immediate best-effort pass, or a janitor sweep after a crash)
// can compute index keys without the id-key still existing to read.
type journalEntry struct {
	Fields map[string]any `json:"fields"`
	At     int64          `json:"at"`
}

func encodeJournal(fields map[string]any, at int64) ([]byte, error) {
	return json.Marshal(journalEntry{Fields: fields, At: at})
}

// DecodeJournal implements pkg/janitor's Sweeper interface: it decodes
// a journal entry's stored value back into the field map and the unix-
// nano timestamp it was written at.
func (c *Collection[T]) DecodeJournal(value []byte) (fields map[string]any, at int64, ok bool) {
	var e journalEntry
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, 0, false
	}
	return e.Fields, e.At, true
}
