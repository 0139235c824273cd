// Package keys implements the composite key codec: an ordered sequence
// of typed parts that the store compares and enumerates lexicographically.
// Keys are the sole namespace mechanism in kvdex; there is no separate
// table or collection identifier besides the parts making up a key.
package keys

import (
	"bytes"
	"fmt"
)

// Root is the single reserved segment every key written by this module
// lives under. It must stay stable across versions: changing it is a
// data migration, not a config change.
const Root = "kvdex"

// Reserved path segments used to build the four sub-namespaces under a
// collection root (spec.md §3, "Namespace layout").
const (
	SegID           = "id"
	SegSegment      = "segment"
	SegPrimaryIndex = "primary_index"
	SegSecondaryIdx = "secondary_index"
	SegJournal      = "_journal"
)

// partKind tags the dynamic type carried by a Part.
type partKind uint8

const (
	kindString partKind = iota
	kindInt
	kindUint
	kindBytes
)

// Part is a single fragment of a composite Key: a string, a signed or
// unsigned integer, or a binary blob. Parts compare by kind first (so a
// key's shape is still well-ordered even across mixed types) and then
// by value.
type Part struct {
	kind partKind
	s    string
	i    int64
	u    uint64
	b    []byte
}

func String(v string) Part { return Part{kind: kindString, s: v} }
func Int(v int64) Part     { return Part{kind: kindInt, i: v} }
func Uint(v uint64) Part   { return Part{kind: kindUint, u: v} }
func Bytes(v []byte) Part  { return Part{kind: kindBytes, b: append([]byte(nil), v...)} }

// Value returns the part's underlying Go value (string, int64, uint64,
// or []byte) for callers that need to branch on it.
func (p Part) Value() any {
	switch p.kind {
	case kindString:
		return p.s
	case kindInt:
		return p.i
	case kindUint:
		return p.u
	case kindBytes:
		return p.b
	default:
		return nil
	}
}

// string renders a part in a lossy textual form for logs (not used for
// on-disk encoding). It is unexported, so Part does not implement
// fmt.Stringer.
func (p Part) string() string {
	switch p.kind {
	case kindString:
		return p.s
	case kindInt:
		return fmt.Sprintf("%d", p.i)
	case kindUint:
		return fmt.Sprintf("%d", p.u)
	case kindBytes:
		return string(p.b)
	default:
		return ""
	}
}

func (p Part) equal(o Part) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case kindString:
		return p.s == o.s
	case kindInt:
		return p.i == o.i
	case kindUint:
		return p.u == o.u
	case kindBytes:
		return bytes.Equal(p.b, o.b)
	}
	return false
}

// Key is an ordered sequence of parts. Keys are treated as immutable
// values; callers never mutate parts in place, only build new Keys via
// Extend.
type Key []Part

// New builds a Key from parts, always rooted under the reserved segment.
func New(parts ...Part) Key {
	k := make(Key, 0, len(parts)+1)
	k = append(k, String(Root))
	k = append(k, parts...)
	return k
}

// Extend returns a new Key with additional parts appended. The receiver
// is never mutated.
func (k Key) Extend(parts ...Part) Key {
	out := make(Key, len(k), len(k)+len(parts))
	copy(out, k)
	return append(out, parts...)
}

// Equal reports whether two keys have the same parts in the same order.
func Equal(a, b Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether k starts with every part of prefix, in order.
func HasPrefix(k, prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if !k[i].equal(prefix[i]) {
			return false
		}
	}
	return true
}

// TrailingID returns the last part of a key whose penultimate part is
// the "id" marker segment, i.e. an id-key shaped like "<...>/id/<docId>".
// Other keys, including secondary index keys ("<...>/<value>/<docId>"),
// are not recognized. Returns the zero Part and false if the key is
// shorter than two parts or its penultimate part is not the marker.
func TrailingID(k Key) (Part, bool) {
	if len(k) < 2 {
		return Part{}, false
	}
	penultimate := k[len(k)-2]
	if penultimate.kind == kindString && penultimate.s == SegID {
		return k[len(k)-1], true
	}
	return Part{}, false
}

// Last returns the final part of the key, or the zero Part if empty.
func Last(k Key) Part {
	if len(k) == 0 {
		return Part{}
	}
	return k[len(k)-1]
}
