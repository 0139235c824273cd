package keys

// Selector describes a bounded, ordered range of keys sharing a common
// prefix, the shape the Store Interface's List accepts (spec.md §4.2).
// Start is inclusive, End is exclusive; either may be empty to mean
// "the natural start/end of Prefix".
type Selector struct {
	Prefix Key
	Start  Key
	End    Key
}

// PrefixSelector returns a Selector matching every key under prefix.
func PrefixSelector(prefix Key) Selector {
	return Selector{Prefix: prefix}
}

// WithStart returns a copy of s with an inclusive lower bound.
func (s Selector) WithStart(start Key) Selector {
	s.Start = start
	return s
}

// WithEnd returns a copy of s with an exclusive upper bound.
func (s Selector) WithEnd(end Key) Selector {
	s.End = end
	return s
}

// Bounds renders the selector into the raw byte bounds a backing store
// iterator needs: a lower bound (inclusive) and an upper bound
// (exclusive). Start and End, when set, are used as given; they are
// not clamped to Prefix.
func (s Selector) Bounds() (lower, upper []byte) {
	prefixBytes := Encode(s.Prefix)
	lower = prefixBytes
	if len(s.Start) > 0 {
		lower = Encode(s.Start)
	}
	if len(s.End) > 0 {
		upper = Encode(s.End)
	} else {
		upper = prefixUpperBound(prefixBytes)
	}
	return lower, upper
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix: the prefix bytes with its last byte
// incremented, carrying as needed. A prefix of all 0xFF bytes has no
// finite upper bound and yields nil (meaning "no upper bound").
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
