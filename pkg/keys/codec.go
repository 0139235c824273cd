package keys

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Key into an order-preserving byte string suitable
// for use as a backing-store key: comparing Encode(a) and Encode(b) with
// bytes.Compare yields the same order as comparing a and b part-wise.
//
// Each part is written as a one-byte type tag followed by its payload.
// Strings and byte blobs are escaped (0x00 -> 0x00 0xFF) and terminated
// with a bare 0x00 so that a short part never becomes a prefix of a
// longer one with the same leading bytes. Integers are written
// big-endian with the sign bit flipped so two's-complement ordering
// matches byte-lexicographic ordering.
func Encode(k Key) []byte {
	var out []byte
	for _, p := range k {
		out = append(out, byte(p.kind))
		switch p.kind {
		case kindString:
			out = append(out, escape([]byte(p.s))...)
			out = append(out, 0x00)
		case kindBytes:
			out = append(out, escape(p.b)...)
			out = append(out, 0x00)
		case kindInt:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(p.i)^(1<<63))
			out = append(out, buf[:]...)
		case kindUint:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], p.u)
			out = append(out, buf[:]...)
		}
	}
	return out
}

func escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Decode parses bytes produced by Encode back into a Key. It is used by
// the reference store's key-listing helpers and by tests; the hot path
// (get/set by a caller-built Key) never needs to decode.
func Decode(b []byte) (Key, error) {
	var k Key
	for len(b) > 0 {
		kind := partKind(b[0])
		b = b[1:]
		switch kind {
		case kindString, kindBytes:
			payload, rest, err := unescapeUntilNUL(b)
			if err != nil {
				return nil, err
			}
			if kind == kindString {
				k = append(k, String(string(payload)))
			} else {
				k = append(k, Bytes(payload))
			}
			b = rest
		case kindInt:
			if len(b) < 8 {
				return nil, fmt.Errorf("keys: truncated int part")
			}
			u := binary.BigEndian.Uint64(b[:8])
			k = append(k, Int(int64(u^(1<<63))))
			b = b[8:]
		case kindUint:
			if len(b) < 8 {
				return nil, fmt.Errorf("keys: truncated uint part")
			}
			k = append(k, Uint(binary.BigEndian.Uint64(b[:8])))
			b = b[8:]
		default:
			return nil, fmt.Errorf("keys: unknown part tag %d", kind)
		}
	}
	return k, nil
}

func unescapeUntilNUL(b []byte) (payload, rest []byte, err error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		// bare NUL: terminator
		return out, b[i+1:], nil
	}
	return nil, nil, fmt.Errorf("keys: unterminated part")
}
