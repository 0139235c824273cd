package kvstore

import "encoding/binary"

// EncodeCounter and DecodeCounter give every engine implementation a
// shared, fixed-width representation for the store's native 64-bit
// counter value.
func EncodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func DecodeCounter(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func decodeCounter(b []byte) int64 { return DecodeCounter(b) }
