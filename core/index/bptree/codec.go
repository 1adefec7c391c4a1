package bptree

import (
	"bytes"
	"cmp"
	"encoding/binary"
)

// Order compares two keys, returning a negative value, zero, or a positive
// value as a < b, a == b, or a > b. The tree's caller supplies it.
type Order[K any] func(a, b K) int

// OrderOf builds an Order for any natively ordered key type.
func OrderOf[K cmp.Ordered]() Order[K] {
	return func(a, b K) int { return cmp.Compare(a, b) }
}

// KeyCodec converts keys to and from their fixed-width on-page encoding.
// Size bytes are reserved per key slot; Encode must fill exactly that many.
type KeyCodec[K any] struct {
	Size   int
	Encode func(key K, buf []byte)
	Decode func(buf []byte) K
}

// Int64Codec stores int64 keys as 8 little-endian bytes.
var Int64Codec = KeyCodec[int64]{
	Size: 8,
	Encode: func(key int64, buf []byte) {
		binary.LittleEndian.PutUint64(buf, uint64(key))
	},
	Decode: func(buf []byte) int64 {
		return int64(binary.LittleEndian.Uint64(buf))
	},
}

// FixedStringCodec stores string keys zero-padded to width bytes. Keys
// longer than width are truncated; comparisons happen on the decoded
// (trimmed) form.
func FixedStringCodec(width int) KeyCodec[string] {
	return KeyCodec[string]{
		Size: width,
		Encode: func(key string, buf []byte) {
			n := copy(buf[:width], key)
			for i := n; i < width; i++ {
				buf[i] = 0
			}
		},
		Decode: func(buf []byte) string {
			return string(bytes.TrimRight(buf[:width], "\x00"))
		},
	}
}
