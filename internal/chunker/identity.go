package chunker

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Identity computes the stable chunk identity string for a chunk's bytes:
// "h:" followed by the lowercase base36 encoding of the 64-bit xxHash (seed
// 0) of the chunk's bytes with a "-<decimal byte length>" suffix appended
// before hashing. Identity depends only on the bytes passed in; there is no
// file-scoped salt, so two chunks with identical bytes always get the same
// identity regardless of which file they came from.
func Identity(data []byte) string {
	suffix := "-" + strconv.Itoa(len(data))

	combined := make([]byte, 0, len(data)+len(suffix))
	combined = append(combined, data...)
	combined = append(combined, suffix...)

	sum := xxhash.Sum64(combined)
	return "h:" + strconv.FormatUint(sum, 36)
}
