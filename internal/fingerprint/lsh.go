package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"

	"github.com/newsclust/newsclust/pkg/types"
)

// BandKeys splits a MinHash signature into disjoint bands of `rows`
// consecutive slots, hashing each band's values into a single string key
// suitable for exact-match lookup in the Index Gateway. Any trailing slots
// that don't fill a complete band (e.g. the final 8 of 128 slots under the
// default 20x6 banding) are discarded rather than padded, matching the
// banding scheme fixed in the design notes.
func BandKeys(sig types.MinHashSignature, bands, rows int) []string {
	keys := make([]string, 0, bands)
	for b := 0; b < bands; b++ {
		start := b * rows
		end := start + rows
		if end > len(sig) {
			break
		}
		keys = append(keys, hashBand(sig[start:end]))
	}
	return keys
}

func hashBand(band types.MinHashSignature) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range band {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
