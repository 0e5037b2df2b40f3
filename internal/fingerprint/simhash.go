package fingerprint

import (
	"hash/fnv"

	"github.com/newsclust/newsclust/pkg/types"
)

// ComputeSimHash builds a weighted-feature SimHash over a shingle set: each
// shingle votes +1/-1 on every bit of its FNV-1a hash, and the final
// fingerprint bit is set wherever the vote total is non-negative.
func ComputeSimHash(shingles []string, bits int) types.SimHash {
	if bits <= 0 {
		bits = 64
	}

	votes := make([]int, bits)
	for _, shingle := range shingles {
		h := fnv.New64a()
		h.Write([]byte(shingle))
		hash := h.Sum64()

		for i := 0; i < bits; i++ {
			if (hash>>uint(i))&1 == 1 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < bits; i++ {
		if votes[i] >= 0 {
			fp |= 1 << uint(i)
		}
	}

	return types.SimHash(fp)
}
