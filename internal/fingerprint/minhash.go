package fingerprint

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/newsclust/newsclust/pkg/types"
)

// MinHasher produces MinHash signatures with a fixed, seed-derived family of
// hash functions so that signatures remain stable across process restarts.
type MinHasher struct {
	numHashes int
	seeds     []uint64
}

// NewMinHasher builds a MinHasher with numHashes independent permutations,
// seeded 0..numHashes-1 so the same MinHasher always produces the same
// signature for the same input, with no per-process randomness.
func NewMinHasher(numHashes int) *MinHasher {
	if numHashes <= 0 {
		numHashes = 128
	}
	seeds := make([]uint64, numHashes)
	for i := range seeds {
		seeds[i] = uint64(i)
	}
	return &MinHasher{numHashes: numHashes, seeds: seeds}
}

func (m *MinHasher) hash(seed uint64, data []byte) uint64 {
	h := fnv.New64a()
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	h.Write(seedBytes[:])
	h.Write(data)
	return h.Sum64()
}

// Signature computes the MinHash signature of a shingle set.
func (m *MinHasher) Signature(shingles []string) types.MinHashSignature {
	sig := make(types.MinHashSignature, m.numHashes)
	for i := range sig {
		sig[i] = math.MaxUint64
	}

	for _, s := range shingles {
		data := []byte(s)
		for i, seed := range m.seeds {
			h := m.hash(seed, data)
			if h < sig[i] {
				sig[i] = h
			}
		}
	}

	return sig
}

// EstimateJaccard estimates Jaccard similarity from the fraction of
// matching signature slots between two signatures of equal length.
func EstimateJaccard(a, b types.MinHashSignature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// Centroid computes the elementwise-minimum MinHash signature across a set
// of member signatures. The centroid of a single-member cluster is that
// member's own signature.
func Centroid(signatures []types.MinHashSignature) types.MinHashSignature {
	if len(signatures) == 0 {
		return nil
	}
	n := len(signatures[0])
	centroid := make(types.MinHashSignature, n)
	copy(centroid, signatures[0])

	for _, sig := range signatures[1:] {
		for i := 0; i < n && i < len(sig); i++ {
			if sig[i] < centroid[i] {
				centroid[i] = sig[i]
			}
		}
	}
	return centroid
}
