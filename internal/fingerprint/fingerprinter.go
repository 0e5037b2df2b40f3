package fingerprint

import (
	"github.com/newsclust/newsclust/pkg/types"
)

// Fingerprinter computes the SimHash, MinHash signature, and LSH band keys
// for an article body, using a fixed shingle size so that fingerprints
// remain comparable across articles ingested at different times.
type Fingerprinter struct {
	shingleSize int
	simhashBits int
	minHasher   *MinHasher
	lshBands    int
	lshRows     int
}

// Option configures a Fingerprinter.
type Option func(*Fingerprinter)

// WithShingleSize overrides the default 5-character shingle size.
func WithShingleSize(n int) Option {
	return func(f *Fingerprinter) {
		if n > 0 {
			f.shingleSize = n
		}
	}
}

// WithSimHashBits overrides the default 64-bit SimHash width.
func WithSimHashBits(bits int) Option {
	return func(f *Fingerprinter) {
		if bits > 0 {
			f.simhashBits = bits
		}
	}
}

// New creates a Fingerprinter with numHashes MinHash permutations banded
// into `bands` groups of `rows` consecutive slots.
func New(numHashes, bands, rows int, opts ...Option) *Fingerprinter {
	f := &Fingerprinter{
		shingleSize: 5,
		simhashBits: 64,
		minHasher:   NewMinHasher(numHashes),
		lshBands:    bands,
		lshRows:     rows,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compute derives the full Fingerprint for an article body.
func (f *Fingerprinter) Compute(articleID, body string) types.Fingerprint {
	shingles := Shingles(body, f.shingleSize)
	simHash := ComputeSimHash(shingles, f.simhashBits)
	minHash := f.minHasher.Signature(shingles)
	bands := BandKeys(minHash, f.lshBands, f.lshRows)

	return types.Fingerprint{
		ArticleID: articleID,
		SimHash:   simHash,
		MinHash:   minHash,
		LSHBands:  bands,
	}
}

// ShingleSetFor returns the exact shingle set for an article body, used by
// the verifier for true Jaccard computation (as opposed to the MinHash
// estimate used during recall scoring).
func (f *Fingerprinter) ShingleSetFor(body string) map[string]struct{} {
	return ShingleSet(body, f.shingleSize)
}
