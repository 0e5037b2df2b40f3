// Package fingerprint computes SimHash, MinHash, and LSH band fingerprints
// for article bodies, the similarity primitives the rest of the service is
// built on.
package fingerprint

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize lowercases text and collapses runs of whitespace, so that two
// articles differing only in formatting produce the same shingle set.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Shingles splits normalized text into overlapping character n-grams of the
// given size. A shingle size of 5 is the default used throughout the
// service.
func Shingles(text string, size int) []string {
	norm := Normalize(text)
	if size <= 0 {
		size = 5
	}
	runes := []rune(norm)
	if len(runes) < size {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}

	shingles := make([]string, 0, len(runes)-size+1)
	for i := 0; i <= len(runes)-size; i++ {
		shingles = append(shingles, string(runes[i:i+size]))
	}
	return shingles
}

// ShingleSet returns the distinct shingles of text as a set, used for exact
// Jaccard verification.
func ShingleSet(text string, size int) map[string]struct{} {
	shingles := Shingles(text, size)
	set := make(map[string]struct{}, len(shingles))
	for _, s := range shingles {
		set[s] = struct{}{}
	}
	return set
}

// Jaccard computes the exact Jaccard similarity between two shingle sets.
// An empty or singleton set on either side never matches (spec.md §4.4
// numeric semantics), since a single shingle carries no reliable overlap
// signal.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) <= 1 || len(b) <= 1 {
		return 0.0
	}

	small, large := a, b
	if len(a) > len(b) {
		small, large = b, a
	}

	intersection := 0
	for s := range small {
		if _, ok := large[s]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
