// Package preprocess normalizes parsed texts and removes near-duplicates
// before extraction. Two fingerprinting strategies are available: simhash
// (default, Hamming distance over 64-bit fingerprints) and minhash
// (Jaccard estimate over 128 permutations).
package preprocess

import (
	"fmt"
	"strings"
	"unicode"
)

// Strategy normalizes a single text and deduplicates a batch.
type Strategy interface {
	Name() string
	Normalize(text string) string
	Dedupe(texts []string) []string
}

// New returns the strategy registered under name. Empty name selects simhash.
func New(name string) (Strategy, error) {
	switch name {
	case "", "simhash":
		return NewSimHash(), nil
	case "minhash":
		return NewMinHash(), nil
	}
	return nil, fmt.Errorf("preprocess: unknown strategy %q", name)
}

// normalize lowercases and collapses whitespace. Fingerprints are computed
// over this form so cosmetic differences do not defeat deduplication.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// tokenize splits a normalized text into fingerprint tokens: runs of
// letters/digits stay whole, each CJK character is its own token.
func tokenize(text string) []string {
	var tokens []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Han):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
