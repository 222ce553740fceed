package preprocess

import (
	"crypto/md5"
	"encoding/binary"
	"math/bits"
)

// hammingThreshold is the maximum Hamming distance at which two 64-bit
// fingerprints are considered duplicates.
const hammingThreshold = 3

// SimHash deduplicates by 64-bit simhash fingerprints: each token hashes to
// 64 bits, every bit votes ±1 on its position, and the sign of each position
// forms the fingerprint.
type SimHash struct{}

func NewSimHash() *SimHash { return &SimHash{} }

func (s *SimHash) Name() string { return "simhash" }

func (s *SimHash) Normalize(text string) string { return normalize(text) }

func (s *SimHash) Dedupe(texts []string) []string {
	var kept []string
	var prints []uint64
	for _, text := range texts {
		fp := s.Fingerprint(text)
		dup := false
		for _, seen := range prints {
			if hamming(fp, seen) <= hammingThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, text)
		prints = append(prints, fp)
	}
	return kept
}

// Fingerprint computes the 64-bit simhash of a text.
func (s *SimHash) Fingerprint(text string) uint64 {
	var weights [64]int
	for _, token := range tokenize(normalize(text)) {
		h := tokenHash64(token)
		for i := 0; i < 64; i++ {
			if h>>i&1 == 1 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if weights[i] > 0 {
			fp |= 1 << i
		}
	}
	return fp
}

// tokenHash64 is the low 64 bits of the token's md5 digest.
func tokenHash64(token string) uint64 {
	sum := md5.Sum([]byte(token))
	return binary.BigEndian.Uint64(sum[8:])
}

func hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
