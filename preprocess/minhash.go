package preprocess

import (
	"crypto/md5"
	"math/bits"
	"math/rand"
)

const (
	// numPermutations is the MinHash signature length.
	numPermutations = 128

	// hashPrime bounds the permutation arithmetic. 10^18 keeps intermediate
	// products inside 128-bit multiply range.
	hashPrime uint64 = 1_000_000_000_000_000_000

	// jaccardThreshold is the estimated-similarity level at which two texts
	// are considered duplicates.
	jaccardThreshold = 0.7

	// permutationSeed pins the random permutations so signatures are stable
	// across runs.
	permutationSeed = 42
)

// MinHash deduplicates by MinHash signatures: 128 random linear permutations
// over token hashes; the fraction of matching signature slots estimates
// Jaccard similarity of the token sets.
type MinHash struct {
	a [numPermutations]uint64
	b [numPermutations]uint64
}

func NewMinHash() *MinHash {
	m := &MinHash{}
	rng := rand.New(rand.NewSource(permutationSeed))
	for i := 0; i < numPermutations; i++ {
		m.a[i] = uint64(rng.Int63n(1_000_000)) + 1
		m.b[i] = uint64(rng.Int63n(1_000_000))
	}
	return m
}

func (m *MinHash) Name() string { return "minhash" }

func (m *MinHash) Normalize(text string) string { return normalize(text) }

func (m *MinHash) Dedupe(texts []string) []string {
	var kept []string
	var sigs [][numPermutations]uint64
	for _, text := range texts {
		sig := m.Signature(text)
		dup := false
		for _, seen := range sigs {
			if estimateJaccard(sig, seen) >= jaccardThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, text)
		sigs = append(sigs, sig)
	}
	return kept
}

// Signature computes the MinHash signature of a text. An empty token set
// yields the all-max signature, which never matches a non-empty one.
func (m *MinHash) Signature(text string) [numPermutations]uint64 {
	var sig [numPermutations]uint64
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	for _, token := range tokenize(normalize(text)) {
		h := tokenHashMod(token)
		for i := 0; i < numPermutations; i++ {
			v := addMod(mulMod(m.a[i], h, hashPrime), m.b[i], hashPrime)
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func estimateJaccard(a, b [numPermutations]uint64) float64 {
	match := 0
	for i := 0; i < numPermutations; i++ {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / numPermutations
}

// tokenHashMod maps the token's md5 digest onto [0, hashPrime).
func tokenHashMod(token string) uint64 {
	sum := md5.Sum([]byte(token))
	var h uint64
	for _, c := range sum {
		h = addMod(mulMod(h, 256, hashPrime), uint64(c), hashPrime)
	}
	return h
}

// mulMod computes (a*b) mod m without overflow via 128-bit multiply.
func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi%m, lo, m)
	return rem
}

func addMod(a, b, m uint64) uint64 {
	return (a%m + b%m) % m
}
