package deduplication

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"math/bits"
	"math/rand/v2"
	"unicode/utf8"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/cespare/xxhash/v2"
)

// mersennePrime is 2^61 - 1, the modulus of the universal hash family
const mersennePrime uint64 = (1 << 61) - 1

// ComputeHash returns the hex digest of the normalized text using the named method
func ComputeHash(text, method string) (string, error) {
	var h hash.Hash
	switch method {
	case config.HashMD5, "":
		h = md5.New()
	case config.HashSHA256:
		h = sha256.New()
	default:
		return "", fmt.Errorf("%w: unsupported hash method %q", types.ErrConfig, method)
	}
	h.Write([]byte(NormalizeText(text)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MinHashSignature is an ordered sequence of per-permutation minimum hash values
type MinHashSignature []uint64

// Band returns the i-th contiguous slice of width rows
func (s MinHashSignature) Band(i, rows int) []uint64 {
	return s[i*rows : (i+1)*rows]
}

// MinHasher computes MinHash signatures with k seeded permutations
// h_i(x) = (a_i*x + b_i) mod (2^61 - 1) applied to a 64-bit shingle hash.
// A MinHasher is immutable and safe for concurrent use.
type MinHasher struct {
	ngram int
	a, b  []uint64
}

// NewMinHasher builds k permutations drawn from a PCG stream seeded with seed
func NewMinHasher(charNgrams, k int, seed uint64) *MinHasher {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m := &MinHasher{
		ngram: charNgrams,
		a:     make([]uint64, k),
		b:     make([]uint64, k),
	}
	for i := 0; i < k; i++ {
		m.a[i] = 1 + rng.Uint64N(mersennePrime-1)
		m.b[i] = rng.Uint64N(mersennePrime)
	}
	return m
}

// NumHashes returns the signature length
func (m *MinHasher) NumHashes() int { return len(m.a) }

// Signature computes the MinHash signature of text. Text shorter than the n-gram
// size yields a single whole-text shingle; empty text yields an all-max signature.
func (m *MinHasher) Signature(text string) MinHashSignature {
	sig := make(MinHashSignature, len(m.a))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	forEachShingle(text, m.ngram, func(h uint64) {
		x := h % mersennePrime
		for i := range sig {
			hi, lo := bits.Mul64(m.a[i], x)
			lo, carry := bits.Add64(lo, m.b[i], 0)
			if v := bits.Rem64(hi+carry, lo, mersennePrime); v < sig[i] {
				sig[i] = v
			}
		}
	})
	return sig
}

// ComputeMinHash is a one-shot helper over NewMinHasher
func ComputeMinHash(text string, charNgrams, k int, seed uint64) MinHashSignature {
	return NewMinHasher(charNgrams, k, seed).Signature(text)
}

// ShingleSet is the set of hashed character n-grams of a document
type ShingleSet map[uint64]struct{}

// Shingles returns the hashed character n-gram set of text
func Shingles(text string, charNgrams int) ShingleSet {
	set := make(ShingleSet)
	forEachShingle(text, charNgrams, func(h uint64) {
		set[h] = struct{}{}
	})
	return set
}

// forEachShingle calls fn with the xxhash of every overlapping rune n-gram of text
func forEachShingle(text string, n int, fn func(uint64)) {
	if text == "" {
		return
	}
	// byte offset of every rune start plus the end of the string
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	runes := len(offsets) - 1
	if n <= 0 || runes < n {
		fn(xxhash.Sum64String(text))
		return
	}
	for i := 0; i+n <= runes; i++ {
		fn(xxhash.Sum64String(text[offsets[i]:offsets[i+n]]))
	}
}
