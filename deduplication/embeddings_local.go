package deduplication

import (
	"context"
	"strings"
	"unicode"

	"corpusdedup/config"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/floats"
)

// HashingEmbeddings is a local token-level embedder. Every word token is projected
// into dim buckets by signed feature hashing of its character trigrams; the token
// vectors are then pooled (mean or last token) and L2-normalized. It needs no
// network access and is fully deterministic.
type HashingEmbeddings struct {
	dim     int
	pooling string
	model   string
}

// NewHashingEmbeddings returns a hashing embedder of the given dimension and pooling
func NewHashingEmbeddings(dim int, pooling, model string) *HashingEmbeddings {
	if dim <= 0 {
		dim = config.DefaultEmbeddingDim
	}
	if pooling == "" {
		pooling = config.PoolingMean
	}
	if model == "" {
		model = config.DefaultEmbeddingModel
	}
	return &HashingEmbeddings{dim: dim, pooling: pooling, model: model}
}

func (h *HashingEmbeddings) ModelName() string { return h.model }

// Dim returns the vector dimension
func (h *HashingEmbeddings) Dim() int { return h.dim }

func (h *HashingEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashingEmbeddings) embed(text string) []float32 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	pooled := make([]float64, h.dim)
	switch {
	case len(tokens) == 0:
	case h.pooling == config.PoolingLastToken:
		h.addToken(pooled, tokens[len(tokens)-1])
	default:
		for _, tok := range tokens {
			h.addToken(pooled, tok)
		}
		floats.Scale(1/float64(len(tokens)), pooled)
	}

	if norm := floats.Norm(pooled, 2); norm > 0 {
		floats.Scale(1/norm, pooled)
	}
	vec := make([]float32, h.dim)
	for i, v := range pooled {
		vec[i] = float32(v)
	}
	return vec
}

// addToken accumulates the hashed trigram vector of one token into dst
func (h *HashingEmbeddings) addToken(dst []float64, token string) {
	padded := []rune("<" + token + ">")
	for i := 0; i+3 <= len(padded); i++ {
		v := xxhash.Sum64String(string(padded[i : i+3]))
		sign := 1.0
		if v>>63 == 1 {
			sign = -1.0
		}
		dst[v%uint64(h.dim)] += sign
	}
}
