package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"corpusdedup/types"
)

// Fingerprint digests the parameters that change the exact stage's output
func (c ExactConfig) Fingerprint() string {
	return digest(struct {
		HashMethod     string `json:"hash_method"`
		PerformRemoval bool   `json:"perform_removal"`
	}{c.HashMethod, c.PerformRemoval})
}

// Fingerprint digests the parameters that change the fuzzy stage's output.
// The cache directory is a location, not a parameter, and is excluded.
func (c FuzzyConfig) Fingerprint() string {
	p := c
	p.CacheDir = ""
	return digest(p)
}

// Fingerprint digests the parameters that change the semantic stage's output.
// Batch size, memory cap and rate limit only affect throughput and are excluded.
func (c SemanticConfig) Fingerprint() string {
	p := c
	p.CacheDir = ""
	p.EmbeddingBatchSize = 0
	p.EmbeddingMaxMem = 0
	p.EmbeddingRateLimit = 0
	return digest(p)
}

// StageFingerprint returns the configuration fingerprint of one stage
func (c Config) StageFingerprint(stage types.Stage) string {
	switch stage {
	case types.StageExact:
		return c.Exact.Fingerprint()
	case types.StageFuzzy:
		return c.Fuzzy.Fingerprint()
	case types.StageSemantic:
		return c.Semantic.Fingerprint()
	}
	return ""
}

// StageEnabled reports whether a stage does any work in this configuration
func (c Config) StageEnabled(stage types.Stage) bool {
	switch stage {
	case types.StageExact:
		return true
	case types.StageFuzzy:
		return c.Fuzzy.Enabled
	case types.StageSemantic:
		return c.Semantic.Enabled
	}
	return false
}

func digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// all fingerprinted structs are plain values
		panic(err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
