package config

import "time"

// Exact stage defaults
const (
	// DefaultHashMethod is a 128-bit digest; collisions are an accepted residual risk
	DefaultHashMethod = "md5"

	// DefaultExactCacheDir holds exact stage checkpoints
	DefaultExactCacheDir = "dedup_cache/exact"
)

// Fuzzy stage defaults
const (
	DefaultCharNgrams       = 24
	DefaultNumBuckets       = 20
	DefaultHashesPerBucket  = 13
	DefaultJaccardThreshold = 0.8
	DefaultNumAnchors       = 2
	DefaultMinHashSeed      = 42

	DefaultFuzzyCacheDir = "dedup_cache/fuzzy"
)

// Semantic stage defaults
const (
	DefaultEmbeddingProvider  = "hashing"
	DefaultEmbeddingModel     = "hashing-ngram-256"
	DefaultEmbeddingDim       = 256
	DefaultEmbeddingBatchSize = 128

	// DefaultEmbeddingMaxMem caps the estimated footprint of one embedding batch (bytes)
	DefaultEmbeddingMaxMem int64 = 256 << 20

	DefaultPoolingStrategy = PoolingMean
	DefaultNClusters       = 1000
	DefaultMaxIter         = 100
	DefaultRandomState     = 1234
	DefaultEpsToExtract    = 0.08
	DefaultSimMetric       = MetricCosine
	DefaultWhichToKeep     = KeepHard

	DefaultSemanticCacheDir = "dedup_cache/semantic"
)

// Pipeline defaults
const (
	DefaultOutputDir = "dedup_output"
	DefaultIDPrefix  = "doc"

	// DefaultWorkerMemory is the per-worker memory budget (bytes)
	DefaultWorkerMemory int64 = 512 << 20

	DefaultMaxStageRetries   = 2
	DefaultMaxBackoffRetries = 4
)

// Service defaults
const (
	DefaultServerPort   = "8080"
	DefaultCronSchedule = ""
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "corpusdedup"
	DefaultRedisTTL     = 7 * 24 * time.Hour
	DefaultKafkaTopic   = "corpusdedup.audit"
)

// Enumerated option values
const (
	HashMD5    = "md5"
	HashSHA256 = "sha256"

	PoolingMean      = "mean"
	PoolingLastToken = "last_token"

	MetricCosine = "cosine"
	MetricL2     = "l2"

	KeepHard   = "hard"
	KeepEasy   = "easy"
	KeepRandom = "random"

	ProviderHashing = "hashing"
	ProviderCohere  = "cohere"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
)
