package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"corpusdedup/types"
)

// ExactConfig configures the exact (content hash) stage
type ExactConfig struct {
	// HashMethod selects the digest algorithm: "md5" (128-bit) or "sha256".
	HashMethod string `yaml:"hash_method" toml:"hash_method" json:"hash_method"`

	// CacheDir holds the committed checkpoint of this stage.
	CacheDir string `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`

	// PerformRemoval drops duplicates from the survivor set when true.
	// When false, duplicate ids are only reported.
	PerformRemoval bool `yaml:"perform_removal" toml:"perform_removal" json:"perform_removal"`
}

// FuzzyConfig configures the MinHash + LSH stage.
//
// Recall/precision tradeoff: a pair with true Jaccard similarity s becomes a
// candidate with probability 1 - (1 - s^r)^b where r = HashesPerBucket and
// b = NumBuckets. More buckets raise recall (and false positives); more hashes per
// bucket sharpen the curve around its threshold (and lower recall).
type FuzzyConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	// CharNgrams is the character shingle length.
	CharNgrams int `yaml:"char_ngrams" toml:"char_ngrams" json:"char_ngrams"`

	// NumBuckets is the number of LSH bands.
	NumBuckets int `yaml:"num_buckets" toml:"num_buckets" json:"num_buckets"`

	// HashesPerBucket is the number of MinHash values per band.
	HashesPerBucket int `yaml:"hashes_per_bucket" toml:"hashes_per_bucket" json:"hashes_per_bucket"`

	// JaccardThreshold is inclusive: similarity >= threshold is a duplicate.
	JaccardThreshold float64 `yaml:"jaccard_threshold" toml:"jaccard_threshold" json:"jaccard_threshold"`

	// FalsePositiveCheck re-verifies LSH groups with exact Jaccard against anchors.
	FalsePositiveCheck bool `yaml:"false_positive_check" toml:"false_positive_check" json:"false_positive_check"`

	// NumAnchors is the number of anchor documents per group.
	NumAnchors int `yaml:"num_anchors" toml:"num_anchors" json:"num_anchors"`

	// Seed drives the MinHash permutations.
	Seed uint64 `yaml:"seed" toml:"seed" json:"seed"`

	CacheDir       string `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`
	PerformRemoval bool   `yaml:"perform_removal" toml:"perform_removal" json:"perform_removal"`
}

// NumHashes returns the MinHash signature length
func (c FuzzyConfig) NumHashes() int { return c.NumBuckets * c.HashesPerBucket }

// SemanticConfig configures the embedding + clustering stage
type SemanticConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	// EmbeddingProvider is one of "hashing", "cohere", "openai", "gemini".
	EmbeddingProvider string `yaml:"embedding_provider" toml:"embedding_provider" json:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model" toml:"embedding_model" json:"embedding_model"`

	// EmbeddingDim is the output dimension of the local hashing embedder.
	EmbeddingDim int `yaml:"embedding_dim" toml:"embedding_dim" json:"embedding_dim"`

	EmbeddingBatchSize int `yaml:"embedding_batch_size" toml:"embedding_batch_size" json:"embedding_batch_size"`

	// EmbeddingMaxMem bounds the estimated footprint of one batch in bytes.
	EmbeddingMaxMem int64 `yaml:"embedding_max_mem" toml:"embedding_max_mem" json:"embedding_max_mem"`

	// EmbeddingRateLimit caps provider requests per second; 0 disables limiting.
	EmbeddingRateLimit float64 `yaml:"embedding_rate_limit" toml:"embedding_rate_limit" json:"embedding_rate_limit"`

	// PoolingStrategy is "mean" or "last_token".
	PoolingStrategy string `yaml:"pooling_strategy" toml:"pooling_strategy" json:"pooling_strategy"`

	NClusters   int   `yaml:"n_clusters" toml:"n_clusters" json:"n_clusters"`
	MaxIter     int   `yaml:"max_iter" toml:"max_iter" json:"max_iter"`
	RandomState int64 `yaml:"random_state" toml:"random_state" json:"random_state"`

	// EpsToExtract: cosine joins when similarity >= 1-eps, l2 joins when distance <= eps.
	EpsToExtract float64 `yaml:"eps_to_extract" toml:"eps_to_extract" json:"eps_to_extract"`

	// SimMetric is "cosine" or "l2".
	SimMetric string `yaml:"sim_metric" toml:"sim_metric" json:"sim_metric"`

	// WhichToKeep is "hard" (furthest from centroid), "easy" (closest) or "random".
	WhichToKeep string `yaml:"which_to_keep" toml:"which_to_keep" json:"which_to_keep"`

	CacheDir       string `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`
	PerformRemoval bool   `yaml:"perform_removal" toml:"perform_removal" json:"perform_removal"`
}

// S3Config mirrors committed checkpoints to an S3 bucket. Disabled when Bucket is empty.
type S3Config struct {
	Bucket       string `yaml:"bucket" toml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" toml:"prefix" json:"prefix"`
	Region       string `yaml:"region" toml:"region" json:"region"`
	Profile      string `yaml:"profile" toml:"profile" json:"profile"`
	UsePathStyle bool   `yaml:"use_path_style" toml:"use_path_style" json:"use_path_style"`
}

// RedisConfig mirrors removal sets into Redis. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string        `yaml:"addr" toml:"addr" json:"addr"`
	Password string        `yaml:"password" toml:"password" json:"-"`
	DB       int           `yaml:"db" toml:"db" json:"db"`
	Prefix   string        `yaml:"prefix" toml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl" json:"ttl"`
}

// KafkaConfig publishes audit events. Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" toml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic" json:"topic"`
}

// AuditConfig controls the SQLite audit database and the xlsx report
type AuditConfig struct {
	DBPath     string `yaml:"db_path" toml:"db_path" json:"db_path"`
	ReportPath string `yaml:"report_path" toml:"report_path" json:"report_path"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Port         string `yaml:"port" toml:"port" json:"port"`
	CronSchedule string `yaml:"cron_schedule" toml:"cron_schedule" json:"cron_schedule"`
}

// Config is the complete pipeline configuration.
// Construct with DefaultConfig, overlay a file with Load and the environment
// with ApplyEnv, then call Validate once before running any stage.
type Config struct {
	Input     string `yaml:"input" toml:"input" json:"input"`
	OutputDir string `yaml:"output_dir" toml:"output_dir" json:"output_dir"`
	IDPrefix  string `yaml:"id_prefix" toml:"id_prefix" json:"id_prefix"`

	// ClearCache removes every stage checkpoint before the run.
	ClearCache bool `yaml:"clear_cache" toml:"clear_cache" json:"clear_cache"`

	// Workers is the number of partitions processed concurrently.
	Workers int `yaml:"workers" toml:"workers" json:"workers"`

	// WorkerMemory is the per-worker memory budget in bytes.
	WorkerMemory int64 `yaml:"worker_memory" toml:"worker_memory" json:"worker_memory"`

	MaxStageRetries   int `yaml:"max_stage_retries" toml:"max_stage_retries" json:"max_stage_retries"`
	MaxBackoffRetries int `yaml:"max_backoff_retries" toml:"max_backoff_retries" json:"max_backoff_retries"`

	Exact    ExactConfig    `yaml:"exact" toml:"exact" json:"exact"`
	Fuzzy    FuzzyConfig    `yaml:"fuzzy" toml:"fuzzy" json:"fuzzy"`
	Semantic SemanticConfig `yaml:"semantic" toml:"semantic" json:"semantic"`

	S3     S3Config     `yaml:"s3" toml:"s3" json:"s3"`
	Redis  RedisConfig  `yaml:"redis" toml:"redis" json:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka" toml:"kafka" json:"kafka"`
	Audit  AuditConfig  `yaml:"audit" toml:"audit" json:"audit"`
	Server ServerConfig `yaml:"server" toml:"server" json:"server"`
}

// DefaultConfig returns the default pipeline configuration.
//
// The fuzzy and semantic defaults follow the production profile the pipeline was
// tuned on; they are experiment parameters and are expected to be overridden per run.
func DefaultConfig() Config {
	return Config{
		OutputDir:         DefaultOutputDir,
		IDPrefix:          DefaultIDPrefix,
		Workers:           4,
		WorkerMemory:      DefaultWorkerMemory,
		MaxStageRetries:   DefaultMaxStageRetries,
		MaxBackoffRetries: DefaultMaxBackoffRetries,
		Exact: ExactConfig{
			HashMethod:     DefaultHashMethod,
			CacheDir:       DefaultExactCacheDir,
			PerformRemoval: true,
		},
		Fuzzy: FuzzyConfig{
			Enabled:            true,
			CharNgrams:         DefaultCharNgrams,
			NumBuckets:         DefaultNumBuckets,
			HashesPerBucket:    DefaultHashesPerBucket,
			JaccardThreshold:   DefaultJaccardThreshold,
			FalsePositiveCheck: true,
			NumAnchors:         DefaultNumAnchors,
			Seed:               DefaultMinHashSeed,
			CacheDir:           DefaultFuzzyCacheDir,
			PerformRemoval:     true,
		},
		Semantic: SemanticConfig{
			Enabled:            true,
			EmbeddingProvider:  DefaultEmbeddingProvider,
			EmbeddingModel:     DefaultEmbeddingModel,
			EmbeddingDim:       DefaultEmbeddingDim,
			EmbeddingBatchSize: DefaultEmbeddingBatchSize,
			EmbeddingMaxMem:    DefaultEmbeddingMaxMem,
			PoolingStrategy:    DefaultPoolingStrategy,
			NClusters:          DefaultNClusters,
			MaxIter:            DefaultMaxIter,
			RandomState:        DefaultRandomState,
			EpsToExtract:       DefaultEpsToExtract,
			SimMetric:          DefaultSimMetric,
			WhichToKeep:        DefaultWhichToKeep,
			CacheDir:           DefaultSemanticCacheDir,
			PerformRemoval:     true,
		},
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
			TTL:    DefaultRedisTTL,
		},
		Kafka: KafkaConfig{
			Topic: DefaultKafkaTopic,
		},
		Server: ServerConfig{
			Port:         DefaultServerPort,
			CronSchedule: DefaultCronSchedule,
		},
	}
}

// Validate checks every stage and returns all problems at once, wrapped in types.ErrConfig
func (c Config) Validate() error {
	var problems []error
	if c.Workers <= 0 {
		problems = append(problems, fmt.Errorf("workers must be positive (got %d)", c.Workers))
	}
	if c.WorkerMemory <= 0 {
		problems = append(problems, fmt.Errorf("worker_memory must be positive (got %d)", c.WorkerMemory))
	}
	if c.MaxStageRetries < 0 {
		problems = append(problems, fmt.Errorf("max_stage_retries cannot be negative (got %d)", c.MaxStageRetries))
	}
	if c.MaxBackoffRetries < 0 {
		problems = append(problems, fmt.Errorf("max_backoff_retries cannot be negative (got %d)", c.MaxBackoffRetries))
	}
	if c.OutputDir == "" {
		problems = append(problems, errors.New("output_dir is required"))
	}
	problems = append(problems, c.Exact.validate()...)
	if c.Fuzzy.Enabled {
		problems = append(problems, c.Fuzzy.validate()...)
	}
	if c.Semantic.Enabled {
		problems = append(problems, c.Semantic.validate()...)
		if c.Semantic.EmbeddingMaxMem > c.WorkerMemory {
			problems = append(problems, fmt.Errorf("semantic.embedding_max_mem (%d) exceeds worker_memory (%d)",
				c.Semantic.EmbeddingMaxMem, c.WorkerMemory))
		}
	}
	seen := make(map[string]types.Stage, len(types.Stages))
	for _, stage := range types.Stages {
		dir := filepath.Clean(c.CacheDir(stage))
		if other, ok := seen[dir]; ok && c.CacheDir(stage) != "" {
			problems = append(problems, fmt.Errorf("%s.cache_dir and %s.cache_dir must differ (both %q)", other, stage, dir))
		}
		seen[dir] = stage
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", types.ErrConfig, errors.Join(problems...))
}

func (c ExactConfig) validate() []error {
	var problems []error
	switch c.HashMethod {
	case HashMD5, HashSHA256:
	default:
		problems = append(problems, fmt.Errorf("exact.hash_method must be %q or %q (got %q)", HashMD5, HashSHA256, c.HashMethod))
	}
	if c.CacheDir == "" {
		problems = append(problems, errors.New("exact.cache_dir is required"))
	}
	return problems
}

func (c FuzzyConfig) validate() []error {
	var problems []error
	if c.CharNgrams <= 0 {
		problems = append(problems, fmt.Errorf("fuzzy.char_ngrams must be positive (got %d)", c.CharNgrams))
	}
	if c.NumBuckets <= 0 {
		problems = append(problems, fmt.Errorf("fuzzy.num_buckets must be positive (got %d)", c.NumBuckets))
	}
	if c.HashesPerBucket <= 0 {
		problems = append(problems, fmt.Errorf("fuzzy.hashes_per_bucket must be positive (got %d)", c.HashesPerBucket))
	}
	if c.JaccardThreshold < 0.0 || c.JaccardThreshold > 1.0 {
		problems = append(problems, fmt.Errorf("fuzzy.jaccard_threshold must be between 0.0 and 1.0 (got %.2f)", c.JaccardThreshold))
	}
	if c.FalsePositiveCheck && c.NumAnchors <= 0 {
		problems = append(problems, fmt.Errorf("fuzzy.num_anchors must be positive when false_positive_check is on (got %d)", c.NumAnchors))
	}
	if c.CacheDir == "" {
		problems = append(problems, errors.New("fuzzy.cache_dir is required"))
	}
	return problems
}

func (c SemanticConfig) validate() []error {
	var problems []error
	switch c.EmbeddingProvider {
	case ProviderHashing, ProviderCohere, ProviderOpenAI, ProviderGemini:
	default:
		problems = append(problems, fmt.Errorf("semantic.embedding_provider is unknown (got %q)", c.EmbeddingProvider))
	}
	if c.EmbeddingProvider == ProviderHashing && c.EmbeddingDim <= 0 {
		problems = append(problems, fmt.Errorf("semantic.embedding_dim must be positive (got %d)", c.EmbeddingDim))
	}
	if c.EmbeddingBatchSize <= 0 {
		problems = append(problems, fmt.Errorf("semantic.embedding_batch_size must be positive (got %d)", c.EmbeddingBatchSize))
	}
	if c.EmbeddingMaxMem <= 0 {
		problems = append(problems, fmt.Errorf("semantic.embedding_max_mem must be positive (got %d)", c.EmbeddingMaxMem))
	}
	if c.EmbeddingRateLimit < 0 {
		problems = append(problems, fmt.Errorf("semantic.embedding_rate_limit cannot be negative (got %.2f)", c.EmbeddingRateLimit))
	}
	switch c.PoolingStrategy {
	case PoolingMean, PoolingLastToken:
	default:
		problems = append(problems, fmt.Errorf("semantic.pooling_strategy must be %q or %q (got %q)", PoolingMean, PoolingLastToken, c.PoolingStrategy))
	}
	if c.NClusters <= 0 {
		problems = append(problems, fmt.Errorf("semantic.n_clusters must be positive (got %d)", c.NClusters))
	}
	if c.MaxIter <= 0 {
		problems = append(problems, fmt.Errorf("semantic.max_iter must be positive (got %d)", c.MaxIter))
	}
	if c.EpsToExtract < 0.0 || c.EpsToExtract > 1.0 {
		problems = append(problems, fmt.Errorf("semantic.eps_to_extract must be between 0.0 and 1.0 (got %.2f)", c.EpsToExtract))
	}
	switch c.SimMetric {
	case MetricCosine, MetricL2:
	default:
		problems = append(problems, fmt.Errorf("semantic.sim_metric must be %q or %q (got %q)", MetricCosine, MetricL2, c.SimMetric))
	}
	switch c.WhichToKeep {
	case KeepHard, KeepEasy, KeepRandom:
	default:
		problems = append(problems, fmt.Errorf("semantic.which_to_keep must be hard, easy or random (got %q)", c.WhichToKeep))
	}
	if c.CacheDir == "" {
		problems = append(problems, errors.New("semantic.cache_dir is required"))
	}
	return problems
}

// CacheDir returns the checkpoint directory of a stage
func (c Config) CacheDir(stage types.Stage) string {
	switch stage {
	case types.StageExact:
		return c.Exact.CacheDir
	case types.StageFuzzy:
		return c.Fuzzy.CacheDir
	case types.StageSemantic:
		return c.Semantic.CacheDir
	}
	return ""
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Workers: %d, Exact: %s/removal=%t, Fuzzy: enabled=%t ngrams=%d bands=%dx%d jaccard=%.2f fp=%t anchors=%d, "+
			"Semantic: enabled=%t provider=%s model=%s clusters=%d iter=%d eps=%.3f metric=%s keep=%s}",
		c.Workers, c.Exact.HashMethod, c.Exact.PerformRemoval,
		c.Fuzzy.Enabled, c.Fuzzy.CharNgrams, c.Fuzzy.NumBuckets, c.Fuzzy.HashesPerBucket, c.Fuzzy.JaccardThreshold,
		c.Fuzzy.FalsePositiveCheck, c.Fuzzy.NumAnchors,
		c.Semantic.Enabled, c.Semantic.EmbeddingProvider, c.Semantic.EmbeddingModel, c.Semantic.NClusters,
		c.Semantic.MaxIter, c.Semantic.EpsToExtract, c.Semantic.SimMetric, c.Semantic.WhichToKeep,
	)
}
