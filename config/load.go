package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"corpusdedup/types"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML or TOML file on top of DefaultConfig.
// Keys missing from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: failed to read config file '%s': %w", types.ErrConfig, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: failed to parse YAML: %w", types.ErrConfig, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: failed to parse TOML: %w", types.ErrConfig, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q (want .yaml, .yml or .toml)", types.ErrConfig, filepath.Ext(path))
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg.
//
// Environment variables:
//   - DEDUP_INPUT, DEDUP_OUTPUT_DIR, DEDUP_WORKERS, DEDUP_WORKER_MEMORY, DEDUP_CLEAR_CACHE
//   - DEDUP_EXACT_HASH_METHOD, DEDUP_EXACT_CACHE_DIR, DEDUP_EXACT_PERFORM_REMOVAL
//   - DEDUP_FUZZY_ENABLED, DEDUP_FUZZY_CHAR_NGRAMS, DEDUP_FUZZY_NUM_BUCKETS,
//     DEDUP_FUZZY_HASHES_PER_BUCKET, DEDUP_FUZZY_JACCARD_THRESHOLD,
//     DEDUP_FUZZY_FALSE_POSITIVE_CHECK, DEDUP_FUZZY_NUM_ANCHORS, DEDUP_FUZZY_CACHE_DIR
//   - DEDUP_SEMANTIC_ENABLED, DEDUP_SEMANTIC_EMBEDDING_PROVIDER, DEDUP_SEMANTIC_EMBEDDING_MODEL,
//     DEDUP_SEMANTIC_EMBEDDING_BATCH_SIZE, DEDUP_SEMANTIC_EMBEDDING_MAX_MEM,
//     DEDUP_SEMANTIC_POOLING_STRATEGY, DEDUP_SEMANTIC_N_CLUSTERS, DEDUP_SEMANTIC_MAX_ITER,
//     DEDUP_SEMANTIC_RANDOM_STATE, DEDUP_SEMANTIC_EPS_TO_EXTRACT, DEDUP_SEMANTIC_SIM_METRIC,
//     DEDUP_SEMANTIC_WHICH_TO_KEEP, DEDUP_SEMANTIC_CACHE_DIR
//   - S3_BUCKET, S3_PREFIX, S3_REGION, S3_PROFILE, S3_USE_PATH_STYLE
//   - REDIS_ADDR, REDIS_PASS, REDIS_DB
//   - KAFKA_BROKERS (comma separated), KAFKA_TOPIC
//   - PORT, DEDUP_CRON_SCHEDULE
//
// Returns an error if any environment variable has an invalid value.
func ApplyEnv(cfg *Config) error {
	parsers := []func() error{
		func() error { return parseEnvString("DEDUP_INPUT", &cfg.Input) },
		func() error { return parseEnvString("DEDUP_OUTPUT_DIR", &cfg.OutputDir) },
		func() error { return parseEnvInt("DEDUP_WORKERS", &cfg.Workers) },
		func() error { return parseEnvInt64("DEDUP_WORKER_MEMORY", &cfg.WorkerMemory) },
		func() error { return parseEnvBool("DEDUP_CLEAR_CACHE", &cfg.ClearCache) },

		func() error { return parseEnvString("DEDUP_EXACT_HASH_METHOD", &cfg.Exact.HashMethod) },
		func() error { return parseEnvString("DEDUP_EXACT_CACHE_DIR", &cfg.Exact.CacheDir) },
		func() error { return parseEnvBool("DEDUP_EXACT_PERFORM_REMOVAL", &cfg.Exact.PerformRemoval) },

		func() error { return parseEnvBool("DEDUP_FUZZY_ENABLED", &cfg.Fuzzy.Enabled) },
		func() error { return parseEnvInt("DEDUP_FUZZY_CHAR_NGRAMS", &cfg.Fuzzy.CharNgrams) },
		func() error { return parseEnvInt("DEDUP_FUZZY_NUM_BUCKETS", &cfg.Fuzzy.NumBuckets) },
		func() error { return parseEnvInt("DEDUP_FUZZY_HASHES_PER_BUCKET", &cfg.Fuzzy.HashesPerBucket) },
		func() error { return parseEnvFloat("DEDUP_FUZZY_JACCARD_THRESHOLD", &cfg.Fuzzy.JaccardThreshold) },
		func() error { return parseEnvBool("DEDUP_FUZZY_FALSE_POSITIVE_CHECK", &cfg.Fuzzy.FalsePositiveCheck) },
		func() error { return parseEnvInt("DEDUP_FUZZY_NUM_ANCHORS", &cfg.Fuzzy.NumAnchors) },
		func() error { return parseEnvString("DEDUP_FUZZY_CACHE_DIR", &cfg.Fuzzy.CacheDir) },

		func() error { return parseEnvBool("DEDUP_SEMANTIC_ENABLED", &cfg.Semantic.Enabled) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_EMBEDDING_PROVIDER", &cfg.Semantic.EmbeddingProvider) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_EMBEDDING_MODEL", &cfg.Semantic.EmbeddingModel) },
		func() error { return parseEnvInt("DEDUP_SEMANTIC_EMBEDDING_BATCH_SIZE", &cfg.Semantic.EmbeddingBatchSize) },
		func() error { return parseEnvInt64("DEDUP_SEMANTIC_EMBEDDING_MAX_MEM", &cfg.Semantic.EmbeddingMaxMem) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_POOLING_STRATEGY", &cfg.Semantic.PoolingStrategy) },
		func() error { return parseEnvInt("DEDUP_SEMANTIC_N_CLUSTERS", &cfg.Semantic.NClusters) },
		func() error { return parseEnvInt("DEDUP_SEMANTIC_MAX_ITER", &cfg.Semantic.MaxIter) },
		func() error { return parseEnvInt64("DEDUP_SEMANTIC_RANDOM_STATE", &cfg.Semantic.RandomState) },
		func() error { return parseEnvFloat("DEDUP_SEMANTIC_EPS_TO_EXTRACT", &cfg.Semantic.EpsToExtract) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_SIM_METRIC", &cfg.Semantic.SimMetric) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_WHICH_TO_KEEP", &cfg.Semantic.WhichToKeep) },
		func() error { return parseEnvString("DEDUP_SEMANTIC_CACHE_DIR", &cfg.Semantic.CacheDir) },

		func() error { return parseEnvString("S3_BUCKET", &cfg.S3.Bucket) },
		func() error { return parseEnvString("S3_PREFIX", &cfg.S3.Prefix) },
		func() error { return parseEnvString("S3_REGION", &cfg.S3.Region) },
		func() error { return parseEnvString("S3_PROFILE", &cfg.S3.Profile) },
		func() error { return parseEnvBool("S3_USE_PATH_STYLE", &cfg.S3.UsePathStyle) },

		func() error { return parseEnvString("REDIS_ADDR", &cfg.Redis.Addr) },
		func() error { return parseEnvString("REDIS_PASS", &cfg.Redis.Password) },
		func() error { return parseEnvInt("REDIS_DB", &cfg.Redis.DB) },

		func() error { return parseEnvList("KAFKA_BROKERS", &cfg.Kafka.Brokers) },
		func() error { return parseEnvString("KAFKA_TOPIC", &cfg.Kafka.Topic) },

		func() error { return parseEnvString("PORT", &cfg.Server.Port) },
		func() error { return parseEnvString("DEDUP_CRON_SCHEDULE", &cfg.Server.CronSchedule) },
	}

	for _, parse := range parsers {
		if err := parse(); err != nil {
			return fmt.Errorf("%w: %w", types.ErrConfig, err)
		}
	}
	return nil
}

// parseEnvString copies a trimmed environment variable when it is set
func parseEnvString(key string, dest *string) error {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dest = value
	}
	return nil
}

// parseEnvList parses a comma separated list from an environment variable
func parseEnvList(key string, dest *[]string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dest = out
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt64 parses an int64 from an environment variable
func parseEnvInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
