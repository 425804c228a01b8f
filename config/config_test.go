package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"corpusdedup/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 260, cfg.Fuzzy.NumHashes())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Fuzzy.JaccardThreshold = 1.5 }, "jaccard_threshold"},
		{"negative eps", func(c *Config) { c.Semantic.EpsToExtract = -0.1 }, "eps_to_extract"},
		{"zero clusters", func(c *Config) { c.Semantic.NClusters = 0 }, "n_clusters"},
		{"unknown metric", func(c *Config) { c.Semantic.SimMetric = "manhattan" }, "sim_metric"},
		{"unknown keep mode", func(c *Config) { c.Semantic.WhichToKeep = "oldest" }, "which_to_keep"},
		{"unknown hash", func(c *Config) { c.Exact.HashMethod = "crc32" }, "hash_method"},
		{"no anchors", func(c *Config) { c.Fuzzy.NumAnchors = 0 }, "num_anchors"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"batch over budget", func(c *Config) { c.Semantic.EmbeddingMaxMem = c.WorkerMemory + 1 }, "exceeds worker_memory"},
		{"shared cache dir", func(c *Config) { c.Fuzzy.CacheDir = c.Exact.CacheDir + "/" }, "must differ"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfig))
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestValidateSkipsDisabledStages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Semantic.Enabled = false
	cfg.Semantic.NClusters = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.yaml")
	body := `
input: corpus.jsonl
fuzzy:
  char_ngrams: 12
  num_buckets: 40
  hashes_per_bucket: 6
  jaccard_threshold: 0.92
  num_anchors: 3
semantic:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "corpus.jsonl", cfg.Input)
	assert.Equal(t, 12, cfg.Fuzzy.CharNgrams)
	assert.Equal(t, 240, cfg.Fuzzy.NumHashes())
	assert.InDelta(t, 0.92, cfg.Fuzzy.JaccardThreshold, 1e-9)
	assert.False(t, cfg.Semantic.Enabled)
	// untouched keys keep defaults
	assert.True(t, cfg.Fuzzy.FalsePositiveCheck)
	assert.Equal(t, DefaultHashMethod, cfg.Exact.HashMethod)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.toml")
	body := `
output_dir = "out"

[exact]
hash_method = "sha256"

[semantic]
sim_metric = "l2"
which_to_keep = "easy"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, HashSHA256, cfg.Exact.HashMethod)
	assert.Equal(t, MetricL2, cfg.Semantic.SimMetric)
	assert.Equal(t, KeepEasy, cfg.Semantic.WhichToKeep)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DEDUP_FUZZY_JACCARD_THRESHOLD", "0.5")
	t.Setenv("DEDUP_SEMANTIC_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("S3_USE_PATH_STYLE", "true")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg))
	assert.InDelta(t, 0.5, cfg.Fuzzy.JaccardThreshold, 1e-9)
	assert.False(t, cfg.Semantic.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.S3.UsePathStyle)
}

func TestApplyEnvInvalidValue(t *testing.T) {
	t.Setenv("DEDUP_WORKERS", "many")

	cfg := DefaultConfig()
	err := ApplyEnv(&cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
	assert.Contains(t, err.Error(), "DEDUP_WORKERS")
}

func TestFingerprintTracksSemanticParametersOnly(t *testing.T) {
	base := DefaultConfig()

	moved := base
	moved.Fuzzy.CacheDir = "elsewhere"
	moved.Semantic.CacheDir = "elsewhere"
	moved.Semantic.EmbeddingBatchSize = 7
	moved.Semantic.EmbeddingMaxMem = 1 << 10
	for _, stage := range types.Stages {
		assert.Equal(t, base.StageFingerprint(stage), moved.StageFingerprint(stage), "stage %s", stage)
	}

	tuned := base
	tuned.Fuzzy.JaccardThreshold = 0.9
	tuned.Semantic.EpsToExtract = 0.01
	tuned.Exact.HashMethod = HashSHA256
	for _, stage := range types.Stages {
		assert.NotEqual(t, base.StageFingerprint(stage), tuned.StageFingerprint(stage), "stage %s", stage)
	}
}
