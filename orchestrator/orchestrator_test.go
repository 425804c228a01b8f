package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"corpusdedup/audit"
	"corpusdedup/checkpoint"
	"corpusdedup/config"
	"corpusdedup/corpus"
	"corpusdedup/deduplication"
	"corpusdedup/shared/kafka"
	"corpusdedup/types"

	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCorpus = `{"id": "1", "text": "Rivers carry sediment from the mountains down to the sea over many centuries."}
{"id": "2", "text": "Rivers carry sediment from the mountains down to the sea over many centuries."}
{"id": "3", "text": "Rivers carry sediment from the mountains down to the sea over many centuries!"}
{"id": "4", "text": "centuries many over sea the to down mountains the from sediment carry rivers"}
{"id": "5", "text": "The committee postponed its vote on the new budget until next spring."}
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(sampleCorpus), 0o644))

	cfg := config.DefaultConfig()
	cfg.Input = input
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Workers = 2
	cfg.Exact.CacheDir = filepath.Join(dir, "cache", "exact")
	cfg.Fuzzy.CacheDir = filepath.Join(dir, "cache", "fuzzy")
	cfg.Fuzzy.CharNgrams = 5
	cfg.Semantic.CacheDir = filepath.Join(dir, "cache", "semantic")
	cfg.Semantic.EmbeddingProvider = config.ProviderHashing
	cfg.Semantic.NClusters = 2
	return cfg
}

func newPipeline(t *testing.T, cfg config.Config, opts ...Option) *Pipeline {
	t.Helper()
	dedup, err := deduplication.NewDeduplicator(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { dedup.Close() })
	return New(dedup, zerolog.Nop(), opts...)
}

func readOutput(t *testing.T, path string) []string {
	t.Helper()
	res, err := corpus.ReadFile(context.Background(), path, corpus.Options{})
	require.NoError(t, err)
	ids := make([]string, len(res.Docs))
	for i, d := range res.Docs {
		ids[i] = d.ID
	}
	return ids
}

func fromCache(summary types.RunSummary) []bool {
	out := make([]bool, len(summary.Stages))
	for i, st := range summary.Stages {
		out[i] = st.FromCache
	}
	return out
}

func TestRunRemovesDuplicatesStageByStage(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
	assert.Equal(t, 5, res.Summary.Loaded)
	assert.Equal(t, 2, res.Summary.Survivors)
	assert.Equal(t, 3, res.Summary.TotalRemoved())
	require.Len(t, res.Summary.Stages, 3)
	for i, stage := range types.Stages {
		assert.Equal(t, stage, res.Summary.Stages[i].Stage)
		assert.Equal(t, 1, res.Summary.Stages[i].Removed)
		assert.False(t, res.Summary.Stages[i].FromCache)
	}

	for id, stage := range map[string]types.Stage{"2": types.StageExact, "3": types.StageFuzzy, "4": types.StageSemantic} {
		got, ok := res.Removals.StageOf(id)
		require.True(t, ok, id)
		assert.Equal(t, stage, got, id)
	}

	status := p.State().Status()
	assert.Equal(t, types.StateFinalized, status.State)
	assert.Equal(t, 2, status.Survivors)
	assert.Len(t, status.Stages, 3)
	assert.False(t, p.State().Running())
}

func TestRunResumesFromCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	first, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	second, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, fromCache(second.Summary))
	assert.Equal(t, first.Survivors, second.Survivors)

	// a run interrupted after the exact stage leaves only its checkpoint behind
	for _, stage := range []types.Stage{types.StageFuzzy, types.StageSemantic} {
		require.NoError(t, os.RemoveAll(cfg.CacheDir(stage)))
	}
	third, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, fromCache(third.Summary))
	assert.Equal(t, first.Survivors, third.Survivors)
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
}

// cancellingEmbedder cancels the run the first time it is asked for embeddings
type cancellingEmbedder struct {
	cancel context.CancelFunc
}

func (c *cancellingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.cancel()
	return nil, context.Canceled
}

func (c *cancellingEmbedder) ModelName() string { return "cancelling" }

func TestInterruptedRunResumes(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedup, err := deduplication.NewDeduplicatorWithEmbedder(&cancellingEmbedder{cancel: cancel}, cfg, zerolog.Nop())
	require.NoError(t, err)
	p := New(dedup, zerolog.Nop())

	_, err = p.Run(ctx)
	require.Error(t, err)
	var stageErr *types.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, types.StageSemantic, stageErr.Stage)
	assert.Equal(t, types.StateError, p.State().State())

	assert.Equal(t, []string{"1", "4", "5"}, readOutput(t, IntermediatePath(cfg.OutputDir, types.StageFuzzy)))
	assert.NoFileExists(t, IntermediatePath(cfg.OutputDir, types.StageSemantic))
	assert.True(t, checkpoint.NewStore(cfg.Exact.CacheDir, types.StageExact, zerolog.Nop()).Exists())
	assert.True(t, checkpoint.NewStore(cfg.Fuzzy.CacheDir, types.StageFuzzy, zerolog.Nop()).Exists())
	assert.False(t, checkpoint.NewStore(cfg.Semantic.CacheDir, types.StageSemantic, zerolog.Nop()).Exists())

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, fromCache(res.Summary))
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
}

func TestRunRecomputesCorruptCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	_, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	survivors := filepath.Join(cfg.Exact.CacheDir, checkpoint.SurvivorsFile)
	f, err := os.OpenFile(survivors, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	// the recomputed exact output is identical, so later stages still hit
	assert.Equal(t, []bool{false, true, true}, fromCache(res.Summary))
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
}

func TestRunRecomputesEditedCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	_, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	removed := filepath.Join(cfg.Exact.CacheDir, checkpoint.RemovedFile)
	data, err := os.ReadFile(removed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(removed, bytes.ReplaceAll(data, []byte(`"2"`), []byte(`"zz"`)), 0o644))

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, fromCache(res.Summary))
	stage, ok := res.Removals.StageOf("2")
	require.True(t, ok)
	assert.Equal(t, types.StageExact, stage)
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
}

func TestRunRecomputesInconsistentCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	loaded, err := corpus.ReadFile(context.Background(), cfg.Input, corpus.Options{IDPrefix: cfg.IDPrefix})
	require.NoError(t, err)

	// well formed and matching the fingerprint, but removing an id that was never an input
	fp := checkpoint.Fingerprint(types.StageExact, cfg.StageFingerprint(types.StageExact), types.CorpusFingerprint(loaded.Docs))
	store := checkpoint.NewStore(cfg.Exact.CacheDir, types.StageExact, zerolog.Nop())
	_, err = store.Commit(&types.StageOutput{Stage: types.StageExact, Survivors: loaded.Docs, Removed: []string{"zz"}},
		checkpoint.Manifest{Fingerprint: fp, Input: len(loaded.Docs)})
	require.NoError(t, err)

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, fromCache(res.Summary))
	assert.False(t, res.Removals.Contains("zz"))
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))

	out, _, err := store.Load(fp)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, out.Removed)
}

func TestRunWithoutRemovalFlagsDuplicates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exact.PerformRemoval = false

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	exact := res.Summary.Stages[0]
	assert.Equal(t, 0, exact.Removed)
	assert.Equal(t, 1, exact.Flagged)
	assert.Equal(t, 5, exact.Survivors)

	stage, ok := res.Removals.StageOf("2")
	require.True(t, ok)
	assert.Equal(t, types.StageFuzzy, stage)
	assert.True(t, res.Removals.Contains("3"))
	assert.Equal(t, []string{"1", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
}

func TestRunPassesThroughDisabledStages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fuzzy.Enabled = false
	cfg.Semantic.Enabled = false

	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Summary.Stages[1].Skipped)
	assert.True(t, res.Summary.Stages[2].Skipped)
	assert.Equal(t, []string{"1", "3", "4", "5"}, readOutput(t, filepath.Join(cfg.OutputDir, OutputFile)))
	assert.False(t, checkpoint.NewStore(cfg.Fuzzy.CacheDir, types.StageFuzzy, zerolog.Nop()).Exists())
}

func TestRunDocumentsRejectsConcurrentRun(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)
	require.True(t, p.State().Begin("other"))

	_, err := p.RunDocuments(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestClearCacheRemovesCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	_, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)

	cfg.ClearCache = true
	res, err := newPipeline(t, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, fromCache(res.Summary))
}

func TestVerify(t *testing.T) {
	input := []types.Document{{ID: "a", Ordinal: 0}, {ID: "b", Ordinal: 1}, {ID: "c", Ordinal: 2}}

	tests := []struct {
		name      string
		out       *types.StageOutput
		removal   bool
		preloaded []string
		wantErr   bool
	}{
		{
			name:    "valid",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:2], Removed: []string{"c"}},
			removal: true,
		},
		{
			name:    "survivor not in input",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: []types.Document{{ID: "z"}, input[1]}, Removed: []string{"c"}},
			removal: true,
			wantErr: true,
		},
		{
			name:    "document unaccounted for",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:1], Removed: []string{"c"}},
			removal: true,
			wantErr: true,
		},
		{
			name:    "removed without perform_removal",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:2], Removed: []string{"c"}},
			wantErr: true,
		},
		{
			name:    "survivors reordered",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: []types.Document{input[1], input[0]}, Removed: []string{"c"}},
			removal: true,
			wantErr: true,
		},
		{
			name:      "removed twice",
			out:       &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:2], Removed: []string{"c"}},
			removal:   true,
			preloaded: []string{"c"},
			wantErr:   true,
		},
		{
			name:    "removed twice in one output",
			out:     &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:2], Removed: []string{"c", "c"}},
			removal: true,
			wantErr: true,
		},
		{
			name:      "removed id survives",
			out:       &types.StageOutput{Stage: types.StageFuzzy, Survivors: input[:2], Removed: []string{"c"}},
			removal:   true,
			preloaded: []string{"a"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			removals := deduplication.NewRemovalSet()
			require.NoError(t, removals.AddAll(tt.preloaded, types.StageExact))

			err := verify(types.StageFuzzy, input, tt.out, tt.removal, removals)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrConsistency)
				return
			}
			assert.NoError(t, err)
			assert.False(t, removals.Contains("c"), "verify must not record removals")
		})
	}
}

// memoryObjects is an in-memory checkpoint.ObjectStore
type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjects) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func TestRunFeedsSinks(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	objects := &memoryObjects{objects: make(map[string][]byte)}
	mirror := checkpoint.NewMirror(objects, "checkpoints", zerolog.Nop())

	mr := miniredis.RunT(t)
	removals := checkpoint.NewRemovalMirrorWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", 0)
	defer removals.Close()

	producer := mocks.NewSyncProducer(t, nil)
	// one stage_completed event per stage, one batch of group events per stage
	for range types.Stages {
		producer.ExpectSendMessageAndSucceed()
		producer.ExpectSendMessageAndSucceed()
	}
	events := kafka.NewPublisherWithProducer(producer, "audit", zerolog.Nop())
	defer events.Close()

	db, err := audit.Open(ctx, filepath.Join(t.TempDir(), "audit.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	cfg.Audit.ReportPath = filepath.Join(cfg.OutputDir, "report.xlsx")
	res, err := newPipeline(t, cfg, WithMirror(mirror), WithRemovalMirror(removals), WithEvents(events), WithAudit(db)).Run(ctx)
	require.NoError(t, err)
	runID := res.Summary.RunID

	n, err := removals.Count(ctx, runID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	stage, err := removals.StageOf(ctx, runID, "3")
	require.NoError(t, err)
	assert.Equal(t, types.StageFuzzy, stage)

	rec, err := db.LoadRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSucceeded, rec.Status)
	assert.Len(t, rec.Summary.Stages, 3)
	assert.Len(t, rec.Groups[types.StageSemantic], 1)
	assert.FileExists(t, cfg.Audit.ReportPath)

	ok, err := objects.Exists(ctx, "checkpoints/exact/"+checkpoint.ManifestFile)
	require.NoError(t, err)
	assert.True(t, ok)

	// local checkpoints lost: the mirror restores them
	require.NoError(t, os.RemoveAll(filepath.Dir(cfg.Exact.CacheDir)))
	restored, err := newPipeline(t, cfg, WithMirror(mirror)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, fromCache(restored.Summary))
	assert.Equal(t, res.Survivors, restored.Survivors)
}
