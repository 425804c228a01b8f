package deduplication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// DedupSemantic removes documents with near-identical meaning: survivors are
// embedded, partitioned with k-means and compared pairwise inside each cluster.
// Cosine pairs join when similarity >= 1-eps, L2 pairs when distance <= eps.
// Joined pairs form groups whose survivor is picked by cfg.WhichToKeep.
func DedupSemantic(ctx context.Context, docs []types.Document, cfg config.SemanticConfig, embedder Embedder, maxBackoff int, res *Resources) (*types.StageOutput, error) {
	start := time.Now()
	logger := res.Logger().With().Str("stage", string(types.StageSemantic)).Logger()

	policy, err := ParseRetention(cfg.WhichToKeep)
	if err != nil {
		return nil, err
	}
	if len(docs) < 2 {
		return buildOutput(types.StageSemantic, docs, nil, cfg.PerformRemoval), nil
	}

	embeddings, err := embedAll(ctx, docs, cfg, embedder, maxBackoff, res, logger)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	vectors, err := toVectors(embeddings, cfg.SimMetric)
	if err != nil {
		return nil, err
	}

	km, err := KMeans(ctx, vectors, cfg.NClusters, cfg.MaxIter, cfg.RandomState, cfg.SimMetric, res)
	if err != nil {
		return nil, fmt.Errorf("cluster embeddings: %w", err)
	}
	if cfg.NClusters > len(docs) {
		logger.Warn().Int("n_clusters", cfg.NClusters).Int("docs", len(docs)).Msg("n_clusters exceeds document count, clamped")
	}
	logger.Debug().Int("clusters", len(km.Clusters)).Int("iterations", km.Iterations).Bool("converged", km.Converged).Msg("kmeans complete")

	perCluster := make([][]types.DuplicateGroup, len(km.Clusters))
	rcBase := RetentionContext{Ordinals: ordinalIndex(docs), Seed: cfg.RandomState}
	err = res.Partition(ctx, len(km.Clusters), 0, func(ctx context.Context, lo, hi int) error {
		for c := lo; c < hi; c++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			perCluster[c] = extractCluster(docs, vectors, km.Clusters[c], cfg, policy, rcBase)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract duplicates: %w", err)
	}

	var groups []types.DuplicateGroup
	for _, gs := range perCluster {
		groups = append(groups, gs...)
	}

	out := buildOutput(types.StageSemantic, docs, groups, cfg.PerformRemoval)
	logger.Info().
		Int("docs", len(docs)).
		Int("clusters", len(km.Clusters)).
		Int("groups", len(groups)).
		Int("removed", len(out.Removed)).
		Int("flagged", len(out.Flagged)).
		Dur("took", time.Since(start)).
		Msg("semantic dedup complete")
	return out, nil
}

// extractCluster joins every within-cluster pair across the eps boundary and
// applies the retention policy to each resulting component
func extractCluster(docs []types.Document, vectors [][]float64, cluster Cluster, cfg config.SemanticConfig, policy Retention, rcBase RetentionContext) []types.DuplicateGroup {
	members := cluster.Members
	if len(members) < 2 {
		return nil
	}

	uf := NewUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if semanticDuplicate(cfg, vectors[members[i]], vectors[members[j]]) {
				uf.Union(i, j)
			}
		}
	}

	var groups []types.DuplicateGroup
	for _, comp := range uf.Components(2) {
		positions := make([]int, len(comp))
		distances := make(map[string]float64, len(comp))
		for k, local := range comp {
			p := members[local]
			positions[k] = p
			distances[docs[p].ID] = Distance(cfg.SimMetric, vectors[p], cluster.Centroid)
		}
		rc := rcBase
		rc.Distances = distances
		key := fmt.Sprintf("cluster:%d:%s", cluster.ID, docs[positions[0]].ID)
		g := newGroup(types.StageSemantic, key, docs, positions, policy, rc)
		g.Scores = distances
		groups = append(groups, g)
	}
	return groups
}

// semanticDuplicate applies the eps boundary for the configured metric. Both
// directions are inclusive and symmetric in (a, b).
func semanticDuplicate(cfg config.SemanticConfig, a, b []float64) bool {
	if cfg.SimMetric == config.MetricL2 {
		return floats.Distance(a, b, 2) <= cfg.EpsToExtract
	}
	return 1-Distance(config.MetricCosine, a, b) >= 1-cfg.EpsToExtract
}

// toVectors widens embeddings to float64, checking dimensions, and normalizes
// them to unit length for the cosine metric
func toVectors(embeddings [][]float32, metric string) ([][]float64, error) {
	if len(embeddings) == 0 {
		return nil, nil
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return nil, errors.New("embedder returned empty vectors")
	}
	out := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(e), dim)
		}
		v := make([]float64, dim)
		for j, x := range e {
			v[j] = float64(x)
		}
		if metric == config.MetricCosine {
			if n := floats.Norm(v, 2); n > 0 {
				floats.Scale(1/n, v)
			}
		}
		out[i] = v
	}
	return out, nil
}

// estimateBatchBytes approximates the footprint of embedding texts: token buffers
// scale with text length and output vectors with the dimension
func estimateBatchBytes(texts []string, dim int) int64 {
	var total int64
	for _, t := range texts {
		total += 4 * int64(len(t))
	}
	return total + int64(len(texts)*dim*4)
}

// embedAll embeds docs in batches of cfg.EmbeddingBatchSize on the worker pool.
// A batch whose estimate exceeds embedding_max_mem, whose reservation exceeds the
// memory budget, or that the provider rejects as too large is halved and retried,
// at most maxBackoff times along any split path.
func embedAll(ctx context.Context, docs []types.Document, cfg config.SemanticConfig, embedder Embedder, maxBackoff int, res *Resources, logger zerolog.Logger) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = NormalizeText(d.Text)
	}
	dim := cfg.EmbeddingDim
	if dim <= 0 {
		dim = config.DefaultEmbeddingDim
	}

	out := make([][]float32, len(texts))
	batches := (len(texts) + cfg.EmbeddingBatchSize - 1) / cfg.EmbeddingBatchSize
	err := res.Partition(ctx, batches, 0, func(ctx context.Context, lo, hi int) error {
		for b := lo; b < hi; b++ {
			from := b * cfg.EmbeddingBatchSize
			to := min(from+cfg.EmbeddingBatchSize, len(texts))
			if err := embedBatch(ctx, texts, out, from, to, dim, cfg.EmbeddingMaxMem, maxBackoff, embedder, res, logger); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func embedBatch(ctx context.Context, texts []string, out [][]float32, from, to, dim int, maxMem int64, retries int, embedder Embedder, res *Resources, logger zerolog.Logger) error {
	batch := texts[from:to]
	est := estimateBatchBytes(batch, dim)

	var err error
	if est > maxMem {
		err = fmt.Errorf("%w: batch of %d needs ~%d bytes, embedding_max_mem is %d", types.ErrResourceExhausted, len(batch), est, maxMem)
	} else {
		err = func() error {
			release, err := res.Reserve(ctx, est)
			if err != nil {
				return err
			}
			defer release()

			vecs, err := embedder.EmbedTexts(ctx, batch)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
			}
			copy(out[from:to], vecs)
			return nil
		}()
	}
	if err == nil || !errors.Is(err, types.ErrResourceExhausted) {
		return err
	}

	if retries <= 0 || len(batch) < 2 {
		return fmt.Errorf("batch [%d,%d) still too large after backoff: %w", from, to, err)
	}
	mid := from + len(batch)/2
	logger.Warn().Int("batch", len(batch)).Int("next", mid-from).Err(err).Msg("embedding batch exhausted resources, backing off")
	if err := embedBatch(ctx, texts, out, from, mid, dim, maxMem, retries-1, embedder, res, logger); err != nil {
		return err
	}
	return embedBatch(ctx, texts, out, mid, to, dim, maxMem, retries-1, embedder, res, logger)
}
