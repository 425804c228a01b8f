package deduplication

import (
	"context"
	"fmt"
	"time"

	"corpusdedup/config"
	"corpusdedup/types"
)

// DedupFuzzy removes near-duplicates: MinHash signatures are banded into LSH
// buckets, candidate pairs are joined into connected components and, when
// false_positive_check is on, every component is re-verified with true Jaccard
// similarity against its anchors. The first-seen member of each group survives.
func DedupFuzzy(ctx context.Context, docs []types.Document, cfg config.FuzzyConfig, res *Resources) (*types.StageOutput, error) {
	start := time.Now()
	logger := res.Logger().With().Str("stage", string(types.StageFuzzy)).Logger()

	hasher := NewMinHasher(cfg.CharNgrams, cfg.NumHashes(), cfg.Seed)
	sigs := make([]MinHashSignature, len(docs))
	sigBytes := int64(hasher.NumHashes())*8 + averageTextBytes(docs)
	err := res.Partition(ctx, len(docs), sigBytes, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			sigs[i] = hasher.Signature(NormalizeText(docs[i].Text))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compute signatures: %w", err)
	}

	uf, pairs, err := NewLSHIndex(cfg.NumBuckets, cfg.HashesPerBucket).Group(ctx, sigs, res)
	if err != nil {
		return nil, fmt.Errorf("band signatures: %w", err)
	}
	candidates := uf.Components(2)
	logger.Debug().Int("candidate_pairs", pairs).Int("candidate_groups", len(candidates)).Msg("lsh banding complete")

	rc := RetentionContext{Ordinals: ordinalIndex(docs)}
	var groups []types.DuplicateGroup
	if !cfg.FalsePositiveCheck {
		for _, positions := range candidates {
			groups = append(groups, newGroup(types.StageFuzzy, componentKey(docs, positions), docs, positions, RetainFirst, rc))
		}
	} else {
		verified, err := verifyCandidates(ctx, docs, candidates, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("verify candidates: %w", err)
		}
		demoted := 0
		for ci, v := range verified {
			positions := candidates[ci]
			kept := 0
			for _, comp := range v.components {
				sub := make([]int, len(comp))
				scores := make(map[string]float64, len(comp))
				for k, local := range comp {
					sub[k] = positions[local]
					scores[docs[positions[local]].ID] = v.best[local]
				}
				kept += len(sub)
				g := newGroup(types.StageFuzzy, componentKey(docs, sub), docs, sub, RetainFirst, rc)
				g.Scores = scores
				groups = append(groups, g)
			}
			demoted += len(positions) - kept
		}
		logger.Debug().Int("demoted", demoted).Msg("false positive check complete")
	}

	out := buildOutput(types.StageFuzzy, docs, groups, cfg.PerformRemoval)
	logger.Info().
		Int("docs", len(docs)).
		Int("groups", len(groups)).
		Int("removed", len(out.Removed)).
		Int("flagged", len(out.Flagged)).
		Dur("took", time.Since(start)).
		Msg("fuzzy dedup complete")
	return out, nil
}

// verifyCandidates runs the anchor check over every candidate group concurrently
func verifyCandidates(ctx context.Context, docs []types.Document, candidates [][]int, cfg config.FuzzyConfig, res *Resources) ([]anchorVerification, error) {
	out := make([]anchorVerification, len(candidates))
	err := res.Partition(ctx, len(candidates), 0, func(ctx context.Context, lo, hi int) error {
		for ci := lo; ci < hi; ci++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			positions := candidates[ci]
			sets := make([]ShingleSet, len(positions))
			for k, p := range positions {
				sets[k] = Shingles(NormalizeText(docs[p].Text), cfg.CharNgrams)
			}
			out[ci] = verifyWithAnchors(sets, cfg.NumAnchors, cfg.JaccardThreshold)
		}
		return nil
	})
	return out, err
}

// componentKey names a group by its first-seen member
func componentKey(docs []types.Document, positions []int) string {
	return "component:" + docs[positions[0]].ID
}
