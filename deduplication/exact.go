package deduplication

import (
	"context"
	"fmt"
	"time"

	"corpusdedup/config"
	"corpusdedup/types"
)

// DedupExact groups documents by content hash and keeps the first-seen member
// (lowest ordinal) of every group. Hashing runs over partitions; grouping is keyed
// by hash value so the result is independent of worker scheduling.
func DedupExact(ctx context.Context, docs []types.Document, cfg config.ExactConfig, res *Resources) (*types.StageOutput, error) {
	start := time.Now()
	logger := res.Logger().With().Str("stage", string(types.StageExact)).Logger()

	hashes := make([]string, len(docs))
	err := res.Partition(ctx, len(docs), averageTextBytes(docs), func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			h, err := ComputeHash(docs[i].Text, cfg.HashMethod)
			if err != nil {
				return err
			}
			hashes[i] = h
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash documents: %w", err)
	}

	byHash := make(map[string][]int, len(docs))
	var order []string
	for i, h := range hashes {
		if _, ok := byHash[h]; !ok {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], i)
	}

	rc := RetentionContext{Ordinals: ordinalIndex(docs)}
	var groups []types.DuplicateGroup
	for _, h := range order {
		positions := byHash[h]
		if len(positions) < 2 {
			continue
		}
		groups = append(groups, newGroup(types.StageExact, h, docs, positions, RetainFirst, rc))
	}

	out := buildOutput(types.StageExact, docs, groups, cfg.PerformRemoval)
	logger.Info().
		Int("docs", len(docs)).
		Int("groups", len(groups)).
		Int("removed", len(out.Removed)).
		Int("flagged", len(out.Flagged)).
		Dur("took", time.Since(start)).
		Msg("exact dedup complete")
	return out, nil
}

// averageTextBytes estimates the per-document working set of a text pass
func averageTextBytes(docs []types.Document) int64 {
	if len(docs) == 0 {
		return 0
	}
	var total int64
	for _, d := range docs {
		total += int64(len(d.Text))
	}
	return 2*total/int64(len(docs)) + 64
}
