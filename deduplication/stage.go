package deduplication

import (
	"slices"

	"corpusdedup/types"
)

// buildOutput applies retention results to the stage input. With performRemoval
// false the non-retained members are reported as flagged and every document survives.
func buildOutput(stage types.Stage, docs []types.Document, groups []types.DuplicateGroup, performRemoval bool) *types.StageOutput {
	ordinals := ordinalIndex(docs)
	slices.SortFunc(groups, func(a, b types.DuplicateGroup) int {
		return firstOrdinal(ordinals, a.Members) - firstOrdinal(ordinals, b.Members)
	})

	out := &types.StageOutput{Stage: stage, Groups: groups}
	dropped := make(map[string]struct{})
	for _, g := range groups {
		for _, id := range g.Removed {
			dropped[id] = struct{}{}
		}
	}

	for _, d := range docs {
		if _, ok := dropped[d.ID]; ok {
			if performRemoval {
				out.Removed = append(out.Removed, d.ID)
				continue
			}
			out.Flagged = append(out.Flagged, d.ID)
		}
		out.Survivors = append(out.Survivors, d)
	}
	if out.Survivors == nil {
		out.Survivors = []types.Document{}
	}
	return out
}

// newGroup assembles a group from arena positions and lets policy pick the survivor
func newGroup(stage types.Stage, key string, docs []types.Document, positions []int, policy Retention, rc RetentionContext) types.DuplicateGroup {
	g := types.DuplicateGroup{Stage: stage, Key: key, Members: make([]string, len(positions))}
	for i, p := range positions {
		g.Members[i] = docs[p].ID
	}
	g.Survivor = policy.Choose(g, rc)
	for _, id := range g.Members {
		if id != g.Survivor {
			g.Removed = append(g.Removed, id)
		}
	}
	return g
}

// ordinalIndex maps ids to input ordinals
func ordinalIndex(docs []types.Document) map[string]int {
	m := make(map[string]int, len(docs))
	for _, d := range docs {
		m[d.ID] = d.Ordinal
	}
	return m
}

// firstOrdinal returns the smallest ordinal among ids, used to order groups
func firstOrdinal(ordinals map[string]int, ids []string) int {
	best := -1
	for _, id := range ids {
		if o, ok := ordinals[id]; ok && (best < 0 || o < best) {
			best = o
		}
	}
	return best
}
