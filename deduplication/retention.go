package deduplication

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/cespare/xxhash/v2"
)

// Retention selects which member of a duplicate group survives
type Retention string

const (
	// RetainFirst keeps the member seen first in the input
	RetainFirst Retention = "first"
	// RetainHard keeps the member furthest from its cluster centroid
	RetainHard Retention = config.KeepHard
	// RetainEasy keeps the member closest to its cluster centroid
	RetainEasy Retention = config.KeepEasy
	// RetainRandom keeps a member drawn from a stream seeded by the run seed and group key
	RetainRandom Retention = config.KeepRandom
)

// RetentionContext carries the per-member facts a retention decision may use
type RetentionContext struct {
	// Ordinals maps id to input position; lower wins every tie.
	Ordinals map[string]int
	// Distances maps id to distance from the cluster centroid.
	Distances map[string]float64
	Seed      int64
}

// ParseRetention validates a retention mode name
func ParseRetention(mode string) (Retention, error) {
	switch r := Retention(mode); r {
	case RetainFirst, RetainHard, RetainEasy, RetainRandom:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown retention mode %q", types.ErrConfig, mode)
}

// Choose returns the id of the surviving member. It never mutates the group and
// returns the same id for the same group, mode and seed.
func (r Retention) Choose(group types.DuplicateGroup, rc RetentionContext) string {
	if len(group.Members) == 0 {
		return ""
	}
	members := slices.Clone(group.Members)
	slices.SortStableFunc(members, func(a, b string) int {
		return rc.Ordinals[a] - rc.Ordinals[b]
	})

	switch r {
	case RetainHard:
		best := members[0]
		for _, id := range members[1:] {
			if rc.Distances[id] > rc.Distances[best] {
				best = id
			}
		}
		return best
	case RetainEasy:
		best := members[0]
		for _, id := range members[1:] {
			if rc.Distances[id] < rc.Distances[best] {
				best = id
			}
		}
		return best
	case RetainRandom:
		rng := rand.New(rand.NewPCG(uint64(rc.Seed), xxhash.Sum64String(group.Key)))
		return members[rng.IntN(len(members))]
	default:
		return members[0]
	}
}
