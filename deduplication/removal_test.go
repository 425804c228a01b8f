package deduplication

import (
	"testing"

	"corpusdedup/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemovalSetTracksStages(t *testing.T) {
	r := NewRemovalSet()
	require.NoError(t, r.AddAll([]string{"b", "c"}, types.StageExact))
	require.NoError(t, r.Add("d", types.StageFuzzy))

	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Contains("c"))
	assert.False(t, r.Contains("a"))

	stage, ok := r.StageOf("d")
	assert.True(t, ok)
	assert.Equal(t, types.StageFuzzy, stage)

	assert.Equal(t, map[types.Stage]int{types.StageExact: 2, types.StageFuzzy: 1}, r.CountByStage())
	assert.Equal(t, []RemovalEntry{
		{ID: "b", Stage: types.StageExact},
		{ID: "c", Stage: types.StageExact},
		{ID: "d", Stage: types.StageFuzzy},
	}, r.Entries())
}

func TestRemovalSetRejectsSecondRemoval(t *testing.T) {
	r := NewRemovalSet()
	require.NoError(t, r.Add("a", types.StageExact))

	err := r.AddAll([]string{"b", "a"}, types.StageSemantic)
	assert.ErrorIs(t, err, types.ErrConsistency)

	stage, _ := r.StageOf("a")
	assert.Equal(t, types.StageExact, stage)
}
