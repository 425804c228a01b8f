package deduplication

import (
	"context"
	"testing"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupExactKeepsFirstSeen(t *testing.T) {
	res := newTestResources(t)
	docs := docsFrom("hello", "world", "hello", "  hello\r\n")

	out, err := DedupExact(context.Background(), docs, config.DefaultConfig().Exact, res)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, out.SurvivorIDs())
	assert.Equal(t, []string{"3", "4"}, out.Removed)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "1", out.Groups[0].Survivor)
	assert.Equal(t, []string{"1", "3", "4"}, out.Groups[0].Members)
}

func TestDedupExactIsIdempotent(t *testing.T) {
	res := newTestResources(t)
	cfg := config.DefaultConfig().Exact
	docs := docsFrom("a", "b", "a", "c", "b")

	first, err := DedupExact(context.Background(), docs, cfg, res)
	require.NoError(t, err)

	second, err := DedupExact(context.Background(), first.Survivors, cfg, res)
	require.NoError(t, err)
	assert.Empty(t, second.Removed)
	assert.Empty(t, second.Groups)
	assert.Equal(t, first.SurvivorIDs(), second.SurvivorIDs())
}

func TestDedupExactWithoutRemovalFlags(t *testing.T) {
	res := newTestResources(t)
	cfg := config.DefaultConfig().Exact
	cfg.PerformRemoval = false

	out, err := DedupExact(context.Background(), docsFrom("x", "x", "y"), cfg, res)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, out.SurvivorIDs())
	assert.Empty(t, out.Removed)
	assert.Equal(t, []string{"2"}, out.Flagged)
}

func TestDedupExactEmptyInput(t *testing.T) {
	res := newTestResources(t)

	out, err := DedupExact(context.Background(), nil, config.DefaultConfig().Exact, res)
	require.NoError(t, err)
	assert.NotNil(t, out.Survivors)
	assert.Empty(t, out.Survivors)
	assert.Equal(t, types.StageExact, out.Stage)
}
