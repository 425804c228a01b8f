package deduplication

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"corpusdedup/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResources(t *testing.T) *Resources {
	t.Helper()
	res, release := AcquireResources(2, 64<<20, zerolog.Nop())
	t.Cleanup(release)
	return res
}

// docsFrom builds documents with ids "1".."n" in input order
func docsFrom(texts ...string) []types.Document {
	docs := make([]types.Document, len(texts))
	for i, text := range texts {
		docs[i] = types.Document{ID: string(rune('1' + i)), Text: text, Ordinal: i}
	}
	return docs
}

func TestReserveRejectsRequestsOverBudget(t *testing.T) {
	res, release := AcquireResources(2, 1024, zerolog.Nop())
	defer release()

	assert.Equal(t, int64(2048), res.Capacity())

	_, err := res.Reserve(context.Background(), 4096)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResourceExhausted))

	free, err := res.Reserve(context.Background(), 2048)
	require.NoError(t, err)
	free()
}

func TestReserveAfterReleaseFails(t *testing.T) {
	res, release := AcquireResources(1, 1024, zerolog.Nop())
	release()
	release()

	_, err := res.Reserve(context.Background(), 1)
	assert.True(t, errors.Is(err, types.ErrConsistency))
}

func TestPartitionVisitsEveryIndexOnce(t *testing.T) {
	res := newTestResources(t)

	const n = 1000
	var visits [n]atomic.Int32
	err := res.Partition(context.Background(), n, 8, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			visits[i].Add(1)
		}
		return nil
	})
	require.NoError(t, err)
	for i := range visits {
		assert.Equal(t, int32(1), visits[i].Load(), "index %d", i)
	}
}

func TestPartitionShrinksChunksToFitMemory(t *testing.T) {
	res, release := AcquireResources(1, 100, zerolog.Nop())
	defer release()

	var widest atomic.Int64
	err := res.Partition(context.Background(), 64, 10, func(ctx context.Context, lo, hi int) error {
		if w := int64(hi - lo); w > widest.Load() {
			widest.Store(w)
		}
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, widest.Load()*10, int64(100))
}

func TestPartitionItemOverBudget(t *testing.T) {
	res, release := AcquireResources(1, 100, zerolog.Nop())
	defer release()

	err := res.Partition(context.Background(), 4, 1000, func(ctx context.Context, lo, hi int) error { return nil })
	assert.True(t, errors.Is(err, types.ErrResourceExhausted))
}

func TestPartitionPropagatesErrors(t *testing.T) {
	res := newTestResources(t)
	boom := errors.New("boom")

	err := res.Partition(context.Background(), 100, 0, func(ctx context.Context, lo, hi int) error {
		if lo == 0 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}
