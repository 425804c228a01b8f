package deduplication

import (
	"context"
	"fmt"
	"sync/atomic"

	"corpusdedup/types"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// partitionsPerWorker oversubscribes partitions so stragglers do not idle the pool
const partitionsPerWorker = 4

// Resources is the execution handle passed into every stage: a bounded worker pool
// and a memory budget shared by all workers. Obtain one with AcquireResources and
// release it when the run ends.
type Resources struct {
	workers  int
	capacity int64
	mem      *semaphore.Weighted
	logger   zerolog.Logger
	released atomic.Bool
}

// AcquireResources creates a handle for workers goroutines, each allowed
// perWorkerMemory bytes. The returned release func must be called exactly once.
func AcquireResources(workers int, perWorkerMemory int64, logger zerolog.Logger) (*Resources, func()) {
	if workers <= 0 {
		workers = 1
	}
	capacity := int64(workers) * perWorkerMemory
	r := &Resources{
		workers:  workers,
		capacity: capacity,
		mem:      semaphore.NewWeighted(capacity),
		logger:   logger,
	}
	logger.Debug().Int("workers", workers).Int64("memory_bytes", capacity).Msg("resources acquired")

	return r, func() {
		if r.released.Swap(true) {
			return
		}
		logger.Debug().Msg("resources released")
	}
}

// Workers returns the worker pool size
func (r *Resources) Workers() int { return r.workers }

// Capacity returns the total memory budget in bytes
func (r *Resources) Capacity() int64 { return r.capacity }

// Logger returns the run logger
func (r *Resources) Logger() zerolog.Logger { return r.logger }

// Reserve blocks until bytes of the memory budget are available.
// A request larger than the whole budget fails at once with types.ErrResourceExhausted.
func (r *Resources) Reserve(ctx context.Context, bytes int64) (func(), error) {
	if r.released.Load() {
		return nil, fmt.Errorf("%w: resources already released", types.ErrConsistency)
	}
	if bytes <= 0 {
		return func() {}, nil
	}
	if bytes > r.capacity {
		return nil, fmt.Errorf("%w: need %d bytes, budget is %d", types.ErrResourceExhausted, bytes, r.capacity)
	}
	if err := r.mem.Acquire(ctx, bytes); err != nil {
		return nil, err
	}
	return func() { r.mem.Release(bytes) }, nil
}

// Partition splits [0, n) into contiguous chunks and runs fn over them on the worker
// pool. Each chunk reserves bytesPerItem*len(chunk) from the memory budget; chunks
// that do not fit are halved until they do. Results must be written by index so the
// outcome never depends on scheduling.
func (r *Resources) Partition(ctx context.Context, n int, bytesPerItem int64, fn func(ctx context.Context, lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	if bytesPerItem > r.capacity {
		return fmt.Errorf("%w: a single item needs %d bytes, budget is %d", types.ErrResourceExhausted, bytesPerItem, r.capacity)
	}

	chunk := (n + r.workers*partitionsPerWorker - 1) / (r.workers * partitionsPerWorker)
	if chunk < 1 {
		chunk = 1
	}
	for bytesPerItem > 0 && int64(chunk)*bytesPerItem > r.capacity/int64(r.workers) && chunk > 1 {
		chunk /= 2
		r.logger.Warn().Int("chunk", chunk).Msg("partition exceeds per-worker memory, backing off")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			release, err := r.Reserve(gctx, int64(hi-lo)*bytesPerItem)
			if err != nil {
				return err
			}
			defer release()
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}
