package deduplication

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// LSHIndex bands MinHash signatures into buckets. Documents whose band at the same
// position is identical share a bucket; every pair sharing at least one bucket is a
// candidate pair.
type LSHIndex struct {
	bands int
	rows  int
}

// NewLSHIndex returns an index of bands buckets with rows hash values each
func NewLSHIndex(bands, rows int) *LSHIndex {
	return &LSHIndex{bands: bands, rows: rows}
}

// candidateEdge links a document to the first document seen in its bucket
type candidateEdge struct{ from, to int }

// Group joins candidate pairs into connected components over the signature arena.
// Bands are bucketed concurrently; edges are applied in band order so the resulting
// components do not depend on scheduling.
func (l *LSHIndex) Group(ctx context.Context, sigs []MinHashSignature, res *Resources) (*UnionFind, int, error) {
	edges := make([][]candidateEdge, l.bands)
	err := res.Partition(ctx, l.bands, int64(len(sigs))*16, func(ctx context.Context, lo, hi int) error {
		for b := lo; b < hi; b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			edges[b] = l.bucketBand(b, sigs)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	uf := NewUnionFind(len(sigs))
	pairs := 0
	for _, band := range edges {
		for _, e := range band {
			pairs++
			uf.Union(e.from, e.to)
		}
	}
	return uf, pairs, nil
}

// bucketBand returns an edge from every document to the first earlier document
// whose band b is identical. Bucket keys are xxhash digests of the band values;
// colliding keys are told apart by comparing the values themselves.
func (l *LSHIndex) bucketBand(b int, sigs []MinHashSignature) []candidateEdge {
	buckets := make(map[uint64][]int, len(sigs))
	buf := make([]byte, 8*l.rows)
	var edges []candidateEdge

	for i, sig := range sigs {
		band := sig.Band(b, l.rows)
		for j, v := range band {
			binary.LittleEndian.PutUint64(buf[j*8:], v)
		}
		key := xxhash.Sum64(buf)

		matched := false
		for _, first := range buckets[key] {
			if slices.Equal(sigs[first].Band(b, l.rows), band) {
				edges = append(edges, candidateEdge{from: i, to: first})
				matched = true
				break
			}
		}
		if !matched {
			buckets[key] = append(buckets[key], i)
		}
	}
	return edges
}
