package deduplication

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"corpusdedup/config"

	"gonum.org/v1/gonum/floats"
)

// Cluster is one k-means partition
type Cluster struct {
	ID       int
	Centroid []float64
	// Members are positions into the clustered vector slice, ascending
	Members []int
}

// KMeansResult is the outcome of a k-means run
type KMeansResult struct {
	Clusters    []Cluster
	Assignments []int
	Iterations  int
	Converged   bool
}

// Distance returns the metric distance between a and b: 1 - cosine similarity for
// "cosine", Euclidean distance for "l2". A zero vector is at cosine distance 1.
func Distance(metric string, a, b []float64) float64 {
	if metric == config.MetricL2 {
		return floats.Distance(a, b, 2)
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// KMeans partitions vectors into at most k clusters with Lloyd's algorithm.
// Centroids are seeded with k-means++ from a PCG stream on seed, so the result is
// fully determined by the input order, k, metric and seed. Assignment runs over
// partitions on the worker pool; centroid updates are sequential in input order.
func KMeans(ctx context.Context, vectors [][]float64, k, maxIter int, seed int64, metric string, res *Resources) (*KMeansResult, error) {
	n := len(vectors)
	if n == 0 {
		return &KMeansResult{Converged: true}, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("kmeans: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	k = min(k, n)

	rng := rand.New(rand.NewPCG(uint64(seed), 0x853c49e6748fea9b))
	centroids := seedPlusPlus(vectors, k, metric, rng)

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	result := &KMeansResult{}
	changedBy := make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := res.Partition(ctx, n, int64(dim)*8, func(ctx context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				best, bestDist := 0, math.Inf(1)
				for c, centroid := range centroids {
					if d := Distance(metric, vectors[i], centroid); d < bestDist {
						best, bestDist = c, d
					}
				}
				changedBy[i] = 0
				if assign[i] != best {
					changedBy[i] = 1
				}
				assign[i] = best
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		result.Iterations = iter + 1

		changed := 0
		for _, c := range changedBy {
			changed += c
		}
		if changed == 0 {
			result.Converged = true
			break
		}

		// centroid update: mean of members; empty clusters keep their centroid
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, c := range assign {
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			floats.Add(sums[c], vectors[i])
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
	}

	result.Assignments = assign
	result.Clusters = make([]Cluster, k)
	for c := range result.Clusters {
		result.Clusters[c] = Cluster{ID: c, Centroid: centroids[c]}
	}
	for i, c := range assign {
		result.Clusters[c].Members = append(result.Clusters[c].Members, i)
	}
	return result, nil
}

// seedPlusPlus picks k initial centroids: the first uniformly, each next one with
// probability proportional to its squared distance from the closest chosen centroid.
// When every remaining point coincides with a centroid the next unchosen point is used.
func seedPlusPlus(vectors [][]float64, k int, metric string, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	chosen := make([]bool, n)
	first := rng.IntN(n)
	chosen[first] = true
	centroids := [][]float64{clone(vectors[first])}

	closest := make([]float64, n)
	for i, v := range vectors {
		d := Distance(metric, v, centroids[0])
		closest[i] = d * d
	}

	for len(centroids) < k {
		total := floats.Sum(closest)
		next := -1
		if total > 0 {
			r := rng.Float64() * total
			for i, w := range closest {
				if chosen[i] {
					continue
				}
				r -= w
				if r <= 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			for i := range vectors {
				if !chosen[i] {
					next = i
					break
				}
			}
		}

		chosen[next] = true
		centroid := clone(vectors[next])
		centroids = append(centroids, centroid)
		for i, v := range vectors {
			d := Distance(metric, v, centroid)
			closest[i] = min(closest[i], d*d)
		}
	}
	return centroids
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
