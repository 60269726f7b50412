package maintenance

import (
	"fmt"
	"math"
)

// Clusterer partitions member embeddings into k groups, returning one group
// index per input vector. Implementations must be deterministic for a fixed
// input so maintenance runs replay identically.
type Clusterer interface {
	Cluster(vectors [][]float32, k int) ([]int, error)
}

const kmeansMaxIterations = 25

// KMeansClusterer is a deterministic Lloyd's k-means over Euclidean
// distance. Centroids are seeded at evenly spaced input positions rather
// than randomly, trading a little quality for replayable runs.
type KMeansClusterer struct{}

func (KMeansClusterer) Cluster(vectors [][]float32, k int) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("kmeans: no vectors")
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("kmeans: k=%d out of range for %d vectors", k, n)
	}

	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("kmeans: vector %d has %d dims, want %d", i, len(v), dims)
		}
	}

	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = toFloat64(vectors[c*n/k])
	}

	assignment := make([]int, n)
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := 0
			bestDist := math.MaxFloat64
			for c := range centroids {
				if d := sqDistance(v, centroids[c]); d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d, val := range v {
				sums[c][d] += float64(val)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	return assignment, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func sqDistance(v []float32, centroid []float64) float64 {
	var total float64
	for i := range v {
		diff := float64(v[i]) - centroid[i]
		total += diff * diff
	}
	return total
}
