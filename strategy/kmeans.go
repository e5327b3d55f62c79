package strategy

import (
	"math"
	"sort"
)

// kmeansMaxIter caps the Lloyd iterations; one-dimensional runs settle
// long before this.
const kmeansMaxIter = 50

// kmeans1D partitions scalar values into k clusters and returns the
// centroids in ascending order plus each value's cluster index into that
// ordering. Initialisation is deterministic: for k=3 the seeds are the
// minimum, median, and maximum of the input, so identical inputs always
// produce identical clusters.
func kmeans1D(values []float64, k int) (centroids []float64, assignment []int) {
	n := len(values)
	assignment = make([]int, n)
	if n == 0 || k <= 0 {
		return nil, assignment
	}
	if k > n {
		k = n
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	centroids = make([]float64, k)
	switch k {
	case 1:
		centroids[0] = sorted[n/2]
	case 2:
		centroids[0], centroids[1] = sorted[0], sorted[n-1]
	default:
		centroids[0] = sorted[0]
		centroids[k-1] = sorted[n-1]
		for i := 1; i < k-1; i++ {
			centroids[i] = sorted[(n-1)*i/(k-1)]
		}
	}

	sums := make([]float64, k)
	counts := make([]int, k)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, v := range values {
			c := nearestCentroid(centroids, v)
			if c != assignment[i] {
				assignment[i] = c
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		for c := range centroids {
			sums[c], counts[c] = 0, 0
		}
		for i, v := range values {
			sums[assignment[i]] += v
			counts[assignment[i]]++
		}
		for c := range centroids {
			// An emptied cluster keeps its centroid rather than collapsing.
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}
	}

	// Keep centroids ascending so callers can label them worst to best.
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return centroids[order[a]] < centroids[order[b]] })

	remap := make([]int, k)
	orderedCentroids := make([]float64, k)
	for rank, old := range order {
		remap[old] = rank
		orderedCentroids[rank] = centroids[old]
	}
	for i := range assignment {
		assignment[i] = remap[assignment[i]]
	}
	return orderedCentroids, assignment
}

// nearestCentroid picks the closest centroid, lower index on ties.
func nearestCentroid(centroids []float64, v float64) int {
	best := 0
	bestDist := math.Abs(v - centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := math.Abs(v - centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// representative returns the index in values whose score lies closest to
// the given cluster's centroid, considering only members of that
// cluster. Ties resolve to the lowest index, keeping factor selection
// stable when scores collide. Returns -1 for an empty cluster.
func representative(values []float64, assignment []int, cluster int, centroid float64) int {
	best := -1
	bestDist := math.Inf(1)
	for i, v := range values {
		if assignment[i] != cluster {
			continue
		}
		if d := math.Abs(v - centroid); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// chooseRepresentative is representative with a degenerate-input
// fallback: when the chosen cluster is empty (all scores collapsed into
// one cluster, so the worst/average/best split carries no information)
// it selects index 0, the lowest factor. Returns -1 only for empty
// input.
func chooseRepresentative(values []float64, assignment []int, cluster int, centroid float64) int {
	if rep := representative(values, assignment, cluster, centroid); rep >= 0 {
		return rep
	}
	if len(values) == 0 {
		return -1
	}
	return 0
}
