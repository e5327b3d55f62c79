package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKMeans1DSeparatesObviousClusters(t *testing.T) {
	values := []float64{0.1, 0.2, 0.15, 5.0, 5.1, 4.9, 10.0, 10.2, 9.8}

	centroids, assignment := kmeans1D(values, 3)

	require.Len(t, centroids, 3)
	require.InDelta(t, 0.15, centroids[0], 0.01)
	require.InDelta(t, 5.0, centroids[1], 0.01)
	require.InDelta(t, 10.0, centroids[2], 0.01)

	for i, v := range values {
		switch {
		case v < 1:
			require.Equal(t, 0, assignment[i], "value %.2f", v)
		case v < 6:
			require.Equal(t, 1, assignment[i], "value %.2f", v)
		default:
			require.Equal(t, 2, assignment[i], "value %.2f", v)
		}
	}
}

func TestKMeans1DCentroidsAscending(t *testing.T) {
	values := []float64{3.0, -1.0, 7.5, 2.2, 0.4, 9.9, -2.5, 5.1}

	centroids, _ := kmeans1D(values, 3)

	require.Len(t, centroids, 3)
	require.Less(t, centroids[0], centroids[1])
	require.Less(t, centroids[1], centroids[2])
}

func TestKMeans1DDeterministic(t *testing.T) {
	values := []float64{1.2, 3.4, 0.8, 7.7, 2.1, 6.6, 4.4, 0.1}

	c1, a1 := kmeans1D(values, 3)
	c2, a2 := kmeans1D(values, 3)

	require.Equal(t, c1, c2)
	require.Equal(t, a1, a2)
}

func TestKMeans1DAllEqualScores(t *testing.T) {
	values := []float64{2.0, 2.0, 2.0, 2.0, 2.0}

	centroids, assignment := kmeans1D(values, 3)

	require.Len(t, centroids, 3)
	// Every value lands in one cluster; ties resolve to the lowest index
	// so factor selection stays stable.
	for _, a := range assignment {
		require.Equal(t, assignment[0], a)
	}
}

func TestRepresentativePicksClosestAndLowestOnTie(t *testing.T) {
	values := []float64{1.0, 3.0, 3.0, 8.0}
	assignment := []int{0, 1, 1, 2}

	rep := representative(values, assignment, 1, 3.0)
	require.Equal(t, 1, rep)

	rep = representative(values, assignment, 2, 8.0)
	require.Equal(t, 3, rep)

	rep = representative(values, assignment, 0, 1.0)
	require.Equal(t, 0, rep)
}

func TestRepresentativeEmptyCluster(t *testing.T) {
	values := []float64{1.0, 2.0}
	assignment := []int{0, 0}

	require.Equal(t, -1, representative(values, assignment, 2, 99))
}

func TestChooseRepresentativeFallsBackToLowestFactor(t *testing.T) {
	// All-equal scores collapse into cluster 0, leaving the best cluster
	// empty; a factor must still be selected, and it is the lowest.
	values := []float64{2.0, 2.0, 2.0, 2.0, 2.0}
	centroids, assignment := kmeans1D(values, 3)

	best := len(centroids) - 1
	require.Equal(t, -1, representative(values, assignment, best, centroids[best]))
	require.Equal(t, 0, chooseRepresentative(values, assignment, best, centroids[best]))

	// Populated clusters are untouched by the fallback.
	spread := []float64{1.0, 1.1, 5.0, 5.1, 9.0}
	centroids, assignment = kmeans1D(spread, 3)
	require.Equal(t, 4, chooseRepresentative(spread, assignment, 2, centroids[2]))

	require.Equal(t, -1, chooseRepresentative(nil, nil, 0, 0))
}
