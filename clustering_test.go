package revlens

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// groupedVectors builds well-separated groups: each group g sits near the g-th
// axis of a dims-dimensional space with small deterministic jitter.
func groupedVectors(t *testing.T, groups, perGroup, dims int) [][]float64 {
	t.Helper()
	require.LessOrEqual(t, groups, dims)

	rng := rand.New(rand.NewSource(7))
	var vectors [][]float64
	for g := 0; g < groups; g++ {
		for i := 0; i < perGroup; i++ {
			v := make([]float64, dims)
			v[g] = 1.0
			for j := range v {
				v[j] += rng.Float64() * 0.05
			}
			vectors = append(vectors, v)
		}
	}
	return NormalizeVectors(vectors)
}

func identicalVectors(n, dims int) [][]float64 {
	vectors := make([][]float64, n)
	for i := range vectors {
		v := make([]float64, dims)
		v[0] = 1.0
		vectors[i] = v
	}
	return vectors
}

func TestNewClustererValidation(t *testing.T) {
	cases := []struct {
		name   string
		alg    Algorithm
		params ClusterParams
	}{
		{"partition k too small", AlgorithmPartition, ClusterParams{K: 1}},
		{"hierarchical k too small", AlgorithmHierarchical, ClusterParams{K: 0}},
		{"density eps zero", AlgorithmDensity, ClusterParams{Eps: 0, MinSamples: 4}},
		{"density min samples zero", AlgorithmDensity, ClusterParams{Eps: 0.3, MinSamples: 0}},
		{"unknown algorithm", Algorithm("SPECTRAL"), ClusterParams{K: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClusterer(tc.alg, tc.params)
			var invalid *InvalidConfigurationError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestKMeansSeparatesGroups(t *testing.T) {
	vectors := groupedVectors(t, 3, 10, 3)

	clusterer, err := NewClusterer(AlgorithmPartition, ClusterParams{K: 3, Seed: 42})
	require.NoError(t, err)
	result, err := clusterer.Cluster(vectors)
	require.NoError(t, err)

	assert.Equal(t, 3, result.NumClusters)
	require.Len(t, result.Assignments, 30)

	// Every group of ten must land in a single cluster.
	for g := 0; g < 3; g++ {
		first := result.Assignments[g*10]
		for i := 1; i < 10; i++ {
			assert.Equal(t, first, result.Assignments[g*10+i], "group %d split across clusters", g)
		}
	}
}

func TestKMeansDeterministicForSeed(t *testing.T) {
	vectors := groupedVectors(t, 3, 8, 4)

	run := func(seed int64) []int {
		clusterer, err := NewClusterer(AlgorithmPartition, ClusterParams{K: 3, Seed: seed})
		require.NoError(t, err)
		result, err := clusterer.Cluster(vectors)
		require.NoError(t, err)
		return result.Assignments
	}

	assert.Equal(t, run(42), run(42), "same seed must reproduce assignments")
}

func TestKMeansInsufficientData(t *testing.T) {
	vectors := groupedVectors(t, 2, 2, 3)

	clusterer, err := NewClusterer(AlgorithmPartition, ClusterParams{K: 5, Seed: 1})
	require.NoError(t, err)
	_, err = clusterer.Cluster(vectors)

	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 4, insufficient.Have)
	assert.Equal(t, 5, insufficient.Need)
	assert.NotEmpty(t, ErrorHint(err))
}

func TestDegenerateInputCollapsesToSingleCluster(t *testing.T) {
	vectors := identicalVectors(10, 4)

	for _, tc := range []struct {
		alg    Algorithm
		params ClusterParams
	}{
		{AlgorithmPartition, ClusterParams{K: 3, Seed: 1}},
		{AlgorithmDensity, ClusterParams{Eps: 0.2, MinSamples: 3}},
		{AlgorithmHierarchical, ClusterParams{K: 3}},
	} {
		clusterer, err := NewClusterer(tc.alg, tc.params)
		require.NoError(t, err)
		result, err := clusterer.Cluster(vectors)
		require.NoError(t, err, "algorithm %s", tc.alg)

		assert.Equal(t, 1, result.NumClusters, "algorithm %s", tc.alg)
		for _, id := range result.Assignments {
			assert.Equal(t, 0, id)
		}
	}
}

func TestDBSCANWideEpsSingleClusterNoNoise(t *testing.T) {
	vectors := groupedVectors(t, 3, 5, 3)

	// Eps beyond the maximum cosine distance: everything is one dense region.
	clusterer, err := NewClusterer(AlgorithmDensity, ClusterParams{Eps: 2.1, MinSamples: 3})
	require.NoError(t, err)
	result, err := clusterer.Cluster(vectors)
	require.NoError(t, err)

	assert.Equal(t, 1, result.NumClusters)
	for _, id := range result.Assignments {
		assert.NotEqual(t, NoiseID, id)
	}
}

func TestDBSCANFindsGroupsAndNoise(t *testing.T) {
	vectors := groupedVectors(t, 2, 6, 3)
	// An outlier far from both groups.
	vectors = append(vectors, NormalizeVectors([][]float64{{-1, -1, 0.3}})...)

	clusterer, err := NewClusterer(AlgorithmDensity, ClusterParams{Eps: 0.1, MinSamples: 3})
	require.NoError(t, err)
	result, err := clusterer.Cluster(vectors)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NumClusters)
	assert.Equal(t, NoiseID, result.Assignments[len(vectors)-1], "outlier must be noise")
}

func TestDBSCANInsufficientData(t *testing.T) {
	clusterer, err := NewClusterer(AlgorithmDensity, ClusterParams{Eps: 0.3, MinSamples: 5})
	require.NoError(t, err)

	_, err = clusterer.Cluster(groupedVectors(t, 1, 3, 2))
	var insufficient *InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestHierarchicalSeparatesGroupsWithStableIDs(t *testing.T) {
	// Unequal group sizes: the largest group must get id 0.
	rng := rand.New(rand.NewSource(3))
	var vectors [][]float64
	sizes := []int{8, 5, 3}
	for g, size := range sizes {
		for i := 0; i < size; i++ {
			v := make([]float64, 3)
			v[g] = 1.0
			for j := range v {
				v[j] += rng.Float64() * 0.05
			}
			vectors = append(vectors, v)
		}
	}
	vectors = NormalizeVectors(vectors)

	clusterer, err := NewClusterer(AlgorithmHierarchical, ClusterParams{K: 3})
	require.NoError(t, err)
	result, err := clusterer.Cluster(vectors)
	require.NoError(t, err)

	assert.Equal(t, 3, result.NumClusters)
	assert.Equal(t, 0, result.Assignments[0], "largest group gets id 0")
	assert.Equal(t, 1, result.Assignments[8], "second-largest group gets id 1")
	assert.Equal(t, 2, result.Assignments[13], "smallest group gets id 2")
}

func TestNormalizeVectorsUnitNorm(t *testing.T) {
	vectors := [][]float64{{3, 4}, {0, 0}, {1, 0}}
	normalized := NormalizeVectors(vectors)

	assert.InDelta(t, 0.6, normalized[0][0], 1e-9)
	assert.InDelta(t, 0.8, normalized[0][1], 1e-9)
	assert.Equal(t, []float64{0, 0}, normalized[1], "zero vector passes through")
	// Input untouched.
	assert.Equal(t, []float64{3, 4}, vectors[0])
}

func TestClusteringStabilityOnSeparatedData(t *testing.T) {
	vectors := groupedVectors(t, 3, 10, 3)

	stability, err := ClusteringStability(vectors, AlgorithmPartition, ClusterParams{K: 3, Seed: 42}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stability, 1e-9, "well-separated groups must be stable across seeds")
}

func TestAssignmentAgreementDisagreement(t *testing.T) {
	// Three points: first run groups {0,1}, second groups {1,2}.
	a := []int{0, 0, 1}
	b := []int{0, 1, 1}
	// Pairs: (0,1) together/apart, (0,2) apart/apart, (1,2) apart/together.
	assert.InDelta(t, 1.0/3.0, assignmentAgreement(a, b), 1e-9)
}

func TestCentroid(t *testing.T) {
	vectors := [][]float64{{1, 0}, {0, 1}, {2, 2}}
	centroid := Centroid(vectors, []int{0, 1})
	assert.Equal(t, []float64{0.5, 0.5}, centroid)
	assert.Nil(t, Centroid(vectors, nil))
}
