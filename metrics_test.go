package revlens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateClusteringSeparatedGroups(t *testing.T) {
	vectors := groupedVectors(t, 3, 10, 3)
	assignments := make([]int, 30)
	for i := range assignments {
		assignments[i] = i / 10
	}

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42, ComputeDensityRatio: true})

	require.True(t, metrics.Valid)
	assert.Empty(t, metrics.InvalidReason)
	assert.Equal(t, 3, metrics.EffectiveClusters)
	assert.Greater(t, metrics.Silhouette, 0.8, "separated groups score near-perfect cohesion")
	assert.Greater(t, metrics.VarianceRatio, 1.0)
	assert.True(t, metrics.HasDensityRatio)
	assert.Less(t, metrics.DensityRatio, 0.5, "intra distances dwarf inter-centroid distances")
	assert.Equal(t, 0.0, metrics.NoiseRatio)
	assert.Greater(t, metrics.Inertia, 0.0)
}

func TestEvaluateClusteringSingleClusterInvalid(t *testing.T) {
	vectors := groupedVectors(t, 2, 5, 2)
	assignments := make([]int, 10) // everything in cluster 0

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})

	assert.False(t, metrics.Valid)
	assert.Equal(t, ReasonInsufficientClusters, metrics.InvalidReason)
	assert.Equal(t, 1, metrics.EffectiveClusters)
	// Quality metrics absent, diagnostics still present.
	assert.Zero(t, metrics.Silhouette)
	assert.Zero(t, metrics.VarianceRatio)
	assert.Greater(t, metrics.Inertia, 0.0)
}

func TestEvaluateClusteringSingletonDoesNotQualify(t *testing.T) {
	vectors := groupedVectors(t, 2, 5, 2)
	// Cluster 1 holds a single point: only one qualifying cluster remains.
	assignments := []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})

	assert.False(t, metrics.Valid)
	assert.Equal(t, ReasonInsufficientClusters, metrics.InvalidReason)
	assert.Equal(t, 2, metrics.EffectiveClusters)
}

func TestEvaluateClusteringExactlyTwoQualifyingIsValid(t *testing.T) {
	vectors := groupedVectors(t, 2, 5, 2)
	assignments := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})
	assert.True(t, metrics.Valid, "two clusters with two or more members each is the validity floor")
}

func TestEvaluateClusteringNoiseDominatedInvalid(t *testing.T) {
	vectors := groupedVectors(t, 2, 5, 2)
	// Eight of ten points are noise.
	assignments := []int{0, 0, NoiseID, NoiseID, NoiseID, NoiseID, NoiseID, NoiseID, NoiseID, NoiseID}

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})

	assert.False(t, metrics.Valid)
	assert.Equal(t, ReasonNoiseTooHigh, metrics.InvalidReason)
	assert.InDelta(t, 0.8, metrics.NoiseRatio, 1e-9)
}

func TestEvaluateClusteringNoiseExcludedFromMetrics(t *testing.T) {
	vectors := groupedVectors(t, 2, 5, 2)
	// A far-off point marked noise must not drag the silhouette down.
	vectors = append(vectors, NormalizeVectors([][]float64{{-1, -0.5}})...)
	assignments := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, NoiseID}

	excluded := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})
	included := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: false, SampleCap: 2000, Seed: 42})

	require.True(t, excluded.Valid)
	require.True(t, included.Valid)
	assert.Greater(t, excluded.Silhouette, included.Silhouette)
	assert.InDelta(t, 1.0/11.0, excluded.NoiseRatio, 1e-9)
}

func TestEvaluateClusteringSampledSilhouetteReproducible(t *testing.T) {
	vectors := groupedVectors(t, 3, 40, 3)
	assignments := make([]int, 120)
	for i := range assignments {
		assignments[i] = i / 40
	}

	opts := EvalOptions{ExcludeNoise: true, SampleCap: 50, Seed: 42}
	first := EvaluateClustering(vectors, assignments, opts)
	second := EvaluateClustering(vectors, assignments, opts)

	require.True(t, first.Valid)
	assert.Equal(t, first.Silhouette, second.Silhouette, "same seed and cap must reproduce the sampled value")
}

func TestEvaluateClusteringDegenerateVariance(t *testing.T) {
	// Two clusters of identical points: zero within-cluster variance.
	vectors := [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}}
	assignments := []int{0, 0, 1, 1}

	metrics := EvaluateClustering(vectors, assignments, EvalOptions{ExcludeNoise: true, SampleCap: 2000, Seed: 42})

	assert.False(t, metrics.Valid)
	assert.Equal(t, ReasonDegenerateVariance, metrics.InvalidReason)
}

func TestCalinskiHarabaszKnownValue(t *testing.T) {
	// Two 1-D clusters at 0 and 10 with symmetric spread 1.
	vectors := [][]float64{{-1}, {1}, {9}, {11}}
	groups := map[int][]int{0: {0, 1}, 1: {2, 3}}

	value, ok := calinskiHarabasz(vectors, groups)
	require.True(t, ok)
	// BCSS = 2*25 + 2*25 = 100, WCSS = 4, so (100/1)/(4/2) = 50.
	assert.InDelta(t, 50.0, value, 1e-9)
}

func TestCalinskiHarabaszNoiseDoesNotInflateDenominator(t *testing.T) {
	vectors := [][]float64{{-1}, {1}, {9}, {11}, {100}, {200}}
	clean := map[int][]int{0: {0, 1}, 1: {2, 3}}
	withNoise := map[int][]int{0: {0, 1}, 1: {2, 3}, NoiseID: {4, 5}}

	base, ok := calinskiHarabasz(vectors, clean)
	require.True(t, ok)
	noisy, ok := calinskiHarabasz(vectors, withNoise)
	require.True(t, ok)

	assert.Equal(t, base, noisy, "noise points must not enter the variance ratio")
}

func TestInertiaKnownValue(t *testing.T) {
	vectors := [][]float64{{0}, {2}, {10}, {12}}
	groups := map[int][]int{0: {0, 1}, 1: {2, 3}}
	// Each cluster contributes 1^2 + 1^2 = 2.
	assert.InDelta(t, 4.0, inertia(vectors, groups), 1e-9)
}
