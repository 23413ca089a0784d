package revlens

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Reasons attached to invalid ClusterMetrics.
const (
	ReasonInsufficientClusters = "insufficient effective clusters"
	ReasonNoiseTooHigh         = "noise ratio too high"
	ReasonDegenerateVariance   = "degenerate within-cluster variance"
)

// ClusterMetrics holds the quality signals for one clustering result. When
// Valid is false the quality metrics are absent (not zero) and InvalidReason
// says why; NoiseRatio and Inertia are diagnostics computed regardless.
type ClusterMetrics struct {
	Candidate         int     `json:"candidate"` // the K (or effective count for DENSITY) this record describes
	Valid             bool    `json:"valid"`
	InvalidReason     string  `json:"invalid_reason,omitempty"`
	Silhouette        float64 `json:"silhouette,omitempty"`
	VarianceRatio     float64 `json:"variance_ratio,omitempty"` // Calinski-Harabasz
	DensityRatio      float64 `json:"density_ratio,omitempty"`  // intra distance / inter-centroid distance, lower is better
	HasDensityRatio   bool    `json:"has_density_ratio,omitempty"`
	Inertia           float64 `json:"inertia"` // within-cluster sum of squares
	EffectiveClusters int     `json:"effective_clusters"`
	NoiseRatio        float64 `json:"noise_ratio"`
}

// EvalOptions parameterizes the evaluator. SampleCap bounds the silhouette
// computation; the sample is a fixed seeded subset so repeated evaluation of
// the same result is reproducible.
type EvalOptions struct {
	ExcludeNoise        bool
	SampleCap           int
	Seed                int64
	ComputeDensityRatio bool
}

// EvaluateClustering computes cohesion/separation metrics for a clustering
// result. Noise points are excluded from all metric math when ExcludeNoise is
// set; otherwise noise is treated as one extra group.
func EvaluateClustering(vectors [][]float64, assignments []int, opts EvalOptions) ClusterMetrics {
	n := len(assignments)
	metrics := ClusterMetrics{}

	noiseCount := 0
	for _, id := range assignments {
		if id == NoiseID {
			noiseCount++
		}
	}
	if n > 0 {
		metrics.NoiseRatio = float64(noiseCount) / float64(n)
	}

	// Working subset and group structure.
	groups := make(map[int][]int)
	var subset []int
	for i, id := range assignments {
		if id == NoiseID && opts.ExcludeNoise {
			continue
		}
		groups[id] = append(groups[id], i)
		subset = append(subset, i)
	}

	effective := 0
	qualifying := 0
	for id, members := range groups {
		if id == NoiseID {
			continue
		}
		effective++
		if len(members) >= 2 {
			qualifying++
		}
	}
	metrics.Candidate = effective
	metrics.EffectiveClusters = effective

	metrics.Inertia = inertia(vectors, groups)

	if qualifying < 2 {
		if metrics.NoiseRatio > 0.5 {
			metrics.InvalidReason = ReasonNoiseTooHigh
		} else {
			metrics.InvalidReason = ReasonInsufficientClusters
		}
		return metrics
	}

	varianceRatio, ok := calinskiHarabasz(vectors, groups)
	if !ok {
		metrics.InvalidReason = ReasonDegenerateVariance
		return metrics
	}
	metrics.VarianceRatio = varianceRatio

	metrics.Silhouette = silhouette(vectors, assignments, subset, opts)

	if opts.ComputeDensityRatio {
		if ratio, ok := densityRatio(vectors, groups); ok {
			metrics.DensityRatio = ratio
			metrics.HasDensityRatio = true
		}
	}

	metrics.Valid = true
	return metrics
}

// sortedGroupIDs returns the non-noise group ids in ascending order, so float
// accumulation order is fixed and repeated evaluation is bit-reproducible.
func sortedGroupIDs(groups map[int][]int) []int {
	ids := make([]int, 0, len(groups))
	for id := range groups {
		if id != NoiseID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// inertia is the within-cluster sum of squared euclidean distances to centroids.
func inertia(vectors [][]float64, groups map[int][]int) float64 {
	total := 0.0
	for _, id := range sortedGroupIDs(groups) {
		members := groups[id]
		if len(members) == 0 {
			continue
		}
		centroid := Centroid(vectors, members)
		for _, idx := range members {
			for j, val := range vectors[idx] {
				diff := val - centroid[j]
				total += diff * diff
			}
		}
	}
	return total
}

// calinskiHarabasz computes the variance-ratio criterion
// (BCSS/(k-1)) / (WCSS/(n-k)), where n counts only the points in non-noise
// groups. Returns ok=false when the within variance degenerates to zero, which
// downstream reports as absent metrics.
func calinskiHarabasz(vectors [][]float64, groups map[int][]int) (float64, bool) {
	ids := sortedGroupIDs(groups)

	var all []int
	for _, id := range ids {
		all = append(all, groups[id]...)
	}
	n := len(all)
	if n == 0 {
		return 0, false
	}
	overall := Centroid(vectors, all)

	bcss := 0.0
	wcss := 0.0
	k := 0
	for _, id := range ids {
		members := groups[id]
		if len(members) == 0 {
			continue
		}
		k++
		centroid := Centroid(vectors, members)
		dist := 0.0
		for j, val := range centroid {
			diff := val - overall[j]
			dist += diff * diff
		}
		bcss += float64(len(members)) * dist

		for _, idx := range members {
			for j, val := range vectors[idx] {
				diff := val - centroid[j]
				wcss += diff * diff
			}
		}
	}

	if k < 2 || n <= k || wcss == 0 {
		return 0, false
	}
	return (bcss / float64(k-1)) / (wcss / float64(n-k)), true
}

// silhouette computes the mean silhouette over the subset, sampled down to
// opts.SampleCap points with a seeded permutation when the subset is larger.
// Pairwise terms use cosine distance among the sampled points.
func silhouette(vectors [][]float64, assignments []int, subset []int, opts EvalOptions) float64 {
	sample := subset
	if opts.SampleCap > 0 && len(subset) > opts.SampleCap {
		rng := rand.New(rand.NewSource(opts.Seed))
		perm := rng.Perm(len(subset))
		sample = make([]int, opts.SampleCap)
		for i := 0; i < opts.SampleCap; i++ {
			sample[i] = subset[perm[i]]
		}
		sort.Ints(sample)
	}

	sampleGroups := make(map[int][]int)
	for _, idx := range sample {
		id := assignments[idx]
		sampleGroups[id] = append(sampleGroups[id], idx)
	}

	var scores []float64
	for _, idx := range sample {
		own := assignments[idx]

		a := 0.0
		ownCount := 0
		for _, other := range sampleGroups[own] {
			if other == idx {
				continue
			}
			a += cosineDistance(vectors[idx], vectors[other])
			ownCount++
		}
		if ownCount == 0 {
			// Singleton within the sample: silhouette undefined, counted as 0.
			scores = append(scores, 0)
			continue
		}
		a /= float64(ownCount)

		b := math.Inf(1)
		for id, members := range sampleGroups {
			if id == own || len(members) == 0 {
				continue
			}
			avg := 0.0
			for _, other := range members {
				avg += cosineDistance(vectors[idx], vectors[other])
			}
			avg /= float64(len(members))
			if avg < b {
				b = avg
			}
		}
		if math.IsInf(b, 1) {
			scores = append(scores, 0)
			continue
		}

		s := 0.0
		if math.Max(a, b) > 0 {
			s = (b - a) / math.Max(a, b)
		}
		scores = append(scores, s)
	}

	if len(scores) == 0 {
		return 0
	}
	return stat.Mean(scores, nil)
}

// densityRatio is the mean intra-cluster pairwise cosine distance over the mean
// pairwise inter-centroid cosine distance. Lower means denser, better-separated
// clusters. ok=false when centroids coincide.
func densityRatio(vectors [][]float64, groups map[int][]int) (float64, bool) {
	var intra []float64
	var centroids [][]float64

	ids := make([]int, 0, len(groups))
	for id := range groups {
		if id != NoiseID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		members := groups[id]
		if len(members) == 0 {
			continue
		}
		centroids = append(centroids, Centroid(vectors, members))
		if len(members) < 2 {
			continue
		}
		sum := 0.0
		pairs := 0
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				sum += cosineDistance(vectors[members[i]], vectors[members[j]])
				pairs++
			}
		}
		intra = append(intra, sum/float64(pairs))
	}

	if len(intra) == 0 || len(centroids) < 2 {
		return 0, false
	}

	interSum := 0.0
	interPairs := 0
	for i := 0; i < len(centroids); i++ {
		for j := i + 1; j < len(centroids); j++ {
			interSum += cosineDistance(centroids[i], centroids[j])
			interPairs++
		}
	}
	inter := interSum / float64(interPairs)
	if inter == 0 {
		return 0, false
	}

	return stat.Mean(intra, nil) / inter, true
}
