package revlens

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Algorithm is the closed set of clustering strategies.
type Algorithm string

const (
	AlgorithmPartition    Algorithm = "PARTITION"
	AlgorithmDensity      Algorithm = "DENSITY"
	AlgorithmHierarchical Algorithm = "HIERARCHICAL"
)

// NoiseID is the sentinel assignment for density-based points outside any dense
// region. It is not a cluster id.
const NoiseID = -1

// ClusterParams carries the per-algorithm parameters. K applies to PARTITION and
// HIERARCHICAL; Eps and MinSamples to DENSITY. Seed makes PARTITION runs
// deterministic.
type ClusterParams struct {
	K          int     `json:"k,omitempty"`
	Eps        float64 `json:"eps,omitempty"`
	MinSamples int     `json:"min_samples,omitempty"`
	Seed       int64   `json:"seed"`
}

// ClusteringResult assigns a cluster id (or NoiseID) to every input vector, in
// input order, together with the algorithm and parameters that produced it.
type ClusteringResult struct {
	Algorithm   Algorithm     `json:"algorithm"`
	Params      ClusterParams `json:"params"`
	Assignments []int         `json:"assignments"`
	NumClusters int           `json:"num_clusters"` // distinct non-noise ids
}

// Clusterer is the single capability interface all strategies dispatch through.
type Clusterer interface {
	Cluster(vectors [][]float64) (*ClusteringResult, error)
}

// NewClusterer validates params for the chosen algorithm and returns the
// matching strategy.
func NewClusterer(alg Algorithm, p ClusterParams) (Clusterer, error) {
	switch alg {
	case AlgorithmPartition:
		if p.K < 2 {
			return nil, &InvalidConfigurationError{Field: "k", Reason: "must be at least 2 for PARTITION"}
		}
		return &kmeansClusterer{params: p}, nil
	case AlgorithmDensity:
		if p.Eps <= 0 {
			return nil, &InvalidConfigurationError{Field: "eps", Reason: "must be positive for DENSITY"}
		}
		if p.MinSamples < 1 {
			return nil, &InvalidConfigurationError{Field: "min_samples", Reason: "must be at least 1 for DENSITY"}
		}
		return &dbscanClusterer{params: p}, nil
	case AlgorithmHierarchical:
		if p.K < 2 {
			return nil, &InvalidConfigurationError{Field: "k", Reason: "must be at least 2 for HIERARCHICAL"}
		}
		return &hierarchicalClusterer{params: p}, nil
	default:
		return nil, &InvalidConfigurationError{Field: "algorithm", Reason: "unknown algorithm " + string(alg)}
	}
}

// cosineSimilarity between two vectors; 0 when either has zero norm.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	dot, normA, normB := 0.0, 0.0, 0.0
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity, the distance used throughout.
func cosineDistance(a, b []float64) float64 {
	return 1.0 - cosineSimilarity(a, b)
}

// NormalizeVectors applies L2 normalization to every vector, returning new
// slices. Zero vectors are copied unchanged.
func NormalizeVectors(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		norm := 0.0
		for _, val := range v {
			norm += val * val
		}
		norm = math.Sqrt(norm)
		nv := make([]float64, len(v))
		if norm > 0 {
			for j, val := range v {
				nv[j] = val / norm
			}
		} else {
			copy(nv, v)
		}
		out[i] = nv
	}
	return out
}

// allDegenerate reports whether every vector is identical (all pairwise
// distances collapse to zero).
func allDegenerate(vectors [][]float64) bool {
	for i := 1; i < len(vectors); i++ {
		if cosineDistance(vectors[0], vectors[i]) > 1e-12 {
			return false
		}
		for j := range vectors[i] {
			if math.Abs(vectors[i][j]-vectors[0][j]) > 1e-12 {
				return false
			}
		}
	}
	return true
}

// singleClusterResult is the degenerate-input fallback: one cluster, no error.
// Downstream metrics mark it invalid via the effective-cluster rule.
func singleClusterResult(alg Algorithm, p ClusterParams, n int) *ClusteringResult {
	return &ClusteringResult{
		Algorithm:   alg,
		Params:      p,
		Assignments: make([]int, n),
		NumClusters: 1,
	}
}

func countClusters(assignments []int) int {
	seen := make(map[int]struct{})
	for _, id := range assignments {
		if id != NoiseID {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// ---- PARTITION (k-means) ----

type kmeansClusterer struct {
	params ClusterParams
}

// Cluster runs k-means with k-means++ initialization. All randomness flows from
// the seeded source, so a fixed seed reproduces assignments bit for bit.
func (c *kmeansClusterer) Cluster(vectors [][]float64) (*ClusteringResult, error) {
	n := len(vectors)
	k := c.params.K
	if n < k {
		return nil, &InsufficientDataError{Algorithm: AlgorithmPartition, Have: n, Need: k}
	}
	if allDegenerate(vectors) {
		return singleClusterResult(AlgorithmPartition, c.params, n), nil
	}

	dim := len(vectors[0])
	data := mat.NewDense(n, dim, nil)
	for i, v := range vectors {
		data.SetRow(i, v)
	}

	rng := rand.New(rand.NewSource(c.params.Seed))
	centroids := initCentroidsKMeansPlusPlus(data, k, rng)

	const maxIterations = 100
	const tolerance = 1e-4

	assignments := make([]int, n)
	for iteration := 0; iteration < maxIterations; iteration++ {
		newAssignments := assignToCentroids(data, centroids)

		converged := true
		for i := range assignments {
			if assignments[i] != newAssignments[i] {
				converged = false
				break
			}
		}
		assignments = newAssignments
		if converged && iteration > 0 {
			break
		}

		newCentroids := updateCentroids(data, assignments, k)
		change := centroidChange(centroids, newCentroids)
		centroids = newCentroids
		if change < tolerance {
			break
		}
	}

	return &ClusteringResult{
		Algorithm:   AlgorithmPartition,
		Params:      c.params,
		Assignments: assignments,
		NumClusters: countClusters(assignments),
	}, nil
}

// initCentroidsKMeansPlusPlus seeds k centroids, spreading them by squared
// cosine distance to the nearest already-chosen centroid.
func initCentroidsKMeansPlusPlus(data *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)

	firstIdx := rng.Intn(n)
	centroids.SetRow(0, data.RawRowView(firstIdx))

	for i := 1; i < k; i++ {
		distances := make([]float64, n)
		for j := 0; j < n; j++ {
			point := data.RawRowView(j)
			minDist := math.Inf(1)
			for c := 0; c < i; c++ {
				dist := cosineDistance(point, centroids.RawRowView(c))
				if dist < minDist {
					minDist = dist
				}
			}
			distances[j] = minDist * minDist
		}

		totalWeight := 0.0
		for _, dist := range distances {
			totalWeight += dist
		}
		if totalWeight == 0 {
			centroids.SetRow(i, data.RawRowView(rng.Intn(n)))
			continue
		}

		target := rng.Float64() * totalWeight
		cumWeight := 0.0
		for j, dist := range distances {
			cumWeight += dist
			if cumWeight >= target {
				centroids.SetRow(i, data.RawRowView(j))
				break
			}
		}
	}

	return centroids
}

// assignToCentroids assigns each point to its nearest centroid by cosine distance.
func assignToCentroids(data *mat.Dense, centroids *mat.Dense) []int {
	n, _ := data.Dims()
	k, _ := centroids.Dims()
	assignments := make([]int, n)

	for i := 0; i < n; i++ {
		point := data.RawRowView(i)
		minDist := math.Inf(1)
		best := 0
		for j := 0; j < k; j++ {
			dist := cosineDistance(point, centroids.RawRowView(j))
			if dist < minDist {
				minDist = dist
				best = j
			}
		}
		assignments[i] = best
	}

	return assignments
}

// updateCentroids recomputes each centroid as the mean of its members. Empty
// clusters keep a zero centroid and lose all points next round.
func updateCentroids(data *mat.Dense, assignments []int, k int) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)
	counts := make([]int, k)

	for i := 0; i < n; i++ {
		id := assignments[i]
		point := data.RawRowView(i)
		for j := 0; j < d; j++ {
			centroids.Set(id, j, centroids.At(id, j)+point[j])
		}
		counts[id]++
	}

	for i := 0; i < k; i++ {
		if counts[i] > 0 {
			for j := 0; j < d; j++ {
				centroids.Set(i, j, centroids.At(i, j)/float64(counts[i]))
			}
		}
	}

	return centroids
}

func centroidChange(oldCentroids, newCentroids *mat.Dense) float64 {
	k, _ := oldCentroids.Dims()
	total := 0.0
	for i := 0; i < k; i++ {
		total += cosineDistance(oldCentroids.RawRowView(i), newCentroids.RawRowView(i))
	}
	return total / float64(k)
}

// ---- DENSITY (DBSCAN) ----

type dbscanClusterer struct {
	params ClusterParams
}

func (c *dbscanClusterer) Cluster(vectors [][]float64) (*ClusteringResult, error) {
	n := len(vectors)
	if n < c.params.MinSamples {
		return nil, &InsufficientDataError{Algorithm: AlgorithmDensity, Have: n, Need: c.params.MinSamples}
	}
	if allDegenerate(vectors) {
		return singleClusterResult(AlgorithmDensity, c.params, n), nil
	}

	visited := make([]bool, n)
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = NoiseID
	}

	currentCluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := findNeighbors(vectors, i, c.params.Eps)
		if len(neighbors) < c.params.MinSamples {
			continue // stays noise unless claimed by a later expansion
		}
		expandCluster(vectors, i, neighbors, currentCluster, c.params.Eps, c.params.MinSamples, visited, assignments)
		currentCluster++
	}

	return &ClusteringResult{
		Algorithm:   AlgorithmDensity,
		Params:      c.params,
		Assignments: assignments,
		NumClusters: currentCluster,
	}, nil
}

// findNeighbors returns indices within eps cosine distance of point i,
// including i itself (the core-point count includes the point).
func findNeighbors(vectors [][]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	for i := range vectors {
		if cosineDistance(vectors[pointIdx], vectors[i]) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

func expandCluster(vectors [][]float64, pointIdx int, neighbors []int, clusterID int, eps float64, minSamples int, visited []bool, assignments []int) {
	assignments[pointIdx] = clusterID

	inQueue := make(map[int]bool, len(neighbors))
	for _, idx := range neighbors {
		inQueue[idx] = true
	}

	for i := 0; i < len(neighbors); i++ {
		nIdx := neighbors[i]

		if !visited[nIdx] {
			visited[nIdx] = true
			newNeighbors := findNeighbors(vectors, nIdx, eps)
			if len(newNeighbors) >= minSamples {
				for _, newN := range newNeighbors {
					if !inQueue[newN] {
						inQueue[newN] = true
						neighbors = append(neighbors, newN)
					}
				}
			}
		}

		if assignments[nIdx] == NoiseID {
			assignments[nIdx] = clusterID
		}
	}
}

// ---- HIERARCHICAL (agglomerative, average linkage) ----

type hierarchicalClusterer struct {
	params ClusterParams
}

// Cluster merges clusters pairwise by minimum average cosine distance until K
// remain, then relabels them by size so ids are stable across runs.
func (c *hierarchicalClusterer) Cluster(vectors [][]float64) (*ClusteringResult, error) {
	n := len(vectors)
	k := c.params.K
	if n < k {
		return nil, &InsufficientDataError{Algorithm: AlgorithmHierarchical, Have: n, Need: k}
	}
	if allDegenerate(vectors) {
		return singleClusterResult(AlgorithmHierarchical, c.params, n), nil
	}

	clusters := make([][]int, n)
	for i := 0; i < n; i++ {
		clusters[i] = []int{i}
	}

	distMatrix := make([][]float64, n)
	for i := 0; i < n; i++ {
		distMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				distMatrix[i][j] = cosineDistance(vectors[i], vectors[j])
			}
		}
	}

	for len(clusters) > k {
		minDist := math.Inf(1)
		mergeI, mergeJ := -1, -1

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				avgDist := 0.0
				count := 0
				for _, idxI := range clusters[i] {
					for _, idxJ := range clusters[j] {
						avgDist += distMatrix[idxI][idxJ]
						count++
					}
				}
				if count > 0 {
					avgDist /= float64(count)
				}
				if avgDist < minDist {
					minDist = avgDist
					mergeI, mergeJ = i, j
				}
			}
		}

		if mergeI == -1 {
			break
		}
		clusters[mergeI] = append(clusters[mergeI], clusters[mergeJ]...)
		clusters = append(clusters[:mergeJ], clusters[mergeJ+1:]...)
	}

	// Largest cluster gets id 0, then descending; ties by first member index
	// for determinism.
	sort.SliceStable(clusters, func(i, j int) bool {
		if len(clusters[i]) != len(clusters[j]) {
			return len(clusters[i]) > len(clusters[j])
		}
		return clusters[i][0] < clusters[j][0]
	})

	assignments := make([]int, n)
	for id, members := range clusters {
		for _, idx := range members {
			assignments[idx] = id
		}
	}

	return &ClusteringResult{
		Algorithm:   AlgorithmHierarchical,
		Params:      c.params,
		Assignments: assignments,
		NumClusters: len(clusters),
	}, nil
}

// ---- cluster geometry helpers shared with metrics, ranking and reporting ----

// clusterMembers groups vector indices by assignment, excluding noise.
func clusterMembers(assignments []int) map[int][]int {
	members := make(map[int][]int)
	for i, id := range assignments {
		if id == NoiseID {
			continue
		}
		members[id] = append(members[id], i)
	}
	return members
}

// Centroid returns the mean of the given vectors' rows.
func Centroid(vectors [][]float64, indices []int) []float64 {
	if len(indices) == 0 {
		return nil
	}
	dim := len(vectors[indices[0]])
	centroid := make([]float64, dim)
	for _, idx := range indices {
		for j, val := range vectors[idx] {
			centroid[j] += val
		}
	}
	for j := range centroid {
		centroid[j] /= float64(len(indices))
	}
	return centroid
}

// ClusteringStability measures assignment agreement across repeated seeded runs
// of the same algorithm. 1 means every pair of points lands on the same side of
// the together/apart decision in every run.
func ClusteringStability(vectors [][]float64, alg Algorithm, params ClusterParams, runs int) (float64, error) {
	if runs < 2 {
		return 1.0, nil
	}

	var results []*ClusteringResult
	for run := 0; run < runs; run++ {
		p := params
		p.Seed = params.Seed + int64(run)
		clusterer, err := NewClusterer(alg, p)
		if err != nil {
			return 0, err
		}
		result, err := clusterer.Cluster(vectors)
		if err != nil {
			return 0, err
		}
		results = append(results, result)
	}

	totalAgreement := 0.0
	totalPairs := 0
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			totalAgreement += assignmentAgreement(results[i].Assignments, results[j].Assignments)
			totalPairs++
		}
	}
	if totalPairs == 0 {
		return 1.0, nil
	}
	return totalAgreement / float64(totalPairs), nil
}

// assignmentAgreement is the fraction of point pairs on which two clusterings
// agree about co-membership.
func assignmentAgreement(a, b []int) float64 {
	n := len(a)
	agreements, total := 0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sameA := a[i] == a[j]
			sameB := b[i] == b[j]
			if sameA == sameB {
				agreements++
			}
			total++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(agreements) / float64(total)
}
