package revlens

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

// SecondarySignal names the strategy for the K score's second component. The
// exact curve shape is deliberately a strategy, not a fixed formula.
type SecondarySignal string

const (
	// SecondaryElbow scores each K by the inertia improvement over K-1.
	SecondaryElbow SecondarySignal = "ELBOW"
	// SecondaryVarianceRatio scores each K by its Calinski-Harabasz value.
	SecondaryVarianceRatio SecondarySignal = "CALINSKI_HARABASZ"
)

// KScanConfig parameterizes the selector. WK, KThreshold and Penalty are
// runtime parameters so the K-selection curve is reproducible across settings.
type KScanConfig struct {
	KMin       int
	KMax       int
	WK         float64
	KThreshold int
	Penalty    float64
	Seed       int64
	Workers    int
	SampleCap  int
	Secondary  SecondarySignal // empty selects the per-algorithm default
}

// CandidateScore retains every raw and normalized value for one scanned K, so
// callers can render the full K-selection curve.
type CandidateScore struct {
	K              int            `json:"k"`
	Metrics        ClusterMetrics `json:"metrics"`
	RawSecondary   float64        `json:"raw_secondary"`
	NormSilhouette float64        `json:"norm_silhouette"`
	NormSecondary  float64        `json:"norm_secondary"`
	PenaltyApplied float64        `json:"penalty_applied"`
	Score          float64        `json:"score"`
	Valid          bool           `json:"valid"`
	InvalidReason  string         `json:"invalid_reason,omitempty"`
}

// KScanResult is the selector's output: all candidates in ascending K order
// plus the recommendation.
type KScanResult struct {
	Algorithm    Algorithm        `json:"algorithm"`
	Secondary    SecondarySignal  `json:"secondary_signal"`
	Candidates   []CandidateScore `json:"candidates"`
	RecommendedK int              `json:"recommended_k"`
}

// defaultSecondary picks the secondary signal for the algorithm.
func defaultSecondary(alg Algorithm) SecondarySignal {
	if alg == AlgorithmHierarchical {
		return SecondaryVarianceRatio
	}
	return SecondaryElbow
}

// SelectK scans [KMin, KMax], clustering and evaluating each candidate, and
// recommends the K maximizing
//
//	wk*normSil + (1-wk)*normSecondary - penalty*max(0, K-kThreshold)
//
// over valid candidates, ties broken by the smaller K. Candidates run on a
// bounded worker pool; cancellation is cooperative between candidates, never
// mid-candidate.
func SelectK(ctx context.Context, vectors [][]float64, alg Algorithm, cfg KScanConfig) (*KScanResult, error) {
	if alg != AlgorithmPartition && alg != AlgorithmHierarchical {
		return nil, &InvalidConfigurationError{Field: "algorithm", Reason: "K scan applies only to PARTITION and HIERARCHICAL"}
	}
	if cfg.KMin < 2 {
		return nil, &InvalidConfigurationError{Field: "k_min", Reason: "must be at least 2"}
	}
	if cfg.KMax < cfg.KMin {
		return nil, &InvalidConfigurationError{Field: "k_max", Reason: "must be >= k_min"}
	}
	if cfg.WK < 0 || cfg.WK > 1 {
		return nil, &InvalidConfigurationError{Field: "wk", Reason: "must be in [0,1]"}
	}
	if cfg.Penalty < 0 {
		return nil, &InvalidConfigurationError{Field: "penalty", Reason: "must be non-negative"}
	}

	secondary := cfg.Secondary
	if secondary == "" {
		secondary = defaultSecondary(alg)
	}

	numCandidates := cfg.KMax - cfg.KMin + 1
	candidates := make([]CandidateScore, numCandidates)

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i := 0; i < numCandidates; i++ {
		if gctx.Err() != nil {
			break
		}
		k := cfg.KMin + i
		g.Go(func() error {
			candidates[i] = evaluateCandidate(vectors, alg, k, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawSecondaries(candidates, secondary)
	scoreCandidates(candidates, cfg)

	result := &KScanResult{
		Algorithm:  alg,
		Secondary:  secondary,
		Candidates: candidates,
	}

	bestIdx := -1
	for i, c := range candidates {
		if !c.Valid {
			continue
		}
		if bestIdx == -1 || c.Score > candidates[bestIdx].Score {
			bestIdx = i // strict > keeps ties on the smaller K
		}
	}
	if bestIdx == -1 {
		attempts := make([]CandidateFailure, len(candidates))
		for i, c := range candidates {
			attempts[i] = CandidateFailure{K: c.K, Reason: c.InvalidReason}
		}
		return nil, &NoValidCandidateError{Algorithm: alg, Attempts: attempts}
	}

	result.RecommendedK = candidates[bestIdx].K
	return result, nil
}

// evaluateCandidate clusters at one K and evaluates the result. Clustering
// failures become invalid candidates rather than aborting the scan.
func evaluateCandidate(vectors [][]float64, alg Algorithm, k int, cfg KScanConfig) CandidateScore {
	candidate := CandidateScore{K: k}

	clusterer, err := NewClusterer(alg, ClusterParams{K: k, Seed: cfg.Seed})
	if err != nil {
		candidate.InvalidReason = err.Error()
		return candidate
	}
	result, err := clusterer.Cluster(vectors)
	if err != nil {
		candidate.InvalidReason = err.Error()
		return candidate
	}

	metrics := EvaluateClustering(vectors, result.Assignments, EvalOptions{
		ExcludeNoise:        true,
		SampleCap:           cfg.SampleCap,
		Seed:                cfg.Seed,
		ComputeDensityRatio: false,
	})
	metrics.Candidate = k
	candidate.Metrics = metrics
	candidate.Valid = metrics.Valid
	candidate.InvalidReason = metrics.InvalidReason
	return candidate
}

// rawSecondaries fills RawSecondary per the chosen strategy. Elbow improvement
// for the first candidate borrows the next candidate's improvement so min-max
// normalization has a defined value at the range edge.
func rawSecondaries(candidates []CandidateScore, secondary SecondarySignal) {
	switch secondary {
	case SecondaryVarianceRatio:
		for i := range candidates {
			if candidates[i].Valid {
				candidates[i].RawSecondary = candidates[i].Metrics.VarianceRatio
			}
		}
	default: // SecondaryElbow
		for i := range candidates {
			if i == 0 {
				continue
			}
			candidates[i].RawSecondary = candidates[i-1].Metrics.Inertia - candidates[i].Metrics.Inertia
		}
		if len(candidates) > 1 {
			candidates[0].RawSecondary = candidates[1].RawSecondary
		}
	}
}

// scoreCandidates normalizes the signals across valid candidates and applies
// the composite score with the oversized-K penalty.
func scoreCandidates(candidates []CandidateScore, cfg KScanConfig) {
	var sils, secs []float64
	for _, c := range candidates {
		if c.Valid {
			sils = append(sils, c.Metrics.Silhouette)
			secs = append(secs, c.RawSecondary)
		}
	}
	silMin, silMax := minMax(sils)
	secMin, secMax := minMax(secs)

	for i := range candidates {
		if !candidates[i].Valid {
			continue
		}
		candidates[i].NormSilhouette = minMaxNorm(candidates[i].Metrics.Silhouette, silMin, silMax)
		candidates[i].NormSecondary = minMaxNorm(candidates[i].RawSecondary, secMin, secMax)
		candidates[i].PenaltyApplied = cfg.Penalty * math.Max(0, float64(candidates[i].K-cfg.KThreshold))
		candidates[i].Score = cfg.WK*candidates[i].NormSilhouette +
			(1-cfg.WK)*candidates[i].NormSecondary -
			candidates[i].PenaltyApplied
	}
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// minMaxNorm scales v into [0,1]; a flat signal normalizes to 0.5 so it
// neither favors nor punishes any candidate.
func minMaxNorm(v, lo, hi float64) float64 {
	if hi-lo < 1e-12 {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}
