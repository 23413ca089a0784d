package revlens

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Stage identifies one step of the clustering-and-scoring pipeline. Stages are
// ordered: invalidating one invalidates everything after it.
type Stage int

const (
	StageFilter Stage = iota
	StageCluster
	StageAggregate
	StageRank
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageFilter:
		return "filter"
	case StageCluster:
		return "cluster"
	case StageAggregate:
		return "aggregate"
	case StageRank:
		return "rank"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// PipelineInputs are the externally produced inputs the core consumes:
// ingested reviews plus the per-review outputs of the sentiment and embedding
// collaborators, addressed by review id.
type PipelineInputs struct {
	Reviews    []Review
	Sentiments map[string]SentimentResult
	Embeddings map[string][]float64
}

// Pipeline holds the last valid output of every stage together with per-stage
// version counters. A parameter change bumps its stage and all downstream
// stages; Run re-executes only stages whose counter moved since they last ran.
// A Pipeline is owned by a single run and is not safe for concurrent use.
type Pipeline struct {
	RunID    string
	settings Settings
	inputs   PipelineInputs
	taxonomy AttributeTaxonomy

	version [stageCount]uint64
	applied [stageCount]uint64

	// Stage outputs. Each is a pure function of the inputs and the settings
	// snapshot in force when its stage last ran.
	Scores        []NegativityScore // all reviews, input order
	Kept          []Review          // the negative subset, input order
	KeptScores    map[string]NegativityScore
	Vectors       [][]float64 // normalized embeddings of Kept
	Scan          *KScanResult
	Clustering    *ClusteringResult
	Metrics       ClusterMetrics
	Stability     float64
	Matrix        *AttributeMatrix
	Priorities    []ClusterPriority
	Opportunities []OpportunityRow
}

// NewPipeline validates the settings snapshot and prepares a run.
func NewPipeline(settings Settings, inputs PipelineInputs, taxonomy AttributeTaxonomy) (*Pipeline, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		RunID:    uuid.NewString(),
		settings: settings,
		inputs:   inputs,
		taxonomy: taxonomy,
	}
	p.invalidate(StageFilter)
	return p, nil
}

// Settings returns the current settings snapshot.
func (p *Pipeline) Settings() Settings { return p.settings }

// invalidate bumps the counters of stage and everything downstream.
func (p *Pipeline) invalidate(stage Stage) {
	for s := stage; s < stageCount; s++ {
		p.version[s]++
	}
}

func (p *Pipeline) dirty(stage Stage) bool {
	return p.version[stage] > p.applied[stage]
}

// SetInputs replaces the input graph and invalidates everything.
func (p *Pipeline) SetInputs(inputs PipelineInputs) {
	p.inputs = inputs
	p.invalidate(StageFilter)
}

// SetFilterParams updates the negativity-filter parameters.
func (p *Pipeline) SetFilterParams(mode NegativeMode, starThreshold int, confThreshold, wStar, wSent, keepThreshold float64) error {
	s := p.settings
	s.NegativeMode = mode
	s.StarThreshold = starThreshold
	s.ConfThreshold = confThreshold
	s.WStar = wStar
	s.WSent = wSent
	s.KeepThreshold = keepThreshold
	if err := s.Validate(); err != nil {
		return err
	}
	p.settings = s
	p.invalidate(StageFilter)
	return nil
}

// SetClusterParams updates the clustering/K-selection parameters.
func (p *Pipeline) SetClusterParams(alg Algorithm, kMin, kMax int, eps float64, minSamples int) error {
	s := p.settings
	s.Algorithm = alg
	s.KMin = kMin
	s.KMax = kMax
	s.Eps = eps
	s.MinSamples = minSamples
	if err := s.Validate(); err != nil {
		return err
	}
	p.settings = s
	p.invalidate(StageCluster)
	return nil
}

// SetTaxonomy replaces the cluster→attribute mapping.
func (p *Pipeline) SetTaxonomy(taxonomy AttributeTaxonomy) {
	p.taxonomy = taxonomy
	p.invalidate(StageAggregate)
}

// SetMinOpportunityGap updates the opportunity surfacing threshold.
func (p *Pipeline) SetMinOpportunityGap(gap float64) error {
	s := p.settings
	s.MinOpportunityGap = gap
	if err := s.Validate(); err != nil {
		return err
	}
	p.settings = s
	p.invalidate(StageRank)
	return nil
}

// Run executes every dirty stage in order. A failing stage aborts the run with
// a StageError; already-applied upstream outputs stay valid so the caller can
// adjust parameters and re-run only what changed.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.RunThrough(ctx, StageRank)
}

// RunThrough executes dirty stages up to and including last. The clustering
// step uses this to stop before aggregation, which needs a taxonomy authored
// against the new clusters.
func (p *Pipeline) RunThrough(ctx context.Context, last Stage) error {
	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageFilter, p.runFilter},
		{StageCluster, p.runCluster},
		{StageAggregate, p.runAggregate},
		{StageRank, p.runRank},
	}

	for _, step := range steps {
		if step.stage > last {
			break
		}
		if !p.dirty(step.stage) {
			log.Debug().Str("run_id", p.RunID).Stringer("stage", step.stage).Msg("stage up to date, skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: step.stage.String(), Err: err}
		}
		if err := step.fn(ctx); err != nil {
			return &StageError{Stage: step.stage.String(), Err: err}
		}
		p.applied[step.stage] = p.version[step.stage]
		log.Info().Str("run_id", p.RunID).Stringer("stage", step.stage).Msg("stage complete")
	}

	return nil
}

func (p *Pipeline) runFilter(ctx context.Context) error {
	scores, err := ScoreReviews(ctx, p.inputs.Reviews, p.inputs.Sentiments, p.settings.FilterConfig())
	if err != nil {
		return err
	}
	p.Scores = scores

	p.Kept = nil
	p.KeptScores = make(map[string]NegativityScore)
	for i, score := range scores {
		if !score.Negative {
			continue
		}
		p.Kept = append(p.Kept, p.inputs.Reviews[i])
		p.KeptScores[score.ReviewID] = score
	}

	log.Info().Int("total", len(scores)).Int("negative", len(p.Kept)).Msg("negative-review filter applied")
	return nil
}

func (p *Pipeline) runCluster(ctx context.Context) error {
	vectors := make([][]float64, len(p.Kept))
	for i, review := range p.Kept {
		v, ok := p.inputs.Embeddings[review.ID]
		if !ok {
			return &MissingFeatureError{Feature: "embedding", ReviewID: review.ID}
		}
		vectors[i] = v
	}
	p.Vectors = NormalizeVectors(vectors)

	params := ClusterParams{
		Eps:        p.settings.Eps,
		MinSamples: p.settings.MinSamples,
		Seed:       p.settings.Seed,
	}

	if p.settings.Algorithm == AlgorithmDensity {
		p.Scan = nil
	} else {
		scan, err := SelectK(ctx, p.Vectors, p.settings.Algorithm, p.settings.ScanConfig())
		if err != nil {
			return err
		}
		p.Scan = scan
		params.K = scan.RecommendedK
	}

	clusterer, err := NewClusterer(p.settings.Algorithm, params)
	if err != nil {
		return err
	}
	result, err := clusterer.Cluster(p.Vectors)
	if err != nil {
		return err
	}
	p.Clustering = result
	p.Metrics = EvaluateClustering(p.Vectors, result.Assignments, p.settings.EvalOptions())

	if p.settings.StabilityRuns > 1 && p.settings.Algorithm == AlgorithmPartition {
		stability, err := ClusteringStability(p.Vectors, p.settings.Algorithm, params, p.settings.StabilityRuns)
		if err != nil {
			return err
		}
		p.Stability = stability
	} else {
		p.Stability = 1.0
	}

	log.Info().
		Str("algorithm", string(p.settings.Algorithm)).
		Int("clusters", result.NumClusters).
		Float64("noise_ratio", p.Metrics.NoiseRatio).
		Msg("clustering complete")
	return nil
}

func (p *Pipeline) runAggregate(_ context.Context) error {
	matrix, err := BuildAttributeMatrix(p.Kept, p.Clustering, p.taxonomy, p.KeptScores, p.settings.IncludeNoiseDownstream)
	if err != nil {
		return err
	}
	p.Matrix = matrix
	return nil
}

func (p *Pipeline) runRank(_ context.Context) error {
	priorities, err := RankClusters(p.Kept, p.Clustering, p.KeptScores, p.settings.IncludeNoiseDownstream)
	if err != nil {
		return err
	}
	p.Priorities = priorities
	p.Opportunities = RankOpportunities(p.Matrix, p.settings.MinOpportunityGap)
	return nil
}
