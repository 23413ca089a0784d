package revlens

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipelineFixture builds three embedded review groups across two products, all
// one-star so STAR_ONLY keeps everything.
func pipelineFixture(t *testing.T) PipelineInputs {
	t.Helper()

	rng := rand.New(rand.NewSource(11))
	inputs := PipelineInputs{
		Sentiments: make(map[string]SentimentResult),
		Embeddings: make(map[string][]float64),
	}

	id := 0
	for g := 0; g < 3; g++ {
		for i := 0; i < 8; i++ {
			reviewID := fmt.Sprintf("r%03d", id)
			id++

			asin := "A"
			if i%2 == 0 {
				asin = "B"
			}
			inputs.Reviews = append(inputs.Reviews, Review{ID: reviewID, Text: "broken", Star: intPtr(1), ASIN: asin})

			v := make([]float64, 3)
			v[g] = 1.0
			for j := range v {
				v[j] += rng.Float64() * 0.05
			}
			inputs.Embeddings[reviewID] = v
		}
	}
	return inputs
}

func pipelineSettings() Settings {
	settings := DefaultSettings()
	settings.NegativeMode = ModeStarOnly
	settings.Algorithm = AlgorithmPartition
	settings.KMin = 2
	settings.KMax = 4
	settings.Workers = 2
	settings.StabilityRuns = 3
	return settings
}

func TestPipelineRunEndToEnd(t *testing.T) {
	pipeline, err := NewPipeline(pipelineSettings(), pipelineFixture(t), AttributeTaxonomy{0: "grip", 1: "battery", 2: "noise-level"})
	require.NoError(t, err)
	require.NotEmpty(t, pipeline.RunID)

	require.NoError(t, pipeline.Run(context.Background()))

	assert.Len(t, pipeline.Kept, 24, "one-star reviews all pass STAR_ONLY")
	require.NotNil(t, pipeline.Scan)
	assert.Equal(t, 3, pipeline.Scan.RecommendedK)
	require.NotNil(t, pipeline.Clustering)
	assert.Equal(t, 3, pipeline.Clustering.NumClusters)
	assert.True(t, pipeline.Metrics.Valid)
	assert.InDelta(t, 1.0, pipeline.Stability, 1e-9)

	require.NotNil(t, pipeline.Matrix)
	assert.Equal(t, []string{"A", "B"}, pipeline.Matrix.ASINs)
	assert.Len(t, pipeline.Priorities, 3)
	assert.NotEmpty(t, pipeline.Opportunities)
}

func TestPipelineRunThroughClusterSkipsDownstream(t *testing.T) {
	pipeline, err := NewPipeline(pipelineSettings(), pipelineFixture(t), nil)
	require.NoError(t, err)

	require.NoError(t, pipeline.RunThrough(context.Background(), StageCluster))

	assert.NotNil(t, pipeline.Clustering)
	assert.Nil(t, pipeline.Matrix)
	assert.Nil(t, pipeline.Priorities)
}

func TestPipelineReusesCleanStages(t *testing.T) {
	pipeline, err := NewPipeline(pipelineSettings(), pipelineFixture(t), AttributeTaxonomy{})
	require.NoError(t, err)
	require.NoError(t, pipeline.Run(context.Background()))

	clustering := pipeline.Clustering
	matrix := pipeline.Matrix

	// A ranking-only change must not re-run upstream stages.
	require.NoError(t, pipeline.SetMinOpportunityGap(0.2))
	require.NoError(t, pipeline.Run(context.Background()))

	assert.Same(t, clustering, pipeline.Clustering, "cluster stage must not re-run")
	assert.Same(t, matrix, pipeline.Matrix, "aggregate stage must not re-run")

	// A taxonomy change re-runs aggregation but not clustering.
	pipeline.SetTaxonomy(AttributeTaxonomy{0: "grip"})
	require.NoError(t, pipeline.Run(context.Background()))
	assert.Same(t, clustering, pipeline.Clustering)
	assert.NotSame(t, matrix, pipeline.Matrix)
}

func TestPipelineFilterChangeInvalidatesEverything(t *testing.T) {
	pipeline, err := NewPipeline(pipelineSettings(), pipelineFixture(t), AttributeTaxonomy{})
	require.NoError(t, err)
	require.NoError(t, pipeline.Run(context.Background()))

	clustering := pipeline.Clustering

	require.NoError(t, pipeline.SetFilterParams(ModeStarOnly, 3, 0.6, 0.5, 0.5, 0.6))
	require.NoError(t, pipeline.Run(context.Background()))

	assert.NotSame(t, clustering, pipeline.Clustering, "filter change must re-run clustering")
}

func TestPipelineMissingEmbedding(t *testing.T) {
	inputs := pipelineFixture(t)
	delete(inputs.Embeddings, "r003")

	pipeline, err := NewPipeline(pipelineSettings(), inputs, nil)
	require.NoError(t, err)

	err = pipeline.Run(context.Background())
	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "cluster", stage.Stage)

	var missing *MissingFeatureError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "r003", missing.ReviewID)
	assert.Equal(t, "embedding", missing.Feature)
	assert.NotEmpty(t, ErrorHint(err), "hint survives stage wrapping")
}

func TestPipelineDensitySkipsKScan(t *testing.T) {
	settings := pipelineSettings()
	settings.Algorithm = AlgorithmDensity
	settings.Eps = 0.1
	settings.MinSamples = 3

	pipeline, err := NewPipeline(settings, pipelineFixture(t), nil)
	require.NoError(t, err)
	require.NoError(t, pipeline.RunThrough(context.Background(), StageCluster))

	assert.Nil(t, pipeline.Scan, "no K scan for density clustering")
	assert.Equal(t, 3, pipeline.Clustering.NumClusters)
}

func TestPipelineRejectsInvalidSettings(t *testing.T) {
	settings := pipelineSettings()
	settings.KMin = 0

	_, err := NewPipeline(settings, PipelineInputs{}, nil)
	var invalid *InvalidConfigurationError
	assert.ErrorAs(t, err, &invalid)
}

func TestPipelineSetterValidation(t *testing.T) {
	pipeline, err := NewPipeline(pipelineSettings(), pipelineFixture(t), nil)
	require.NoError(t, err)

	err = pipeline.SetClusterParams(AlgorithmPartition, 1, 4, 0.25, 4)
	assert.Error(t, err)
	// Failed setters leave the settings untouched.
	assert.Equal(t, 2, pipeline.Settings().KMin)
}
