package revlens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ClusterReviewsCmd = &cobra.Command{
	Use:   "cluster-reviews",
	Short: "Filter negative reviews, select K, and cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(SettingsPath)
		if err != nil {
			return err
		}
		return clusterReviews(cmd.Context(), settings)
	},
}

// ClusterSummary is one cluster in the persisted clustering output.
type ClusterSummary struct {
	ClusterID       int      `json:"cluster_id"`
	Size            int      `json:"size"`
	Representatives []Review `json:"representatives"`
}

// ClusterReport is the clusters.json payload.
type ClusterReport struct {
	RunID       string           `json:"run_id"`
	Algorithm   Algorithm        `json:"algorithm"`
	NumClusters int              `json:"num_clusters"`
	Metrics     ClusterMetrics   `json:"metrics"`
	Stability   float64          `json:"stability"`
	Clusters    []ClusterSummary `json:"clusters"`
	NoiseSize   int              `json:"noise_size"`
}

func clusterReviews(ctx context.Context, settings Settings) error {
	store, err := OpenStore(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close review database")
		}
	}()

	inputs, err := loadPipelineInputs(store)
	if err != nil {
		return err
	}

	pipeline, err := NewPipeline(settings, inputs, nil)
	if err != nil {
		return err
	}

	if settings.ScanBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(settings.ScanBudget))
		defer cancel()
	}
	if err := pipeline.RunThrough(ctx, StageCluster); err != nil {
		return err
	}

	if err := os.MkdirAll(settings.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if pipeline.Scan != nil {
		if err := writeJSON(filepath.Join(settings.OutputDir, "k_selection.json"), pipeline.Scan); err != nil {
			return err
		}
	}

	report := buildClusterReport(pipeline, settings.TopRepresentatives)
	if err := writeJSON(filepath.Join(settings.OutputDir, "clusters.json"), report); err != nil {
		return err
	}

	if err := store.ReplaceAssignments(pipeline.RunID, pipeline.Kept, pipeline.Clustering.Assignments, pipeline.KeptScores); err != nil {
		return err
	}

	log.Info().
		Str("run_id", pipeline.RunID).
		Int("clusters", pipeline.Clustering.NumClusters).
		Float64("stability", pipeline.Stability).
		Msg("clustering persisted")
	return nil
}

// loadPipelineInputs assembles the pipeline input graph from the store.
func loadPipelineInputs(store *Store) (PipelineInputs, error) {
	reviews, err := store.ListReviews()
	if err != nil {
		return PipelineInputs{}, err
	}
	if len(reviews) == 0 {
		return PipelineInputs{}, fmt.Errorf("no reviews ingested, run load-reviews first")
	}
	sentiments, err := store.ListSentiments()
	if err != nil {
		return PipelineInputs{}, err
	}
	embeddings, err := store.ListEmbeddings()
	if err != nil {
		return PipelineInputs{}, err
	}
	return PipelineInputs{Reviews: reviews, Sentiments: sentiments, Embeddings: embeddings}, nil
}

// buildClusterReport summarizes each cluster with its members closest to the
// centroid, so a taxonomy can be authored by reading only the representatives.
func buildClusterReport(p *Pipeline, topN int) ClusterReport {
	report := ClusterReport{
		RunID:       p.RunID,
		Algorithm:   p.Clustering.Algorithm,
		NumClusters: p.Clustering.NumClusters,
		Metrics:     p.Metrics,
		Stability:   p.Stability,
	}

	for _, id := range p.Clustering.Assignments {
		if id == NoiseID {
			report.NoiseSize++
		}
	}

	members := clusterMembers(p.Clustering.Assignments)
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		idxs := members[id]
		centroid := Centroid(p.Vectors, idxs)

		dist := make(map[int]float64, len(idxs))
		for _, idx := range idxs {
			dist[idx] = cosineDistance(p.Vectors[idx], centroid)
		}
		ranked := make([]int, len(idxs))
		copy(ranked, idxs)
		sort.SliceStable(ranked, func(a, b int) bool {
			return dist[ranked[a]] < dist[ranked[b]]
		})

		n := topN
		if n > len(ranked) {
			n = len(ranked)
		}
		reps := make([]Review, 0, n)
		for _, idx := range ranked[:n] {
			reps = append(reps, p.Kept[idx])
		}

		report.Clusters = append(report.Clusters, ClusterSummary{
			ClusterID:       id,
			Size:            len(idxs),
			Representatives: reps,
		})
	}

	return report
}

// writeJSON marshals v without HTML escaping, matching the review bodies.
func writeJSON(path string, v any) error {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
