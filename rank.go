package revlens

import (
	"fmt"
	"sort"
)

// ClusterPriority scores one cluster by frequency × severity.
type ClusterPriority struct {
	ClusterID int     `json:"cluster_id"`
	Size      int     `json:"size"`
	Frequency float64 `json:"frequency"` // share of counted reviews
	Severity  float64 `json:"severity"`  // mean negativity keep-score
	Priority  float64 `json:"priority"`
}

// RankClusters ranks clusters descending by priority, ties broken by the
// larger frequency. Noise points are excluded from both numerator and
// denominator unless includeNoise is set (noise then counts in the denominator
// only; the sentinel itself is never ranked).
func RankClusters(reviews []Review, result *ClusteringResult, scores map[string]NegativityScore, includeNoise bool) ([]ClusterPriority, error) {
	if len(reviews) != len(result.Assignments) {
		return nil, fmt.Errorf("review/assignment length mismatch: %d vs %d", len(reviews), len(result.Assignments))
	}

	type accum struct {
		count    int
		severity float64
	}
	byCluster := make(map[int]*accum)
	total := 0

	for i, review := range reviews {
		clusterID := result.Assignments[i]
		if clusterID == NoiseID {
			if includeNoise {
				total++
			}
			continue
		}
		score, ok := scores[review.ID]
		if !ok {
			return nil, &MissingFeatureError{Feature: "negativity score", ReviewID: review.ID}
		}
		if byCluster[clusterID] == nil {
			byCluster[clusterID] = &accum{}
		}
		byCluster[clusterID].count++
		byCluster[clusterID].severity += score.KeepScore
		total++
	}

	if total == 0 {
		return nil, nil
	}

	priorities := make([]ClusterPriority, 0, len(byCluster))
	for id, acc := range byCluster {
		frequency := float64(acc.count) / float64(total)
		severity := acc.severity / float64(acc.count)
		priorities = append(priorities, ClusterPriority{
			ClusterID: id,
			Size:      acc.count,
			Frequency: frequency,
			Severity:  severity,
			Priority:  frequency * severity,
		})
	}

	sort.SliceStable(priorities, func(i, j int) bool {
		if priorities[i].Priority != priorities[j].Priority {
			return priorities[i].Priority > priorities[j].Priority
		}
		if priorities[i].Frequency != priorities[j].Frequency {
			return priorities[i].Frequency > priorities[j].Frequency
		}
		return priorities[i].ClusterID < priorities[j].ClusterID
	})

	return priorities, nil
}

// OpportunityRow compares one ASIN's attribute pain against the cross-ASIN
// baseline. Every row is retained; Surfaced marks the ones above the
// configured minimum gap.
type OpportunityRow struct {
	Attribute string  `json:"attribute"`
	ASIN      string  `json:"asin"`
	Pain      float64 `json:"pain"`
	Baseline  float64 `json:"baseline"`
	Gap       float64 `json:"gap"`
	Surfaced  bool    `json:"surfaced"`
}

// RankOpportunities computes pain gaps against the per-attribute baseline
// (mean pain across the ASINs where the attribute occurs) and sorts them
// descending by gap. Rows below minGap keep their place in the output with
// Surfaced unset, so nothing is dropped.
func RankOpportunities(matrix *AttributeMatrix, minGap float64) []OpportunityRow {
	baselines := make(map[string]float64)
	for _, attr := range matrix.Attributes {
		sum := 0.0
		n := 0
		for _, asin := range matrix.ASINs {
			if cell, ok := matrix.Cell(asin, attr); ok {
				sum += cell.Pain
				n++
			}
		}
		if n > 0 {
			baselines[attr] = sum / float64(n)
		}
	}

	var rows []OpportunityRow
	for _, asin := range matrix.ASINs {
		for _, attr := range matrix.Attributes {
			cell, ok := matrix.Cell(asin, attr)
			if !ok {
				continue
			}
			gap := cell.Pain - baselines[attr]
			rows = append(rows, OpportunityRow{
				Attribute: attr,
				ASIN:      asin,
				Pain:      cell.Pain,
				Baseline:  baselines[attr],
				Gap:       gap,
				Surfaced:  gap > 0 && gap >= minGap,
			})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Gap != rows[j].Gap {
			return rows[i].Gap > rows[j].Gap
		}
		if rows[i].Attribute != rows[j].Attribute {
			return rows[i].Attribute < rows[j].Attribute
		}
		return rows[i].ASIN < rows[j].ASIN
	})

	return rows
}
