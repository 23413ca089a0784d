package revlens

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// UnmappedAttribute is the reserved label for clusters without a taxonomy
// entry (and for noise points when they are included downstream), so per-ASIN
// share totals are always conserved.
const UnmappedAttribute = "unmapped"

// UnknownASIN groups reviews whose source row carried no product identifier.
const UnknownASIN = "unspecified"

// AttributeTaxonomy maps cluster ids to designer-facing attribute labels.
// Many clusters may share one attribute; a cluster never maps to two.
type AttributeTaxonomy map[int]string

// LoadTaxonomy reads the cluster→attribute mapping from a YAML file of the form
//
//	attributes:
//	  0: grip
//	  1: battery
func LoadTaxonomy(path string) (AttributeTaxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	var doc struct {
		Attributes map[int]string `yaml:"attributes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file: %w", err)
	}
	return AttributeTaxonomy(doc.Attributes), nil
}

// AttributeCell is one ASIN×attribute entry.
type AttributeCell struct {
	Share float64 `json:"share"` // fraction of the ASIN's counted reviews
	Pain  float64 `json:"pain"`  // mean negativity keep-score
	Count int     `json:"count"`
}

// AttributeMatrix is the ASIN × attribute share/pain table. Cells exist only
// for (asin, attribute) pairs with at least one review.
type AttributeMatrix struct {
	ASINs      []string                            `json:"asins"`      // sorted
	Attributes []string                            `json:"attributes"` // sorted
	Cells      map[string]map[string]AttributeCell `json:"cells"`
}

// Cell returns the entry for (asin, attr) and whether it exists.
func (m *AttributeMatrix) Cell(asin, attr string) (AttributeCell, bool) {
	row, ok := m.Cells[asin]
	if !ok {
		return AttributeCell{}, false
	}
	cell, ok := row[attr]
	return cell, ok
}

// BuildAttributeMatrix folds cluster assignments through the taxonomy into
// per-ASIN attribute shares and pain. reviews must align one-to-one with
// result.Assignments. Noise points are dropped unless includeNoise is set, in
// which case they count under the unmapped attribute.
func BuildAttributeMatrix(reviews []Review, result *ClusteringResult, taxonomy AttributeTaxonomy, scores map[string]NegativityScore, includeNoise bool) (*AttributeMatrix, error) {
	if len(reviews) != len(result.Assignments) {
		return nil, fmt.Errorf("review/assignment length mismatch: %d vs %d", len(reviews), len(result.Assignments))
	}

	type accum struct {
		count int
		pain  float64
	}
	cells := make(map[string]map[string]*accum)
	totals := make(map[string]int)

	for i, review := range reviews {
		clusterID := result.Assignments[i]
		if clusterID == NoiseID && !includeNoise {
			continue
		}

		attr := UnmappedAttribute
		if clusterID != NoiseID {
			if label, ok := taxonomy[clusterID]; ok {
				attr = label
			}
		}

		asin := review.ASIN
		if asin == "" {
			asin = UnknownASIN
		}

		score, ok := scores[review.ID]
		if !ok {
			return nil, &MissingFeatureError{Feature: "negativity score", ReviewID: review.ID}
		}

		if cells[asin] == nil {
			cells[asin] = make(map[string]*accum)
		}
		if cells[asin][attr] == nil {
			cells[asin][attr] = &accum{}
		}
		cells[asin][attr].count++
		cells[asin][attr].pain += score.KeepScore
		totals[asin]++
	}

	matrix := &AttributeMatrix{Cells: make(map[string]map[string]AttributeCell)}
	attrSet := make(map[string]struct{})

	for asin, row := range cells {
		matrix.ASINs = append(matrix.ASINs, asin)
		matrix.Cells[asin] = make(map[string]AttributeCell)
		for attr, acc := range row {
			attrSet[attr] = struct{}{}
			matrix.Cells[asin][attr] = AttributeCell{
				Share: float64(acc.count) / float64(totals[asin]),
				Pain:  acc.pain / float64(acc.count),
				Count: acc.count,
			}
		}
	}

	for attr := range attrSet {
		matrix.Attributes = append(matrix.Attributes, attr)
	}
	sort.Strings(matrix.ASINs)
	sort.Strings(matrix.Attributes)

	return matrix, nil
}
