package revlens

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

var GenerateInsightsCmd = &cobra.Command{
	Use:   "generate-insights",
	Short: "Aggregate clusters into attributes and rank opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(SettingsPath)
		if err != nil {
			return err
		}
		return generateInsights(settings)
	},
}

// generateInsights reads the persisted cluster assignments, folds them through
// the attribute taxonomy, and writes the priority/opportunity tables plus the
// markdown and HTML reports. Clustering is not re-run, so the taxonomy can be
// edited and this step repeated cheaply.
func generateInsights(settings Settings) error {
	store, err := OpenStore(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close review database")
		}
	}()

	clustered, runID, err := store.ListAssignments()
	if err != nil {
		return err
	}
	if len(clustered) == 0 {
		return fmt.Errorf("no cluster assignments found, run cluster-reviews first")
	}

	taxonomy, err := LoadTaxonomy(settings.TaxonomyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Warn().Str("path", settings.TaxonomyPath).Msg("no taxonomy file, all clusters report as unmapped")
		taxonomy = AttributeTaxonomy{}
	}

	reviews := make([]Review, len(clustered))
	assignments := make([]int, len(clustered))
	scores := make(map[string]NegativityScore, len(clustered))
	for i, cr := range clustered {
		reviews[i] = cr.Review
		assignments[i] = cr.ClusterID
		scores[cr.Review.ID] = NegativityScore{ReviewID: cr.Review.ID, Negative: true, KeepScore: cr.KeepScore}
	}
	result := &ClusteringResult{
		Algorithm:   settings.Algorithm,
		Assignments: assignments,
		NumClusters: countClusters(assignments),
	}

	matrix, err := BuildAttributeMatrix(reviews, result, taxonomy, scores, settings.IncludeNoiseDownstream)
	if err != nil {
		return err
	}
	priorities, err := RankClusters(reviews, result, scores, settings.IncludeNoiseDownstream)
	if err != nil {
		return err
	}
	opportunities := RankOpportunities(matrix, settings.MinOpportunityGap)

	if err := os.MkdirAll(settings.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writePriorityCSV(filepath.Join(settings.OutputDir, "cluster_priorities.csv"), priorities, taxonomy); err != nil {
		return err
	}
	if err := writeOpportunityCSV(filepath.Join(settings.OutputDir, "opportunities.csv"), opportunities); err != nil {
		return err
	}
	if err := writeMatrixCSV(filepath.Join(settings.OutputDir, "attribute_matrix.csv"), matrix); err != nil {
		return err
	}

	markdown := renderInsightsMarkdown(runID, matrix, priorities, opportunities, taxonomy)
	mdPath := filepath.Join(settings.OutputDir, "report.md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	htmlContent, err := renderInsightsHTML(markdown)
	if err != nil {
		return err
	}
	htmlPath := filepath.Join(settings.OutputDir, "report.html")
	if err := os.WriteFile(htmlPath, []byte(htmlContent), 0644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}

	log.Info().Str("run_id", runID).Str("dir", settings.OutputDir).Msg("insights generated")
	return nil
}

func attributeLabel(taxonomy AttributeTaxonomy, clusterID int) string {
	if label, ok := taxonomy[clusterID]; ok {
		return label
	}
	return UnmappedAttribute
}

func writePriorityCSV(path string, priorities []ClusterPriority, taxonomy AttributeTaxonomy) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"cluster_id", "attribute", "size", "frequency", "severity", "priority"}); err != nil {
		return err
	}
	for _, p := range priorities {
		record := []string{
			strconv.Itoa(p.ClusterID),
			attributeLabel(taxonomy, p.ClusterID),
			strconv.Itoa(p.Size),
			strconv.FormatFloat(p.Frequency, 'f', 4, 64),
			strconv.FormatFloat(p.Severity, 'f', 4, 64),
			strconv.FormatFloat(p.Priority, 'f', 4, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeOpportunityCSV(path string, opportunities []OpportunityRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"attribute", "asin", "pain", "baseline", "gap", "surfaced"}); err != nil {
		return err
	}
	for _, row := range opportunities {
		record := []string{
			row.Attribute,
			row.ASIN,
			strconv.FormatFloat(row.Pain, 'f', 4, 64),
			strconv.FormatFloat(row.Baseline, 'f', 4, 64),
			strconv.FormatFloat(row.Gap, 'f', 4, 64),
			strconv.FormatBool(row.Surfaced),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeMatrixCSV writes the ASIN × attribute table long-form, one cell per row.
func writeMatrixCSV(path string, matrix *AttributeMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"asin", "attribute", "share", "pain", "count"}); err != nil {
		return err
	}
	for _, asin := range matrix.ASINs {
		for _, attr := range matrix.Attributes {
			cell, ok := matrix.Cell(asin, attr)
			if !ok {
				continue
			}
			record := []string{
				asin,
				attr,
				strconv.FormatFloat(cell.Share, 'f', 4, 64),
				strconv.FormatFloat(cell.Pain, 'f', 4, 64),
				strconv.Itoa(cell.Count),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// renderInsightsMarkdown builds the human-readable report: cluster priorities
// first, then the surfaced opportunities, then the full attribute matrix.
func renderInsightsMarkdown(runID string, matrix *AttributeMatrix, priorities []ClusterPriority, opportunities []OpportunityRow, taxonomy AttributeTaxonomy) string {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "# Review Insights\n\n")
	fmt.Fprintf(buf, "Run `%s`, generated %s.\n\n", runID, time.Now().Format("2 January 2006"))

	fmt.Fprintf(buf, "## Cluster Priorities\n\n")
	fmt.Fprintf(buf, "| Cluster | Attribute | Size | Frequency | Severity | Priority |\n")
	fmt.Fprintf(buf, "|---|---|---|---|---|---|\n")
	for _, p := range priorities {
		fmt.Fprintf(buf, "| %d | %s | %d | %.3f | %.3f | %.3f |\n",
			p.ClusterID, attributeLabel(taxonomy, p.ClusterID), p.Size, p.Frequency, p.Severity, p.Priority)
	}

	fmt.Fprintf(buf, "\n## Opportunities\n\n")
	surfaced := 0
	for _, row := range opportunities {
		if row.Surfaced {
			surfaced++
		}
	}
	fmt.Fprintf(buf, "%d of %d attribute/product pairs exceed the baseline gap threshold.\n\n", surfaced, len(opportunities))
	fmt.Fprintf(buf, "| Attribute | Product | Pain | Baseline | Gap | Surfaced |\n")
	fmt.Fprintf(buf, "|---|---|---|---|---|---|\n")
	for _, row := range opportunities {
		mark := ""
		if row.Surfaced {
			mark = "yes"
		}
		fmt.Fprintf(buf, "| %s | %s | %.3f | %.3f | %+.3f | %s |\n",
			row.Attribute, row.ASIN, row.Pain, row.Baseline, row.Gap, mark)
	}

	fmt.Fprintf(buf, "\n## Attribute Matrix\n\n")
	fmt.Fprintf(buf, "| Product | Attribute | Share | Pain | Count |\n")
	fmt.Fprintf(buf, "|---|---|---|---|---|\n")
	for _, asin := range matrix.ASINs {
		for _, attr := range matrix.Attributes {
			cell, ok := matrix.Cell(asin, attr)
			if !ok {
				continue
			}
			fmt.Fprintf(buf, "| %s | %s | %.3f | %.3f | %d |\n", asin, attr, cell.Share, cell.Pain, cell.Count)
		}
	}

	return buf.String()
}

// renderInsightsHTML converts the markdown report into a styled standalone page.
func renderInsightsHTML(markdown string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: "Review Insights",
		Date:  time.Now().Format("2 January 2006"),
		Body:  template.HTML(body.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return result.String(), nil
}
