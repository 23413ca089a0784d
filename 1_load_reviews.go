package revlens

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var LoadReviewsCmd = &cobra.Command{
	Use:   "load-reviews [reviews.csv]",
	Short: "Ingest a review CSV export into the review database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(SettingsPath)
		if err != nil {
			return err
		}
		return loadReviews(args[0], settings.DBPath)
	},
}

// csvColumns maps the header names we accept to review fields. review_id and
// body are required; star, asin, and reviewed_at are optional.
var csvColumns = map[string]string{
	"review_id":   "id",
	"id":          "id",
	"body":        "body",
	"text":        "body",
	"review_text": "body",
	"star":        "star",
	"rating":      "star",
	"asin":        "asin",
	"product_id":  "asin",
	"reviewed_at": "time",
	"time":        "time",
	"date":        "time",
}

func loadReviews(csvPath, dbPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open review export: %w", err)
	}
	defer f.Close()

	store, err := OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close review database")
		}
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	fields := make(map[string]int)
	for i, name := range header {
		if field, ok := csvColumns[strings.ToLower(strings.TrimSpace(name))]; ok {
			if _, seen := fields[field]; !seen {
				fields[field] = i
			}
		}
	}
	for _, required := range []string{"id", "body"} {
		if _, ok := fields[required]; !ok {
			return &InvalidConfigurationError{Field: "csv header", Reason: fmt.Sprintf("missing required column %q", required)}
		}
	}

	line := 1
	loaded := 0
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV row: %w", err)
		}
		line++

		review, ok := parseReviewRecord(record, fields, line)
		if !ok {
			skipped++
			continue
		}
		if err := store.UpsertReview(review); err != nil {
			return err
		}
		loaded++
	}

	log.Info().Int("loaded", loaded).Int("skipped", skipped).Str("db", dbPath).Msg("review ingestion complete")
	return nil
}

// parseReviewRecord converts one CSV row into a Review. Rows with an empty id
// or body are skipped with a warning rather than failing the whole import.
func parseReviewRecord(record []string, fields map[string]int, line int) (Review, bool) {
	get := func(field string) string {
		idx, ok := fields[field]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	review := Review{
		ID:   get("id"),
		Text: get("body"),
		ASIN: get("asin"),
		Time: get("time"),
	}
	if review.ID == "" || review.Text == "" {
		log.Warn().Int("line", line).Msg("skipping row with empty review id or body")
		return Review{}, false
	}

	if raw := get("star"); raw != "" {
		star, err := strconv.Atoi(raw)
		if err != nil || star < 1 || star > 5 {
			log.Warn().Int("line", line).Str("star", raw).Msg("ignoring unparseable star rating")
		} else {
			review.Star = &star
		}
	}

	return review, true
}
