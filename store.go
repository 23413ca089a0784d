package revlens

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store is the SQLite workspace shared by the pipeline steps: ingested reviews
// plus the per-review sentiment, embedding, and cluster-assignment records
// keyed by review id. Embeddings are stored as JSON arrays, one row per review,
// so a step can resume where the previous run stopped.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the review database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open review database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		review_id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		star INTEGER,
		asin TEXT NOT NULL DEFAULT '',
		reviewed_at TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_asin ON reviews(asin);

	CREATE TABLE IF NOT EXISTS sentiments (
		review_id TEXT PRIMARY KEY REFERENCES reviews(review_id),
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		model TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		review_id TEXT PRIMARY KEY REFERENCES reviews(review_id),
		embedding_json TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS assignments (
		review_id TEXT PRIMARY KEY REFERENCES reviews(review_id),
		run_id TEXT NOT NULL,
		cluster_id INTEGER NOT NULL,
		keep_score REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_cluster ON assignments(cluster_id);
	`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close review database")
		}
		return nil, fmt.Errorf("failed to initialize review database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertReview inserts a review or replaces the existing row with the same id,
// so re-ingesting a corrected export is idempotent.
func (s *Store) UpsertReview(r Review) error {
	var star any
	if r.Star != nil {
		star = *r.Star
	}
	_, err := s.db.Exec(`
		INSERT INTO reviews (review_id, body, star, asin, reviewed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(review_id) DO UPDATE SET
			body = excluded.body,
			star = excluded.star,
			asin = excluded.asin,
			reviewed_at = excluded.reviewed_at`,
		r.ID, r.Text, star, r.ASIN, r.Time)
	if err != nil {
		return fmt.Errorf("failed to upsert review %s: %w", r.ID, err)
	}
	return nil
}

// ListReviews returns every ingested review ordered by id.
func (s *Store) ListReviews() ([]Review, error) {
	rows, err := s.db.Query(`SELECT review_id, body, star, asin, reviewed_at FROM reviews ORDER BY review_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var star sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Text, &star, &r.ASIN, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		if star.Valid {
			v := int(star.Int64)
			r.Star = &v
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// SentimentExists reports whether a sentiment record is already stored for the
// review, letting the scoring step skip work on resume.
func (s *Store) SentimentExists(reviewID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sentiments WHERE review_id = ?`, reviewID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveSentiment stores one sentiment classification.
func (s *Store) SaveSentiment(reviewID string, result SentimentResult, model string) error {
	_, err := s.db.Exec(`
		INSERT INTO sentiments (review_id, label, confidence, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(review_id) DO UPDATE SET
			label = excluded.label,
			confidence = excluded.confidence,
			model = excluded.model`,
		reviewID, result.Label, result.Confidence, model)
	if err != nil {
		return fmt.Errorf("failed to save sentiment for %s: %w", reviewID, err)
	}
	return nil
}

// ListSentiments returns all stored sentiment records keyed by review id.
func (s *Store) ListSentiments() (map[string]SentimentResult, error) {
	rows, err := s.db.Query(`SELECT review_id, label, confidence FROM sentiments`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sentiments: %w", err)
	}
	defer rows.Close()

	sentiments := make(map[string]SentimentResult)
	for rows.Next() {
		var id string
		var result SentimentResult
		if err := rows.Scan(&id, &result.Label, &result.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		sentiments[id] = result
	}
	return sentiments, rows.Err()
}

// EmbeddingExists reports whether an embedding is already stored for the review.
func (s *Store) EmbeddingExists(reviewID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE review_id = ?`, reviewID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveEmbedding stores one embedding vector as a JSON array.
func (s *Store) SaveEmbedding(reviewID string, embedding []float64, model string) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO embeddings (review_id, embedding_json, model)
		VALUES (?, ?, ?)
		ON CONFLICT(review_id) DO UPDATE SET
			embedding_json = excluded.embedding_json,
			model = excluded.model`,
		reviewID, string(data), model)
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", reviewID, err)
	}
	return nil
}

// ListEmbeddings returns all stored embeddings keyed by review id.
func (s *Store) ListEmbeddings() (map[string][]float64, error) {
	rows, err := s.db.Query(`SELECT review_id, embedding_json FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	embeddings := make(map[string][]float64)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		var vector []float64
		if err := json.Unmarshal([]byte(data), &vector); err != nil {
			return nil, fmt.Errorf("failed to parse embedding for %s: %w", id, err)
		}
		embeddings[id] = vector
	}
	return embeddings, rows.Err()
}

// ReplaceAssignments atomically swaps the assignment table for a new run's
// results so downstream steps never observe a mix of two runs.
func (s *Store) ReplaceAssignments(runID string, reviews []Review, assignments []int, scores map[string]NegativityScore) error {
	if len(reviews) != len(assignments) {
		return fmt.Errorf("review/assignment length mismatch: %d vs %d", len(reviews), len(assignments))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin assignment transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM assignments`); err != nil {
		return fmt.Errorf("failed to clear assignments: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO assignments (review_id, run_id, cluster_id, keep_score) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare assignment insert: %w", err)
	}
	defer stmt.Close()

	for i, review := range reviews {
		score, ok := scores[review.ID]
		if !ok {
			return &MissingFeatureError{Feature: "negativity score", ReviewID: review.ID}
		}
		if _, err := stmt.Exec(review.ID, runID, assignments[i], score.KeepScore); err != nil {
			return fmt.Errorf("failed to insert assignment for %s: %w", review.ID, err)
		}
	}

	return tx.Commit()
}

// ClusteredReview is one row of the persisted clustering output.
type ClusteredReview struct {
	Review    Review
	ClusterID int
	KeepScore float64
}

// ListAssignments returns the persisted clustering output joined with review
// rows, ordered by review id.
func (s *Store) ListAssignments() ([]ClusteredReview, string, error) {
	rows, err := s.db.Query(`
		SELECT r.review_id, r.body, r.star, r.asin, r.reviewed_at, a.run_id, a.cluster_id, a.keep_score
		FROM assignments a JOIN reviews r ON r.review_id = a.review_id
		ORDER BY r.review_id`)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []ClusteredReview
	var runID string
	for rows.Next() {
		var cr ClusteredReview
		var star sql.NullInt64
		if err := rows.Scan(&cr.Review.ID, &cr.Review.Text, &star, &cr.Review.ASIN, &cr.Review.Time, &runID, &cr.ClusterID, &cr.KeepScore); err != nil {
			return nil, "", fmt.Errorf("failed to scan assignment row: %w", err)
		}
		if star.Valid {
			v := int(star.Int64)
			cr.Review.Star = &v
		}
		out = append(out, cr)
	}
	return out, runID, rows.Err()
}
