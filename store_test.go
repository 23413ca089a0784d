package revlens

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStoreReviewRoundTrip(t *testing.T) {
	store := openTestStore(t)

	reviews := []Review{
		{ID: "r1", Text: "handle snapped", Star: intPtr(1), ASIN: "A", Time: "2024-03-01"},
		{ID: "r2", Text: "no rating given", ASIN: "B"},
	}
	for _, r := range reviews {
		require.NoError(t, store.UpsertReview(r))
	}

	got, err := store.ListReviews()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reviews[0], got[0])
	assert.Nil(t, got[1].Star, "missing star survives the round trip as nil")

	// Upsert replaces in place.
	require.NoError(t, store.UpsertReview(Review{ID: "r1", Text: "handle snapped twice", Star: intPtr(2), ASIN: "A"}))
	got, err = store.ListReviews()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "handle snapped twice", got[0].Text)
	assert.Equal(t, 2, *got[0].Star)
}

func TestStoreSentimentResume(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertReview(Review{ID: "r1", Text: "bad"}))

	exists, err := store.SentimentExists("r1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.SaveSentiment("r1", SentimentResult{Label: SentimentNegative, Confidence: 0.92}, "gpt-4o-mini"))

	exists, err = store.SentimentExists("r1")
	require.NoError(t, err)
	assert.True(t, exists)

	sentiments, err := store.ListSentiments()
	require.NoError(t, err)
	assert.Equal(t, SentimentResult{Label: SentimentNegative, Confidence: 0.92}, sentiments["r1"])
}

func TestStoreEmbeddingResume(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertReview(Review{ID: "r1", Text: "bad"}))

	exists, err := store.EmbeddingExists("r1")
	require.NoError(t, err)
	assert.False(t, exists)

	vector := []float64{0.1, -0.2, 0.3}
	require.NoError(t, store.SaveEmbedding("r1", vector, "text-embedding-3-large"))

	exists, err = store.EmbeddingExists("r1")
	require.NoError(t, err)
	assert.True(t, exists)

	embeddings, err := store.ListEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, vector, embeddings["r1"])
}

func TestStoreReplaceAssignments(t *testing.T) {
	store := openTestStore(t)

	reviews := []Review{
		{ID: "r1", Text: "a", ASIN: "A"},
		{ID: "r2", Text: "b", ASIN: "B"},
	}
	for _, r := range reviews {
		require.NoError(t, store.UpsertReview(r))
	}
	scores := map[string]NegativityScore{
		"r1": {ReviewID: "r1", KeepScore: 0.8},
		"r2": {ReviewID: "r2", KeepScore: 0.6},
	}

	require.NoError(t, store.ReplaceAssignments("run-1", reviews, []int{0, NoiseID}, scores))

	clustered, runID, err := store.ListAssignments()
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	require.Len(t, clustered, 2)
	assert.Equal(t, 0, clustered[0].ClusterID)
	assert.InDelta(t, 0.8, clustered[0].KeepScore, 1e-9)
	assert.Equal(t, NoiseID, clustered[1].ClusterID)

	// A second run fully replaces the first.
	require.NoError(t, store.ReplaceAssignments("run-2", reviews[:1], []int{1}, scores))
	clustered, runID, err = store.ListAssignments()
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)
	require.Len(t, clustered, 1)
	assert.Equal(t, 1, clustered[0].ClusterID)
}

func TestStoreReplaceAssignmentsMissingScore(t *testing.T) {
	store := openTestStore(t)
	reviews := []Review{{ID: "r1", Text: "a"}}
	require.NoError(t, store.UpsertReview(reviews[0]))

	err := store.ReplaceAssignments("run-1", reviews, []int{0}, nil)
	var missing *MissingFeatureError
	assert.ErrorAs(t, err, &missing)
}
