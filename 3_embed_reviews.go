package revlens

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var EmbedReviewsCmd = &cobra.Command{
	Use:   "embed-reviews",
	Short: "Generate embeddings for every review missing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(SettingsPath)
		if err != nil {
			return err
		}
		return embedAllReviews(cmd.Context(), settings)
	},
}

// embedAllReviews fetches embeddings for the reviews without a stored vector.
// Stored vectors are skipped, so an interrupted run resumes where it stopped.
func embedAllReviews(ctx context.Context, settings Settings) error {
	store, err := OpenStore(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close review database")
		}
	}()

	reviews, err := store.ListReviews()
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		return fmt.Errorf("no reviews ingested, run load-reviews first")
	}

	var pending []Review
	for _, review := range reviews {
		exists, err := store.EmbeddingExists(review.ID)
		if err != nil {
			return fmt.Errorf("failed to check existing embedding: %w", err)
		}
		if exists {
			continue
		}
		pending = append(pending, review)
	}
	log.Info().Int("total", len(reviews)).Int("pending", len(pending)).Msg("embedding reviews")

	client := newOpenAIClient()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.Workers)
	for _, review := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			vector, err := generateEmbedding(gctx, client, settings.EmbeddingModel, review.Text)
			if err != nil {
				return fmt.Errorf("failed to embed review %s: %w", review.ID, err)
			}
			if err := store.SaveEmbedding(review.ID, vector, settings.EmbeddingModel); err != nil {
				return err
			}
			log.Debug().Str("review_id", review.ID).Int("dims", len(vector)).Msg("review embedded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info().Int("embedded", len(pending)).Msg("review embedding complete")
	return nil
}
