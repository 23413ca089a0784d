package revlens

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var ScoreSentimentCmd = &cobra.Command{
	Use:   "score-sentiment",
	Short: "Classify sentiment for every review missing a verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := LoadSettings(SettingsPath)
		if err != nil {
			return err
		}
		return scoreAllSentiments(cmd.Context(), settings)
	},
}

// scoreAllSentiments classifies the reviews without a stored sentiment record.
// Already-classified reviews are skipped, so an interrupted run resumes where
// it stopped.
func scoreAllSentiments(ctx context.Context, settings Settings) error {
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
		exists, err := store.SentimentExists(review.ID)
		if err != nil {
			return fmt.Errorf("failed to check existing sentiment: %w", err)
		}
		if exists {
			continue
		}
		pending = append(pending, review)
	}
	log.Info().Int("total", len(reviews)).Int("pending", len(pending)).Msg("scoring sentiment")

	client := newOpenAIClient()

	// Each verdict is persisted as soon as it arrives, so an interrupted batch
	// loses only in-flight requests.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.Workers)
	for _, review := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := classifySentimentWithRetry(gctx, client, settings.SentimentModel, review.Text)
			if err != nil {
				return fmt.Errorf("failed to classify review %s: %w", review.ID, err)
			}
			if err := store.SaveSentiment(review.ID, result, settings.SentimentModel); err != nil {
				return err
			}
			log.Debug().Str("review_id", review.ID).Str("label", result.Label).Msg("sentiment classified")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info().Int("classified", len(pending)).Msg("sentiment scoring complete")
	return nil
}
