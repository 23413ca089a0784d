package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/revlens/revlens"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func getenv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatal().Str("variable", key).Msg("missing required environment variable")
	}
	return value
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Load .env file if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("error loading .env file")
	}

	revlens.Config.OpenAIAPIKey = getenv("OPENAI_API_KEY")

	rootCmd := &cobra.Command{
		Use:          "revlens",
		Short:        "Product review clustering and opportunity mining CLI",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&revlens.SettingsPath, "settings", "settings.yaml", "path to the settings file")

	rootCmd.AddCommand(revlens.LoadReviewsCmd)
	rootCmd.AddCommand(revlens.ScoreSentimentCmd)
	rootCmd.AddCommand(revlens.EmbedReviewsCmd)
	rootCmd.AddCommand(revlens.ClusterReviewsCmd)
	rootCmd.AddCommand(revlens.GenerateInsightsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: score-sentiment -> embed-reviews -> cluster-reviews -> generate-insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Msg("running full pipeline")
		steps := []*cobra.Command{
			revlens.ScoreSentimentCmd,
			revlens.EmbedReviewsCmd,
			revlens.ClusterReviewsCmd,
			revlens.GenerateInsightsCmd,
		}
		for _, step := range steps {
			if err := step.RunE(cmd, nil); err != nil {
				return err
			}
		}
		log.Info().Msg("pipeline complete")
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated outputs, keeping the review database",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := revlens.LoadSettings(revlens.SettingsPath)
		if err != nil {
			return err
		}
		files, err := os.ReadDir(settings.OutputDir)
		if err != nil {
			if os.IsNotExist(err) {
				log.Info().Str("dir", settings.OutputDir).Msg("nothing to clean")
				return nil
			}
			return err
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(settings.OutputDir, file.Name())); err != nil {
				log.Warn().Err(err).Str("file", file.Name()).Msg("failed to remove output file")
			}
		}
		log.Info().Str("dir", settings.OutputDir).Msg("outputs cleaned")
		return nil
	},
}
