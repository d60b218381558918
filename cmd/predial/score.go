package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casamayor/predial/internal/cli"
	"github.com/casamayor/predial/internal/config"
	"github.com/casamayor/predial/internal/ensemble"
	"github.com/casamayor/predial/internal/score"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score stored records with the trained model",
		Long: `Load the model artifact and score every clean market transaction in
the database, writing back the anomaly score, the binary anomaly flag
and the risk level. Scores are overwritten on every run, so scoring
can be repeated after retraining.`,
		RunE: runScore,
	}

	cmd.Flags().StringP("model-dir", "m", "model", "directory holding the model artifact")
	cmd.Flags().Int("chunk-size", score.DefaultChunkSize, "records scored per batch")
	cmd.Flags().Int("max-retries", score.DefaultMaxRetries, "attempts per failing batch")
	cmd.Flags().Duration("chunk-timeout", score.DefaultChunkTimeout, "deadline per batch")

	_ = viper.BindPFlag("score.model_dir", cmd.Flags().Lookup("model-dir"))
	_ = viper.BindPFlag("score.chunk_size", cmd.Flags().Lookup("chunk-size"))
	_ = viper.BindPFlag("score.max_retries", cmd.Flags().Lookup("max-retries"))
	_ = viper.BindPFlag("score.chunk_timeout", cmd.Flags().Lookup("chunk-timeout"))

	return cmd
}

func runScore(cmd *cobra.Command, _ []string) error {
	artifact, err := ensemble.Load(config.ExpandPath(viper.GetString("score.model_dir")))
	if err != nil {
		return err
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	scorer := score.New(store, artifact, score.Config{
		ProgressWriter: os.Stderr,
		ChunkSize:      viper.GetInt("score.chunk_size"),
		MaxRetries:     viper.GetInt("score.max_retries"),
		ChunkTimeout:   viper.GetDuration("score.chunk_timeout"),
	})

	summary, err := scorer.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderScoreSummary(summary))
	if summary.FailedChunks > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(
			fmt.Sprintf("%d batch(es) failed after retries; re-run score to fill the gaps", summary.FailedChunks)))
	}
	return nil
}
