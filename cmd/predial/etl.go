package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casamayor/predial/internal/cli"
	"github.com/casamayor/predial/internal/config"
	"github.com/casamayor/predial/internal/etl"
)

func etlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl <input.csv>",
		Short: "Classify and partition a raw transaction batch",
		Long: `Run the full ingestion flow over a raw batch file: normalize rows,
classify data quality, flag structural anomalies, write the output
partitions, and persist every record to the database.

The input is read twice: a first pass builds dataset-wide aggregates,
a second pass annotates and writes. Re-running the same batch
overwrites the same records.`,
		Args: cobra.ExactArgs(1),
		RunE: runEtl,
	}

	cmd.Flags().StringP("output", "o", "output", "directory for partitions and reports")
	cmd.Flags().Int("chunk-size", etl.DefaultChunkSize, "rows processed per batch")
	cmd.Flags().Int("activity-threshold", 0, "annotations per property-year before flagging (default 150)")

	_ = viper.BindPFlag("etl.output_dir", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("etl.chunk_size", cmd.Flags().Lookup("chunk-size"))
	_ = viper.BindPFlag("etl.activity_threshold", cmd.Flags().Lookup("activity-threshold"))

	return cmd
}

func runEtl(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	pipeline := etl.New(store, etl.Config{
		ProgressWriter:    os.Stderr,
		InputPath:         config.ExpandPath(args[0]),
		OutputDir:         config.ExpandPath(viper.GetString("etl.output_dir")),
		IngestionDate:     time.Now().UTC(),
		ChunkSize:         viper.GetInt("etl.chunk_size"),
		ActivityThreshold: viper.GetInt("etl.activity_threshold"),
	})

	summary, err := pipeline.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderEtlSummary(summary))
	return nil
}
