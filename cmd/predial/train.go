package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casamayor/predial/internal/cli"
	"github.com/casamayor/predial/internal/config"
	"github.com/casamayor/predial/internal/ensemble"
	"github.com/casamayor/predial/internal/train"
)

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the anomaly ensemble on the ML partition",
		Long: `Fit the isolation forest and local density estimator on the clean
market transactions produced by the etl command, then publish the
model artifact. Training is deterministic for a fixed seed and
input, so retraining on the same partition reproduces the model.`,
		RunE: runTrain,
	}

	cmd.Flags().StringP("input", "i", "output/ml.csv", "ML partition file")
	cmd.Flags().StringP("model-dir", "m", "model", "directory for the model artifact")
	cmd.Flags().Int("chunk-size", train.DefaultChunkSize, "rows read per batch")
	cmd.Flags().Int("sample-size", train.DefaultSampleSize, "maximum training sample")
	cmd.Flags().Int("min-samples", ensemble.MinTrainingSamples, "minimum rows required to train")
	cmd.Flags().Int64("seed", ensemble.DefaultSeed, "random seed")
	cmd.Flags().Float64("forest-weight", ensemble.DefaultForestWeight, "isolation forest weight")
	cmd.Flags().Float64("density-weight", ensemble.DefaultDensityWeight, "density estimator weight")
	cmd.Flags().Float64("contamination", ensemble.DefaultContamination, "expected anomaly fraction in the training data")

	_ = viper.BindPFlag("train.input", cmd.Flags().Lookup("input"))
	_ = viper.BindPFlag("train.model_dir", cmd.Flags().Lookup("model-dir"))
	_ = viper.BindPFlag("train.chunk_size", cmd.Flags().Lookup("chunk-size"))
	_ = viper.BindPFlag("train.sample_size", cmd.Flags().Lookup("sample-size"))
	_ = viper.BindPFlag("train.min_samples", cmd.Flags().Lookup("min-samples"))
	_ = viper.BindPFlag("train.seed", cmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("train.weights.forest", cmd.Flags().Lookup("forest-weight"))
	_ = viper.BindPFlag("train.weights.density", cmd.Flags().Lookup("density-weight"))
	_ = viper.BindPFlag("train.contamination", cmd.Flags().Lookup("contamination"))

	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	weights := ensemble.Weights{
		Forest:  viper.GetFloat64("train.weights.forest"),
		Density: viper.GetFloat64("train.weights.density"),
	}
	if sum := weights.Forest + weights.Density; sum < 0.9999 || sum > 1.0001 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.4f", sum)
	}

	contamination := viper.GetFloat64("train.contamination")
	if contamination <= 0 || contamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %.4f", contamination)
	}

	params := ensemble.DefaultParams()
	params.MinSamples = viper.GetInt("train.min_samples")
	params.Seed = viper.GetInt64("train.seed")
	params.Contamination = contamination
	params.Weights = weights

	trainer := train.New(train.Config{
		ProgressWriter: os.Stderr,
		InputPath:      config.ExpandPath(viper.GetString("train.input")),
		ModelDir:       config.ExpandPath(viper.GetString("train.model_dir")),
		ChunkSize:      viper.GetInt("train.chunk_size"),
		SampleSize:     viper.GetInt("train.sample_size"),
		Params:         params,
	})

	summary, err := trainer.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTrainSummary(summary))
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Metadata: "+filepath.Join(summary.ArtifactPath, ensemble.MetadataFileName)))
	return nil
}
