// Package train fits the anomaly ensemble on the ML partition and
// publishes the model artifact.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/casamayor/predial/internal/ensemble"
	"github.com/casamayor/predial/internal/feature"
	"github.com/casamayor/predial/internal/ingest"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/partition"
	"github.com/casamayor/predial/internal/service"
)

// Training defaults.
const (
	DefaultChunkSize  = 50000
	DefaultSampleSize = 250000
)

// Config holds the settings for one training run.
type Config struct {
	ProgressWriter io.Writer

	// InputPath is the ML partition produced by the ETL stage.
	InputPath string
	ModelDir  string

	ChunkSize  int
	SampleSize int

	Params ensemble.Params
}

// Trainer reads the ML partition, fits the ensemble and saves the
// artifact.
type Trainer struct {
	cfg Config
}

// New creates a trainer. Zero-valued config fields fall back to
// defaults.
func New(cfg Config) *Trainer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Params.NumTrees == 0 {
		cfg.Params = ensemble.DefaultParams()
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = io.Discard
	}
	return &Trainer{cfg: cfg}
}

// Run executes the full training flow and publishes the artifact
// atomically.
func (t *Trainer) Run(ctx context.Context) (*service.TrainSummary, error) {
	started := time.Now()
	runID := uuid.New().String()

	slog.Info("Starting training run",
		"run_id", runID,
		"input", t.cfg.InputPath,
		"sample_size", t.cfg.SampleSize)

	sample, err := t.loadSample(ctx)
	if err != nil {
		return nil, err
	}

	encoder := feature.Fit(sample)
	vectors := encoder.TransformAll(sample)

	m, err := ensemble.Train(vectors, t.cfg.Params)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(vectors))
	riskCounts := make(map[model.RiskLevel]int)
	for i, vec := range vectors {
		scores[i] = m.Score(vec)
		riskCounts[ensemble.ClassifyRisk(scores[i])]++
	}

	dropped := droppedFeatures(m.Mask)
	artifact := &ensemble.Artifact{
		Encoder: encoder,
		Model:   m,
		Metadata: ensemble.Metadata{
			TrainedAt:       time.Now().UTC(),
			RunID:           runID,
			FeatureNames:    feature.Names,
			DroppedFeatures: dropped,
			Importances:     importances(vectors, scores, m.Mask),
			SampleSize:      len(sample),
		},
	}
	if err := artifact.Save(t.cfg.ModelDir); err != nil {
		return nil, err
	}

	summary := &service.TrainSummary{
		RunID:           runID,
		ArtifactPath:    t.cfg.ModelDir,
		RiskCounts:      riskCounts,
		SampleSize:      len(sample),
		FeatureCount:    feature.Count - len(dropped),
		DroppedFeatures: len(dropped),
		Duration:        time.Since(started),
	}

	slog.Info("Training run complete",
		"run_id", runID,
		"sample_size", summary.SampleSize,
		"dropped_features", summary.DroppedFeatures,
		"duration", summary.Duration)

	return summary, nil
}

// loadSample streams the ML partition and keeps a uniform reservoir
// sample of at most SampleSize records. The seeded generator keeps
// repeated runs over the same partition identical.
func (t *Trainer) loadSample(ctx context.Context) ([]model.TransactionRecord, error) {
	reader, err := ingest.NewChunkReader(t.cfg.InputPath, t.cfg.ChunkSize, []string{partition.ColTransactionID})
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	rng := rand.New(rand.NewSource(t.cfg.Params.Seed))
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(t.cfg.ProgressWriter),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("sampling"),
		progressbar.OptionSpinnerType(14),
	)

	sample := make([]model.TransactionRecord, 0, t.cfg.SampleSize)
	seen := 0
	for {
		rows, readErr := reader.ReadChunk(ctx)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read training input: %w", readErr)
		}

		for _, row := range rows {
			record, umErr := partition.UnmarshalRecord(row.Fields)
			if umErr != nil {
				continue
			}
			seen++
			if len(sample) < t.cfg.SampleSize {
				sample = append(sample, record)
			} else if j := rng.Intn(seen); j < t.cfg.SampleSize {
				sample[j] = record
			}
		}
		_ = bar.Add(len(rows))
	}
	_ = bar.Finish()

	return sample, nil
}

func droppedFeatures(mask []bool) []string {
	var dropped []string
	for i, keep := range mask {
		if !keep {
			dropped = append(dropped, feature.Names[i])
		}
	}
	return dropped
}

// importances approximates each kept feature's influence as the
// absolute correlation between its column and the combined score.
func importances(vectors [][]float64, scores []float64, mask []bool) map[string]float64 {
	n := float64(len(vectors))
	if n == 0 {
		return nil
	}

	scoreMean := 0.0
	for _, s := range scores {
		scoreMean += s
	}
	scoreMean /= n

	out := make(map[string]float64)
	for j, keep := range mask {
		if !keep {
			continue
		}

		colMean := 0.0
		for i := range vectors {
			colMean += vectors[i][j]
		}
		colMean /= n

		cov, colVar, scoreVar := 0.0, 0.0, 0.0
		for i := range vectors {
			dc := vectors[i][j] - colMean
			ds := scores[i] - scoreMean
			cov += dc * ds
			colVar += dc * dc
			scoreVar += ds * ds
		}
		if colVar == 0 || scoreVar == 0 {
			out[feature.Names[j]] = 0
			continue
		}
		out[feature.Names[j]] = math.Abs(cov / math.Sqrt(colVar*scoreVar))
	}
	return out
}
