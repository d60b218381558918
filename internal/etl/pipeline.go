// Package etl orchestrates the two-pass ingestion run: aggregate
// context first, then classify, flag, partition and persist.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/casamayor/predial/internal/anomaly"
	"github.com/casamayor/predial/internal/ingest"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/partition"
	"github.com/casamayor/predial/internal/quality"
	"github.com/casamayor/predial/internal/service"
)

// DefaultChunkSize is the number of rows processed per batch.
const DefaultChunkSize = 500000

// Config holds the settings for one ETL run.
type Config struct {
	ProgressWriter io.Writer

	InputPath string
	OutputDir string

	IngestionDate time.Time

	ChunkSize         int
	ActivityThreshold int
}

// Pipeline runs the full ingestion flow against a storage backend.
type Pipeline struct {
	storage service.Storage
	cfg     Config
}

// New creates a pipeline. Zero-valued config fields fall back to
// defaults.
func New(storage service.Storage, cfg Config) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ActivityThreshold <= 0 {
		cfg.ActivityThreshold = anomaly.DefaultActivityThreshold
	}
	if cfg.IngestionDate.IsZero() {
		cfg.IngestionDate = time.Now().UTC()
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = io.Discard
	}
	return &Pipeline{storage: storage, cfg: cfg}
}

// Run executes both passes. The first pass only builds the dataset-wide
// aggregates; no record is annotated until the whole input has been
// seen. The second pass classifies, flags, partitions and persists.
func (p *Pipeline) Run(ctx context.Context) (*service.EtlSummary, error) {
	started := time.Now()
	runID := uuid.New().String()

	slog.Info("Starting ETL run",
		"run_id", runID,
		"input", p.cfg.InputPath,
		"chunk_size", p.cfg.ChunkSize)

	flagger, err := p.aggregatePass(ctx)
	if err != nil {
		return nil, err
	}

	// Both passes see the same rows; rejections are only counted in the
	// annotate pass.
	summary, report, err := p.annotatePass(ctx, flagger)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID
	summary.Duration = time.Since(started)

	report.RunID = runID
	report.StartedAt = started.UTC()
	report.FinishedAt = time.Now().UTC()
	report.RejectedRows = summary.RejectedRows
	if err := partition.WriteReport(p.cfg.OutputDir, report); err != nil {
		return nil, err
	}

	slog.Info("ETL run complete",
		"run_id", runID,
		"input_rows", summary.InputRows,
		"rejected_rows", summary.RejectedRows,
		"duration", summary.Duration)

	return summary, nil
}

// aggregatePass streams the whole input through the anomaly aggregator
// and freezes the flagger. Rows are normalized but nothing is written.
func (p *Pipeline) aggregatePass(ctx context.Context) (*anomaly.Flagger, error) {
	reader, err := ingest.NewChunkReader(p.cfg.InputPath, p.cfg.ChunkSize, ingest.RequiredColumns)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	normalizer := ingest.NewNormalizer(p.cfg.IngestionDate)
	aggregator := anomaly.NewAggregator()
	bar := p.newBar("aggregating")

	for {
		rows, readErr := reader.ReadChunk(ctx)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("aggregate pass failed: %w", readErr)
		}

		for _, row := range rows {
			record, normErr := normalizer.Normalize(row)
			if normErr != nil {
				continue
			}
			aggregator.Observe(&record)
		}
		_ = bar.Add(len(rows))
	}
	_ = bar.Finish()

	return aggregator.Freeze(p.cfg.ActivityThreshold), nil
}

// annotatePass re-reads the input, classifies and annotates every
// record with the frozen aggregates, routes it into the partitions and
// persists each chunk transactionally.
func (p *Pipeline) annotatePass(ctx context.Context, flagger *anomaly.Flagger) (*service.EtlSummary, *partition.Report, error) {
	reader, err := ingest.NewChunkReader(p.cfg.InputPath, p.cfg.ChunkSize, ingest.RequiredColumns)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = reader.Close() }()

	writer, err := partition.NewWriter(p.cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = writer.Close() }()

	normalizer := ingest.NewNormalizer(p.cfg.IngestionDate)
	classifier := quality.NewClassifier(p.cfg.IngestionDate.Year())
	stats := partition.NewStatsCollector()
	bar := p.newBar("classifying")

	summary := &service.EtlSummary{
		ReasonCounts: make(map[model.ErrorReason]int),
	}
	statusCounts := make(map[model.QualityStatus]int)

	for {
		rows, readErr := reader.ReadChunk(ctx)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, nil, fmt.Errorf("annotate pass failed: %w", readErr)
		}

		chunk := make([]model.TransactionRecord, 0, len(rows))
		var flagged []model.TransactionRecord
		for _, row := range rows {
			record, normErr := normalizer.Normalize(row)
			if normErr != nil {
				summary.RejectedRows++
				continue
			}

			classifier.Apply(&record)
			flagger.Annotate(&record)

			summary.InputRows++
			statusCounts[record.QualityStatus]++
			if record.ErrorReason != model.ReasonNone {
				summary.ReasonCounts[record.ErrorReason]++
			}
			if record.ExcessiveActivity {
				summary.ExcessiveActivityCount++
			}
			if record.GeoDiscrepancy {
				summary.GeoDiscrepancyCount++
			}

			if writeErr := writer.Route(&record); writeErr != nil {
				return nil, nil, writeErr
			}
			if record.IsValidMarketAct && record.IsValidValue && record.QualityStatus == model.StatusOK {
				stats.ObserveML(&record)
			}
			if record.ExcessiveActivity || record.GeoDiscrepancy {
				flagged = append(flagged, record)
			}
			chunk = append(chunk, record)
		}

		if len(chunk) > 0 {
			if saveErr := p.storage.SaveRecords(ctx, chunk); saveErr != nil {
				return nil, nil, fmt.Errorf("failed to persist chunk %d: %w", reader.Batch(), saveErr)
			}
		}
		if len(flagged) > 0 {
			if saveErr := p.storage.SaveReviewRecords(ctx, flagged); saveErr != nil {
				return nil, nil, fmt.Errorf("failed to queue chunk %d for review: %w", reader.Batch(), saveErr)
			}
		}
		_ = bar.Add(len(rows))
	}
	_ = bar.Finish()

	if err := writer.Close(); err != nil {
		return nil, nil, err
	}
	if err := stats.WriteFiles(p.cfg.OutputDir); err != nil {
		return nil, nil, err
	}

	summary.RejectedRows += reader.Rejected()
	summary.OKCount = statusCounts[model.StatusOK]
	summary.WarningCount = statusCounts[model.StatusWarning]
	summary.ErrorCount = statusCounts[model.StatusError]
	summary.PartitionCounts = writer.Counts()

	report := &partition.Report{
		PartitionCounts:        writer.Counts(),
		ReasonCounts:           summary.ReasonCounts,
		StatusCounts:           statusCounts,
		InputRows:              summary.InputRows,
		ExcessiveActivityCount: summary.ExcessiveActivityCount,
		GeoDiscrepancyCount:    summary.GeoDiscrepancyCount,
	}

	return summary, report, nil
}

func (p *Pipeline) newBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(p.cfg.ProgressWriter),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
	)
}
