// Package score applies a trained model artifact to stored records in
// restartable batches.
package score

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/ensemble"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/service"
)

// Scoring defaults.
const (
	DefaultChunkSize    = 10000
	DefaultMaxRetries   = 3
	DefaultChunkTimeout = 2 * time.Minute
)

// Config holds the settings for one scoring run.
type Config struct {
	ProgressWriter io.Writer

	ChunkSize    int
	MaxRetries   int
	ChunkTimeout time.Duration
}

// Scorer pages through stored records and writes back ML fields.
type Scorer struct {
	storage  service.Storage
	artifact *ensemble.Artifact
	cfg      Config
}

// New creates a scorer around a loaded artifact. Zero-valued config
// fields fall back to defaults.
func New(storage service.Storage, artifact *ensemble.Artifact, cfg Config) *Scorer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = io.Discard
	}
	return &Scorer{storage: storage, artifact: artifact, cfg: cfg}
}

// Run scores every stored record, paging with a keyset cursor so
// memory stays bounded by the chunk size. A chunk that keeps failing
// after retries is skipped and counted, never fatal; re-running the
// scorer overwrites all scores idempotently.
func (s *Scorer) Run(ctx context.Context) (*service.ScoreSummary, error) {
	started := time.Now()
	runID := uuid.New().String()

	slog.Info("Starting scoring run",
		"run_id", runID,
		"model_run_id", s.artifact.Metadata.RunID,
		"chunk_size", s.cfg.ChunkSize)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(s.cfg.ProgressWriter),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("scoring"),
		progressbar.OptionSpinnerType(14),
	)

	summary := &service.ScoreSummary{
		RunID:      runID,
		RiskCounts: make(map[model.RiskLevel]int),
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := s.storage.ListRecordsAfter(ctx, cursor, s.cfg.ChunkSize)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		cursor = records[len(records)-1].TransactionID
		summary.Processed += len(records)

		updates := s.scoreChunk(records)
		if err := s.applyWithRetry(ctx, updates); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			common.LogError(err, "Skipping failed chunk", common.Fields{
				"cursor":  cursor,
				"records": len(updates),
			})
			summary.FailedChunks++
			_ = bar.Add(len(records))
			continue
		}

		summary.Updated += len(updates)
		for _, u := range updates {
			summary.RiskCounts[u.RiskLevel]++
			if u.IsAnomaly {
				summary.Anomalies++
			}
		}
		_ = bar.Add(len(records))
	}
	_ = bar.Finish()

	summary.Duration = time.Since(started)
	slog.Info("Scoring run complete",
		"run_id", runID,
		"processed", summary.Processed,
		"updated", summary.Updated,
		"anomalies", summary.Anomalies,
		"failed_chunks", summary.FailedChunks,
		"duration", summary.Duration)

	return summary, nil
}

// scoreChunk computes updates for every record of one page. The frozen
// encoder tolerates missing values, missing dates and unseen categories,
// so ERROR and WARNING records are scored like any other.
func (s *Scorer) scoreChunk(records []model.TransactionRecord) []service.ScoreUpdate {
	updates := make([]service.ScoreUpdate, 0, len(records))
	for i := range records {
		r := &records[i]
		vec := s.artifact.Encoder.Transform(r)
		score := s.artifact.Model.Score(vec)
		updates = append(updates, service.ScoreUpdate{
			TransactionID: r.TransactionID,
			RiskLevel:     ensemble.ClassifyRisk(score),
			AnomalyScore:  score,
			IsAnomaly:     ensemble.IsAnomaly(score),
		})
	}
	return updates
}

// applyWithRetry commits one chunk of updates, retrying the whole
// chunk under a per-chunk deadline.
func (s *Scorer) applyWithRetry(ctx context.Context, updates []service.ScoreUpdate) error {
	chunkCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	defer cancel()

	return common.WithRetry(chunkCtx, func() error {
		return s.storage.ApplyScores(chunkCtx, updates)
	}, common.RetryOptions{
		MaxAttempts:  s.cfg.MaxRetries,
		InitialDelay: 100 * time.Millisecond,
	})
}
