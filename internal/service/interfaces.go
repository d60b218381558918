// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/casamayor/predial/internal/model"
)

// Storage defines the contract for the persistence layer.
//
// SaveRecords and ApplyScores each commit one chunk as a single logical
// transaction: either the whole chunk's mutations land or none do.
type Storage interface {
	// Record operations.
	SaveRecords(ctx context.Context, records []model.TransactionRecord) error
	GetRecordByID(ctx context.Context, id string) (*model.TransactionRecord, error)
	GetRecordCount(ctx context.Context) (int, error)
	ListRecordsAfter(ctx context.Context, afterID string, limit int) ([]model.TransactionRecord, error)

	// Review queue operations.
	SaveReviewRecords(ctx context.Context, records []model.TransactionRecord) error
	GetPendingReviewCount(ctx context.Context) (int, error)

	// Score operations. ApplyScores upserts ML fields by transaction_id
	// and must be idempotent under at-least-once delivery.
	ApplyScores(ctx context.Context, updates []ScoreUpdate) error

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// ScoreUpdate carries the three ML fields written back per record.
type ScoreUpdate struct {
	TransactionID string
	RiskLevel     model.RiskLevel
	AnomalyScore  float64
	IsAnomaly     bool
}

// EtlSummary shows the results of an ETL run.
type EtlSummary struct {
	RunID           string
	PartitionCounts map[string]int
	ReasonCounts    map[model.ErrorReason]int

	InputRows    int
	RejectedRows int
	OKCount      int
	WarningCount int
	ErrorCount   int

	ExcessiveActivityCount int
	GeoDiscrepancyCount    int

	Duration time.Duration
}

// ScoreSummary shows the results of a scoring run.
type ScoreSummary struct {
	RunID      string
	RiskCounts map[model.RiskLevel]int

	Processed    int
	Updated      int
	Anomalies    int
	FailedChunks int

	Duration time.Duration
}

// TrainSummary shows the results of a training run.
type TrainSummary struct {
	RunID        string
	ArtifactPath string
	RiskCounts   map[model.RiskLevel]int

	SampleSize      int
	FeatureCount    int
	DroppedFeatures int

	Duration time.Duration
}
