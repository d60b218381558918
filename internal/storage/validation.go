// Package storage provides the data persistence layer for the predial application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/service"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrEmptySlice    = errors.New("slice cannot be empty")
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidScore  = errors.New("invalid score update")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRecords validates a slice of records.
func validateRecords(records []model.TransactionRecord) error {
	if records == nil {
		return fmt.Errorf("%w: records", ErrNilParameter)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: records", ErrEmptySlice)
	}

	for i := range records {
		if err := validateRecord(&records[i]); err != nil {
			return fmt.Errorf("record at index %d: %w", i, err)
		}
	}
	return nil
}

// validateRecord validates a single record.
func validateRecord(r *model.TransactionRecord) error {
	if r.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidRecord)
	}
	if r.QualityStatus == "" {
		return fmt.Errorf("%w: missing quality status", ErrInvalidRecord)
	}
	return nil
}

// validateScoreUpdates validates a slice of score updates.
func validateScoreUpdates(updates []service.ScoreUpdate) error {
	if updates == nil {
		return fmt.Errorf("%w: updates", ErrNilParameter)
	}
	if len(updates) == 0 {
		return fmt.Errorf("%w: updates", ErrEmptySlice)
	}

	for i, u := range updates {
		if u.TransactionID == "" {
			return fmt.Errorf("%w: missing transaction ID at index %d", ErrInvalidScore, i)
		}
		if u.AnomalyScore < 0 || u.AnomalyScore > 1 {
			return fmt.Errorf("%w: score must be between 0 and 1 at index %d", ErrInvalidScore, i)
		}
		switch u.RiskLevel {
		case model.RiskNormal, model.RiskSuspicious, model.RiskHighRisk:
		default:
			return fmt.Errorf("%w: unknown risk level %q at index %d", ErrInvalidScore, u.RiskLevel, i)
		}
	}
	return nil
}
