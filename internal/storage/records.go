package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/casamayor/predial/internal/common"
	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/service"
)

// SaveRecords upserts one chunk of records in a single transaction.
// Replaying the same chunk overwrites the same rows, so interrupted
// runs can safely be restarted.
func (s *SQLiteStorage) SaveRecords(ctx context.Context, records []model.TransactionRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions (
			transaction_id, jurisdiction_code, registration_number,
			annotation_number, act_nature_code, act_nature_name,
			year, registration_date, registry_office,
			department, municipality, zone_type,
			dynamics, value, party_count,
			quality_status, error_reason,
			is_valid_market_act, is_valid_value,
			excessive_activity, annotations_per_year,
			geo_discrepancy, expected_department
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range records {
		r := &records[i]

		var date any
		if !r.RegistrationDate.IsZero() {
			date = r.RegistrationDate
		}
		var value any
		if r.Value != nil {
			value = *r.Value
		}
		var dynamics any
		if r.Dynamics != nil {
			dynamics = *r.Dynamics
		}

		_, err = stmt.ExecContext(ctx,
			r.TransactionID,
			r.JurisdictionCode,
			r.RegistrationNumber,
			r.AnnotationNumber,
			r.ActNatureCode,
			r.ActNatureName,
			r.Year,
			date,
			r.RegistryOffice,
			r.Department,
			r.Municipality,
			r.ZoneType,
			dynamics,
			value,
			r.PartyCount,
			string(r.QualityStatus),
			string(r.ErrorReason),
			boolToInt(r.IsValidMarketAct),
			boolToInt(r.IsValidValue),
			boolToInt(r.ExcessiveActivity),
			r.AnnotationsPerYear,
			boolToInt(r.GeoDiscrepancy),
			r.ExpectedDepartment,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.TransactionID, err)
		}
	}

	return tx.Commit()
}

const recordColumns = `
	transaction_id, jurisdiction_code, registration_number,
	annotation_number, act_nature_code, act_nature_name,
	year, registration_date, registry_office,
	department, municipality, zone_type,
	dynamics, value, party_count,
	quality_status, error_reason,
	is_valid_market_act, is_valid_value,
	excessive_activity, annotations_per_year,
	geo_discrepancy, expected_department,
	anomaly_score, is_anomaly, risk_level
`

// GetRecordByID retrieves a single record by its transaction ID.
func (s *SQLiteStorage) GetRecordByID(ctx context.Context, id string) (*model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE transaction_id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return r, nil
}

// GetRecordCount returns the total number of stored records.
func (s *SQLiteStorage) GetRecordCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ListRecordsAfter returns up to limit records with transaction_id
// strictly greater than afterID, ordered by transaction_id. Passing an
// empty afterID starts from the beginning; the last returned ID is the
// cursor for the next page.
func (s *SQLiteStorage) ListRecordsAfter(ctx context.Context, afterID string, limit int) ([]model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidRecord)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions
		 WHERE transaction_id > ?
		 ORDER BY transaction_id
		 LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.TransactionRecord
	for rows.Next() {
		r, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan record: %w", scanErr)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// SaveReviewRecords queues flagged records for manual review. Records
// already queued keep their original entry and status.
func (s *SQLiteStorage) SaveReviewRecords(ctx context.Context, records []model.TransactionRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO review_queue (transaction_id, reason)
		VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range records {
		r := &records[i]
		reason := reviewReason(r)
		if reason == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.TransactionID, reason); err != nil {
			return fmt.Errorf("failed to queue record %s: %w", r.TransactionID, err)
		}
	}

	return tx.Commit()
}

// reviewReason names why a record needs manual review, or returns the
// empty string when it doesn't.
func reviewReason(r *model.TransactionRecord) string {
	switch {
	case r.ExcessiveActivity:
		return "excessive_activity"
	case r.GeoDiscrepancy:
		return "geo_discrepancy"
	case r.RiskLevel == model.RiskHighRisk:
		return "high_risk_score"
	default:
		return ""
	}
}

// GetPendingReviewCount returns how many queued records still await review.
func (s *SQLiteStorage) GetPendingReviewCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM review_queue WHERE status = 'PENDING'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	return count, nil
}

// ApplyScores writes one chunk of ML results in a single transaction.
// Updates are keyed by transaction_id and overwrite previous scores, so
// re-running a scoring chunk is idempotent.
func (s *SQLiteStorage) ApplyScores(ctx context.Context, updates []service.ScoreUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateScoreUpdates(updates); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE transactions
		SET anomaly_score = ?, is_anomaly = ?, risk_level = ?, scored_at = ?
		WHERE transaction_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, u := range updates {
		_, err := stmt.ExecContext(ctx,
			u.AnomalyScore,
			boolToInt(u.IsAnomaly),
			string(u.RiskLevel),
			now,
			u.TransactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to apply score for %s: %w", u.TransactionID, err)
		}
	}

	return tx.Commit()
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.TransactionRecord, error) {
	var r model.TransactionRecord
	var date sql.NullTime
	var value sql.NullFloat64
	var dynamics, validMarket, validValue, excessive, geo, isAnomaly sql.NullInt64
	var score sql.NullFloat64
	var riskLevel, errorReason, status sql.NullString

	err := row.Scan(
		&r.TransactionID,
		&r.JurisdictionCode,
		&r.RegistrationNumber,
		&r.AnnotationNumber,
		&r.ActNatureCode,
		&r.ActNatureName,
		&r.Year,
		&date,
		&r.RegistryOffice,
		&r.Department,
		&r.Municipality,
		&r.ZoneType,
		&dynamics,
		&value,
		&r.PartyCount,
		&status,
		&errorReason,
		&validMarket,
		&validValue,
		&excessive,
		&r.AnnotationsPerYear,
		&geo,
		&r.ExpectedDepartment,
		&score,
		&isAnomaly,
		&riskLevel,
	)
	if err != nil {
		return nil, err
	}

	if date.Valid {
		r.RegistrationDate = date.Time.UTC()
	}
	if value.Valid {
		v := value.Float64
		r.Value = &v
	}
	if dynamics.Valid {
		d := int(dynamics.Int64)
		r.Dynamics = &d
	}
	r.QualityStatus = model.QualityStatus(status.String)
	r.ErrorReason = model.ErrorReason(errorReason.String)
	r.IsValidMarketAct = validMarket.Int64 != 0
	r.IsValidValue = validValue.Int64 != 0
	r.ExcessiveActivity = excessive.Int64 != 0
	r.GeoDiscrepancy = geo.Int64 != 0
	if score.Valid {
		r.AnomalyScore = score.Float64
	}
	r.IsAnomaly = isAnomaly.Int64 != 0
	r.RiskLevel = model.RiskLevel(riskLevel.String)

	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
