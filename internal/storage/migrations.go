package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					transaction_id TEXT PRIMARY KEY,
					jurisdiction_code TEXT NOT NULL,
					registration_number TEXT NOT NULL,
					annotation_number TEXT NOT NULL,
					act_nature_code TEXT NOT NULL,
					act_nature_name TEXT,
					year INTEGER NOT NULL,
					registration_date DATETIME,
					registry_office INTEGER DEFAULT 0,
					department TEXT,
					municipality TEXT,
					zone_type TEXT,
					dynamics INTEGER,
					value REAL,
					party_count INTEGER DEFAULT 0,
					quality_status TEXT NOT NULL,
					error_reason TEXT,
					is_valid_market_act INTEGER DEFAULT 0,
					is_valid_value INTEGER DEFAULT 0,
					excessive_activity INTEGER DEFAULT 0,
					annotations_per_year INTEGER DEFAULT 0,
					geo_discrepancy INTEGER DEFAULT 0,
					expected_department TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_year ON transactions(year)`,
				`CREATE INDEX idx_transactions_department ON transactions(department)`,
				`CREATE INDEX idx_transactions_status ON transactions(quality_status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add review queue for flagged transactions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS review_queue (
					transaction_id TEXT PRIMARY KEY,
					reason TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING',
					queued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME,
					FOREIGN KEY (transaction_id) REFERENCES transactions(transaction_id)
				)`,
				`CREATE INDEX idx_review_queue_status ON review_queue(status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add anomaly score columns and indexes",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`ALTER TABLE transactions ADD COLUMN anomaly_score REAL`,
				`ALTER TABLE transactions ADD COLUMN is_anomaly INTEGER DEFAULT 0`,
				`ALTER TABLE transactions ADD COLUMN risk_level TEXT`,
				`ALTER TABLE transactions ADD COLUMN scored_at DATETIME`,
				`CREATE INDEX idx_transactions_risk ON transactions(risk_level)`,
				`CREATE INDEX idx_transactions_anomaly ON transactions(is_anomaly)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
