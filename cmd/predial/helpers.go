package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/casamayor/predial/internal/config"
	"github.com/casamayor/predial/internal/storage"
)

// openStorage opens the configured database and applies pending
// migrations.
func openStorage() (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		defaultPath, err := config.DefaultDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		dbPath = defaultPath
	}

	store, err := storage.NewSQLiteStorage(config.ExpandPath(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}
