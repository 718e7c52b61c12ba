package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RunMigrations выполняет все *.sql файлы из dir в лексикографическом порядке.
// Миграции должны быть идемпотентными (IF NOT EXISTS): они запускаются при каждом старте.
func RunMigrations(ctx context.Context, db DB, dir string, logger *zap.Logger) error {
	logger.Info("Running database migrations", zap.String("dir", dir))

	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		logger.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		logger.Info("Migration completed", zap.String("file", filename))
	}

	logger.Info("All migrations completed successfully", zap.Int("count", len(migrationFiles)))
	return nil
}
