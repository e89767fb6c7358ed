package sqlite

import (
	"context"
	"embed"
	"log/slog"

	"github.com/example/smartfeeder/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every embedded schema migration that has not run yet.
func Migrate(ctx context.Context, pool *ConnectionPool, logger *slog.Logger) error {
	manager := migration.NewManager(
		migration.NewScannerDir(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(pool.DB()),
		logger,
	)
	return manager.RunMigrations(ctx)
}
