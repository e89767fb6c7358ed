// Package migration applies versioned SQL migrations to a SQLite database.
//
// Migrations are read from an fs.FS, usually an embedded directory, and follow
// the naming convention {version}_{description}.sql (e.g. "001_initial_schema.sql").
// Applied versions are tracked in the schema_migrations table so each file runs
// exactly once, inside its own transaction.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files), migration.NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
