package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		if err := createPathConfigsTable(tx); err != nil {
			return err
		}
		if err := createDerivationLocksTable(tx); err != nil {
			return err
		}
		if err := createTreeCacheTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}

	// An empty file (or one created by another tool) has no version yet.
	if version == 0 {
		return db.initializeSchema()
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createPathConfigsTable creates the path_configs table holding one code
// mapping per (project, stack_root).
func createPathConfigsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS path_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization TEXT NOT NULL,
			project TEXT NOT NULL,
			stack_root TEXT NOT NULL,
			source_root TEXT NOT NULL,
			repository TEXT NOT NULL,
			branch TEXT NOT NULL,
			integration_id TEXT,
			automatically_generated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE (project, stack_root)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create path_configs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_path_configs_organization ON path_configs(organization)",
		"CREATE INDEX IF NOT EXISTS idx_path_configs_repository ON path_configs(repository)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createDerivationLocksTable creates the derivation_locks table.
// expires_at is unix milliseconds so expiry can be compared in SQL.
func createDerivationLocksTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS derivation_locks (
			key TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create derivation_locks table: %w", err)
	}
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_derivation_locks_expires_at ON derivation_locks(expires_at)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// createTreeCacheTable creates the per-organization repository tree cache
func createTreeCacheTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tree_cache (
			organization TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			repo_count INTEGER NOT NULL,
			fetched_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tree_cache table: %w", err)
	}
	return nil
}
