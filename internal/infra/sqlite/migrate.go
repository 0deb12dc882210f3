// Migration system for the service's SQLite databases.
// Uses embed.FS to bundle SQL files into the binary (zero runtime file deps).
// Tracks applied migrations per schema in schema_migrations.

package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*/*.up.sql
var migrations embed.FS

// Schema names a directory of migrations under migrations/.
type Schema string

// Schemas shipped with the binary.
const (
	SchemaConversation Schema = "conversation"
	SchemaIndex        Schema = "index"
)

// MigrateUp applies all pending *.up.sql migrations of schema in order.
// Already-applied migrations are skipped. Each migration runs in its own transaction.
func MigrateUp(db *sql.DB, schema Schema) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("migrate: ensure migrations table: %w", err)
	}

	files, err := loadMigrationFiles(schema)
	if err != nil {
		return fmt.Errorf("migrate: load %s files: %w", schema, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("migrate: no migrations for schema %q", schema)
	}

	for _, f := range files {
		version := versionFromFilename(f.name)

		applied, checkErr := isMigrationApplied(db, schema, version)
		if checkErr != nil {
			return fmt.Errorf("migrate: check applied %s/%d: %w", schema, version, checkErr)
		}
		if applied {
			continue
		}

		if applyErr := applyMigration(db, schema, version, f.name, f.sql); applyErr != nil {
			return fmt.Errorf("migrate: apply %s/%s: %w", schema, f.name, applyErr)
		}
	}

	return nil
}

// MigrationVersion returns the highest version applied for schema, 0 if none.
func MigrationVersion(db *sql.DB, schema Schema) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, fmt.Errorf("migrate: ensure migrations table: %w", err)
	}

	var version int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE schema_name = ?", string(schema))
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("migrate: query version: %w", err)
	}

	return version, nil
}

// --- internal ---

type migrationFile struct {
	name string // e.g. "001_conversation_turn.up.sql"
	sql  string
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			schema_name TEXT    NOT NULL,
			version     INTEGER NOT NULL,
			name        TEXT    NOT NULL,
			applied_at  TEXT    NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (schema_name, version)
		)
	`)
	return err
}

// loadMigrationFiles reads migrations/<schema>/*.up.sql sorted by name.
func loadMigrationFiles(schema Schema) ([]migrationFile, error) {
	dir := path.Join("migrations", string(schema))
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, err
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		content, err := migrations.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		files = append(files, migrationFile{name: e.Name(), sql: string(content)})
	}

	// lexicographic = numeric order for 001_, 002_, ... prefixes
	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// versionFromFilename extracts the numeric version prefix from a migration filename.
// "001_conversation_turn.up.sql" → 1
func versionFromFilename(name string) int {
	var version int
	if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
		return 0
	}
	return version
}

func isMigrationApplied(db *sql.DB, schema Schema, version int) (bool, error) {
	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE schema_name = ? AND version = ?", string(schema), version)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func applyMigration(db *sql.DB, schema Schema, version int, name, sqlContent string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	if _, execErr := tx.Exec(sqlContent); execErr != nil {
		return fmt.Errorf("exec SQL: %w", execErr)
	}

	if _, execErr := tx.Exec(
		"INSERT INTO schema_migrations (schema_name, version, name) VALUES (?, ?, ?)",
		string(schema), version, name,
	); execErr != nil {
		return fmt.Errorf("record migration: %w", execErr)
	}

	return tx.Commit()
}
