// Package sqlstore is the SQLite adapter for coflow's persistence ports
// (workflow.DraftRepository, VersionRepository, OperationRepository,
// ExecutionRepository), backed by database/sql and
// github.com/mattn/go-sqlite3, with schema migrations managed by
// github.com/pressly/goose/v3.
//
// Grounded on other_examples' kandev workflow sqlite repository (table
// layout, "one struct per table, JSON-encode nested structure into a TEXT
// column" convention) for shape, adapted from its jmoiron/sqlx helper calls
// to plain database/sql since sqlx never reached coflow's go.mod. The
// teacher's own persistence layer (pkg/infrastructure/persistence/
// repositories.go) is JSON-file-based and has no SQL to ground against; its
// FindByID/Save/Delete naming and not-found sentinel-error convention is
// still followed here.
package sqlstore

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if necessary) a SQLite database at dsn and applies
// any pending migrations before returning.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: pinging %s: %w", dsn, err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every pending migration under migrations/ to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlstore: setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("sqlstore: applying migrations: %w", err)
	}
	return nil
}
