package storage

import (
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// Migrate applies the idempotent startup schema for the given driver. Every
// statement is CREATE TABLE/INDEX IF NOT EXISTS, so this is safe to run on
// every boot rather than tracking applied-migration state.
func Migrate(db *sqlx.DB, driver string) error {
	var schema string
	switch driver {
	case "postgres":
		schema = postgresSchema
	case "sqlite3":
		schema = sqliteSchema
	default:
		return fmt.Errorf("storage: no schema for driver %q", driver)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("storage: apply schema: %w", err)
	}
	return nil
}
