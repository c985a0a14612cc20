// Package storage opens the shared *sqlx.DB used by every repository in
// authcore and runs the startup migration. Two backends are supported behind
// one schema, per spec §6.3: SQLite (dev/test) and PostgreSQL (prod),
// selected by the DATABASE_URL prefix.
package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/trailforge/authcore/pkg/config"
	"github.com/trailforge/authcore/pkg/logx"
)

// Open connects to the configured backend and applies connection-pool
// settings. Callers should defer Close() (via the returned *sqlx.DB).
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver()
	dsn := cfg.DSN()

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", driver, err)
	}

	if driver == "postgres" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		// SQLite has no real connection concurrency; pin to a single
		// connection so writers don't race each other into "database is locked".
		db.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db, driver); err != nil {
			return nil, fmt.Errorf("storage: migrate: %w", err)
		}
	}

	logx.Infof("storage: connected (%s)", driver)
	return db, nil
}

// Rebind rewrites a query written with "?" placeholders into the bind style
// the underlying driver expects (sqlx.DB.Rebind handles $1.. for postgres).
func Rebind(db *sqlx.DB, query string) string {
	return db.Rebind(query)
}
