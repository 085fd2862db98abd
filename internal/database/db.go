// Package database provides database setup, models, and the data access layer
// (Store) used by the ingestion engine. SQLite (modernc) and PostgreSQL (lib/pq)
// are supported through the same sqlx queries.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/migrations"
)

// Supported driver names, matching the database/sql drivers registered by
// modernc.org/sqlite and github.com/lib/pq (both imported by store.go).
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NewDB connects to the configured database, tunes the pool, and applies
// migrations.
func NewDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch cfg.Driver {
	case DriverSQLite:
		// SQLite doesn't support concurrent writers; one connection serializes
		// ingestion transactions.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := ApplyMigrations(db.DB, cfg.Driver); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully",
		"driver", cfg.Driver, "dsn", RedactDSN(cfg.DSN))
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// ApplyMigrations runs the embedded migrations for driverName against db.
func ApplyMigrations(db *sql.DB, driverName string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}

	slog.Info("Applying database migrations...", "driver", driverName)

	sourceDriver, err := iofs.New(migrations.FS, driverName)
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	var dbDriver database.Driver
	switch driverName {
	case DriverSQLite:
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DriverPostgres:
		dbDriver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", driverName)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", driverName, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}

// SQLiteDSN turns a plain file path into a modernc DSN that enables foreign keys
// and a busy timeout. DSNs that already carry parameters are returned unchanged.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// RedactDSN hides the password of URL-style DSNs for logging.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
