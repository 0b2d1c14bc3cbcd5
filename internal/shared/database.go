package shared

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DSN builds a go-sqlite3 data source name for path with foreign keys enforced,
// a busy timeout, and write-intent (IMMEDIATE) transactions.
//
// The path can be ":memory:" for an in-memory database.
func DSN(path string, busyTimeoutMS int) string {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, sep, busyTimeoutMS)
}

// NewDatabase opens a connection to a SQLite database at the specified path.
// Returns an open database handle or an error if connection fails.
func NewDatabase(path string) (*sqlx.DB, error) {
	return OpenDatabase(DatabaseConfig{Path: path})
}

// OpenDatabase opens the database described by cfg and applies its pool settings.
//
// In-memory databases are pinned to a single connection, since every new
// connection to ":memory:" would otherwise see an empty database.
func OpenDatabase(cfg DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", DSN(cfg.Path, cfg.BusyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if strings.HasPrefix(cfg.Path, ":memory:") {
		ConfigureDatabase(db, 1, 1)
	} else if cfg.MaxOpenConns > 0 {
		ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
func ConfigureDatabase(db *sqlx.DB, maxOpenConns, maxIdleConns int) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
}
