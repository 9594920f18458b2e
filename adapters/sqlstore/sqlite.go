package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS es_streams (
			stream       TEXT PRIMARY KEY,
			last_version INTEGER NOT NULL,
			max_count    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS es_records (
			stream      TEXT NOT NULL,
			version     INTEGER NOT NULL,
			id          TEXT NOT NULL,
			type        TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			data        BLOB NOT NULL,
			PRIMARY KEY (stream, version)
		)`,
	},
	isUniqueViolation: func(err error) bool {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
				return true
			}
		}
		return false
	},
}

// OpenSQLite opens (or creates) the database at path. Write transactions
// start with BEGIN IMMEDIATE so concurrent appends queue on the busy timeout
// instead of failing on lock upgrade.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	memory := path == ":memory:"
	if !memory {
		path = filepath.Clean(path)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return New(db, SQLite, opts...)
}
