package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgUniqueViolation = pq.ErrorCode("23505")

var Postgres = Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS es_streams (
			stream       TEXT PRIMARY KEY,
			last_version BIGINT NOT NULL,
			max_count    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS es_records (
			stream      TEXT NOT NULL,
			version     BIGINT NOT NULL,
			id          TEXT NOT NULL,
			type        TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			data        BYTEA NOT NULL,
			PRIMARY KEY (stream, version)
		)`,
	},
	numbered: true,
	isUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
	},
}

// OpenPostgres connects with a lib/pq DSN or URL.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", unavailable(err))
	}
	return New(db, Postgres, opts...)
}
