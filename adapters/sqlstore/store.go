// Package sqlstore implements es.EventLog on SQLite and Postgres.
//
// Records live in es_records keyed by (stream, version). es_streams tracks
// the last version of every stream so numbering continues after retention
// deleted old rows. The compare-and-append is an UPDATE guarded by the
// expected last version, inside the same transaction as the inserts.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rcknight/ESSnapshots/core/es"
)

type storeOpts struct {
	log     *slog.Logger
	migrate bool
}

type Option func(*storeOpts)

func WithLog(log *slog.Logger) Option { return func(o *storeOpts) { o.log = log } }

// WithoutMigrate skips creating the schema on open.
func WithoutMigrate() Option { return func(o *storeOpts) { o.migrate = false } }

type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

// New wraps an open database. The schema is created unless WithoutMigrate is
// given.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	o := storeOpts{log: slog.Default(), migrate: true}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		log:     o.log.With(slog.String("store", "sql"), slog.String("dialect", dialect.Name)),
	}
	if o.migrate {
		if err := s.migrate(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", unavailable(err))
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) q(query string) string { return s.dialect.rebind(query) }

// === Append ===

func (s *Store) Append(
	ctx context.Context,
	stream string,
	expected es.ExpectedVersion,
	records []es.Record,
) (es.Version, error) {
	if len(records) == 0 {
		return es.NoVersion, es.ErrNoRecords
	}
	for {
		v, err := s.append(ctx, stream, expected, records)
		if errors.Is(err, es.ErrConcurrencyConflict) && expected.IsAny() {
			s.log.Debug("append raced, retrying", slog.String("stream", stream))
			continue
		}
		return v, err
	}
}

func (s *Store) append(
	ctx context.Context,
	stream string,
	expected es.ExpectedVersion,
	records []es.Record,
) (_ es.Version, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.NoVersion, fmt.Errorf("begin: %w", unavailable(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, maxCount, exists, err := s.streamState(ctx, tx, stream)
	if err != nil {
		return es.NoVersion, err
	}
	if err := expected.Check(stream, current); err != nil {
		return es.NoVersion, err
	}

	last := current + es.Version(len(records))
	if exists {
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE es_streams SET last_version = ? WHERE stream = ? AND last_version = ?`),
			last.Int64(), stream, current.Int64(),
		)
		if err != nil {
			return es.NoVersion, s.writeErr(stream, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return es.NoVersion, unavailable(err)
		} else if n == 0 {
			return es.NoVersion, fmt.Errorf("%w: stream %s moved past version %d", es.ErrConcurrencyConflict, stream, current)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO es_streams (stream, last_version, max_count) VALUES (?, ?, 0)`),
			stream, last.Int64(),
		)
		if err != nil {
			return es.NoVersion, s.writeErr(stream, err)
		}
	}

	v := current
	for _, r := range records {
		r.Stream = stream
		if err := r.Validate(); err != nil {
			return es.NoVersion, err
		}
		v++
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO es_records (stream, version, id, type, occurred_at, data) VALUES (?, ?, ?, ?, ?, ?)`),
			stream, v.Int64(), r.ID, r.Type, r.OccurredAt.UTC().UnixNano(), []byte(r.Data),
		)
		if err != nil {
			return es.NoVersion, s.writeErr(stream, err)
		}
	}

	if maxCount > 0 {
		if err := s.truncate(ctx, tx, stream, last, maxCount); err != nil {
			return es.NoVersion, err
		}
	}

	if err := tx.Commit(); err != nil {
		return es.NoVersion, s.writeErr(stream, err)
	}

	s.log.Debug(
		"append",
		slog.String("stream", stream),
		last.SlogAttrWithKey("last_version"),
		slog.Int("num_records", len(records)),
	)
	return last, nil
}

// streamState returns the last version and retention of stream. A stream
// without a row has NoVersion.
func (s *Store) streamState(ctx context.Context, tx *sql.Tx, stream string) (es.Version, int, bool, error) {
	var (
		last     int64
		maxCount int
	)
	err := tx.QueryRowContext(ctx,
		s.q(`SELECT last_version, max_count FROM es_streams WHERE stream = ?`),
		stream,
	).Scan(&last, &maxCount)
	if errors.Is(err, sql.ErrNoRows) {
		return es.NoVersion, 0, false, nil
	}
	if err != nil {
		return es.NoVersion, 0, false, fmt.Errorf("read stream %s: %w", stream, unavailable(err))
	}
	return es.Version(last), maxCount, true, nil
}

func (s *Store) writeErr(stream string, err error) error {
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("%w: stream %s: %w", es.ErrConcurrencyConflict, stream, err)
	}
	return fmt.Errorf("write stream %s: %w", stream, unavailable(err))
}

// === Read ===

func (s *Store) ReadForward(
	ctx context.Context,
	stream string,
	from es.Version,
	pageSize int,
) (_ *es.Page, err error) {
	if pageSize <= 0 {
		pageSize = es.DefaultPageSize
	}
	if from < 0 {
		from = 0
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", unavailable(err))
	}
	defer func() { _ = tx.Rollback() }()

	last, _, _, err := s.streamState(ctx, tx, stream)
	if err != nil {
		return nil, err
	}
	if last.IsNone() || from > last {
		return &es.Page{NextVersion: from, IsEndOfStream: true}, nil
	}

	rows, err := tx.QueryContext(ctx,
		s.q(`SELECT version, id, type, occurred_at, data FROM es_records
			WHERE stream = ? AND version >= ? ORDER BY version LIMIT ?`),
		stream, from.Int64(), pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, unavailable(err))
	}
	defer rows.Close()

	page := &es.Page{NextVersion: from, Records: make([]es.Record, 0, min(pageSize, int(last-from)+1))}
	for rows.Next() {
		r, err := scanRecord(rows, stream)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, r)
		page.NextVersion = r.Version.Next()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, unavailable(err))
	}
	page.IsEndOfStream = page.NextVersion > last
	return page, nil
}

func (s *Store) ReadLastBackward(ctx context.Context, stream string) (*es.Record, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT version, id, type, occurred_at, data FROM es_records
			WHERE stream = ? ORDER BY version DESC LIMIT 1`),
		stream,
	)
	r, err := scanRecord(row, stream)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, es.ErrStreamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, stream string) (es.Record, error) {
	var (
		version    int64
		occurredAt int64
		r          = es.Record{Stream: stream}
		data       []byte
	)
	if err := row.Scan(&version, &r.ID, &r.Type, &occurredAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan record of %s: %w", stream, unavailable(err))
	}
	r.Version = es.Version(version)
	r.OccurredAt = time.Unix(0, occurredAt).UTC()
	r.Data = data
	return r, nil
}

// === Retention ===

func (s *Store) SetRetention(ctx context.Context, stream string, maxCount int) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", unavailable(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO es_streams (stream, last_version, max_count) VALUES (?, ?, ?)
			ON CONFLICT (stream) DO UPDATE SET max_count = excluded.max_count`),
		stream, es.NoVersion.Int64(), maxCount,
	)
	if err != nil {
		return s.writeErr(stream, err)
	}

	last, _, _, err := s.streamState(ctx, tx, stream)
	if err != nil {
		return err
	}
	if maxCount > 0 && !last.IsNone() {
		if err = s.truncate(ctx, tx, stream, last, maxCount); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return s.writeErr(stream, err)
	}
	return nil
}

func (s *Store) truncate(ctx context.Context, tx *sql.Tx, stream string, last es.Version, maxCount int) error {
	_, err := tx.ExecContext(ctx,
		s.q(`DELETE FROM es_records WHERE stream = ? AND version <= ?`),
		stream, (last - es.Version(maxCount)).Int64(),
	)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", stream, unavailable(err))
	}
	return nil
}

// unavailable marks connection level failures.
func unavailable(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return es.Unavailable(err)
	}
	return err
}

var _ es.EventLog = (*Store)(nil)
