package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/core/es/estest"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?`
	require.Equal(t, q, SQLite.rebind(q))
	require.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3`, Postgres.rebind(q))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s, err := New(db, Postgres, WithoutMigrate())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return s, mock
}

var (
	qStreamState = regexp.QuoteMeta(`SELECT last_version, max_count FROM es_streams WHERE stream = $1`)
	qBumpStream  = regexp.QuoteMeta(`UPDATE es_streams SET last_version = $1 WHERE stream = $2 AND last_version = $3`)
	qNewStream   = regexp.QuoteMeta(`INSERT INTO es_streams (stream, last_version, max_count) VALUES ($1, $2, 0)`)
	qInsert      = regexp.QuoteMeta(`INSERT INTO es_records`)
)

func TestPostgres_AppendNewStreamUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qStreamState).WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_version", "max_count"}))
	mock.ExpectExec(qNewStream).WithArgs("s-1", int64(0)).
		WillReturnError(&pq.Error{Code: pgUniqueViolation, Message: "duplicate key"})
	mock.ExpectRollback()

	_, err := s.Append(t.Context(), "s-1", es.NoStream, estest.Records(1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
}

func TestPostgres_AppendLostUpdate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qStreamState).WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_version", "max_count"}).AddRow(int64(4), 0))
	mock.ExpectExec(qBumpStream).WithArgs(int64(5), "s-1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Append(t.Context(), "s-1", es.ExpectVersion(4), estest.Records(1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
}

func TestPostgres_AppendWithRetention(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qStreamState).WithArgs("snap").
		WillReturnRows(sqlmock.NewRows([]string{"last_version", "max_count"}).AddRow(int64(0), 1))
	mock.ExpectExec(qBumpStream).WithArgs(int64(1), "snap", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsert).WithArgs("snap", int64(1), sqlmock.AnyArg(), "Tick", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM es_records WHERE stream = $1 AND version <= $2`)).
		WithArgs("snap", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := s.Append(t.Context(), "snap", es.AnyVersion, estest.Records(1))
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)
}

func TestPostgres_DialFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	mock.ExpectBegin().WillReturnError(refused)
	mock.ExpectBegin().WillReturnError(refused)

	_, err := s.Append(t.Context(), "s-1", es.AnyVersion, estest.Records(1))
	require.ErrorIs(t, err, es.ErrServiceUnavailable)

	_, err = s.ReadForward(t.Context(), "s-1", 0, 10)
	require.ErrorIs(t, err, es.ErrServiceUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnavailable(t *testing.T) {
	for _, err := range []error{
		driver.ErrBadConn,
		sql.ErrConnDone,
		context.DeadlineExceeded,
		fmt.Errorf("begin: %w", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}),
	} {
		require.ErrorIs(t, unavailable(err), es.ErrServiceUnavailable, "%v", err)
	}
	require.NotErrorIs(t, unavailable(sql.ErrNoRows), es.ErrServiceUnavailable)
}

func TestPostgres_ReadLastMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, id, type, occurred_at, data FROM es_records`)).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "id", "type", "occurred_at", "data"}))

	_, err := s.ReadLastBackward(t.Context(), "s-1")
	require.ErrorIs(t, err, es.ErrStreamNotFound)
}

func TestPostgres_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "es",
			"POSTGRES_PASSWORD": "es",
			"POSTGRES_DB":       "es",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := pgC.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(t, err)

	s, err := OpenPostgres("postgres://es:es@" + endpoint + "/es?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	estest.RunEventLogContract(t, s)
}
