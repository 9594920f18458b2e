// Package estest holds the behaviour every es.EventLog implementation must
// share. Adapters call RunEventLogContract from their own tests.
package estest

import (
	"fmt"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/rcknight/ESSnapshots/core/es"
)

// Records builds n valid records of type "Tick" carrying their index.
func Records(n int) []es.Record {
	out := make([]es.Record, n)
	for i := range out {
		out[i] = es.Record{
			ID:         gonanoid.Must(),
			Version:    es.NoVersion,
			Type:       "Tick",
			OccurredAt: time.Now().UTC(),
			Data:       []byte(fmt.Sprintf(`{"i":%d}`, i)),
		}
	}
	return out
}

// Stream returns a stream name that is unique per call.
func Stream(prefix string) string {
	return prefix + "-" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 12)
}

// RunEventLogContract runs the shared EventLog behaviour against log.
func RunEventLogContract(t *testing.T, log es.EventLog) {
	t.Run("append and read back", func(t *testing.T) {
		stream := Stream("contract")
		v, err := log.Append(t.Context(), stream, es.NoStream, Records(3))
		require.NoError(t, err)
		require.Equal(t, es.Version(2), v)

		page, err := log.ReadForward(t.Context(), stream, 0, 10)
		require.NoError(t, err)
		require.True(t, page.IsEndOfStream)
		require.Equal(t, es.Version(3), page.NextVersion)
		require.Len(t, page.Records, 3)
		for i, r := range page.Records {
			require.Equal(t, es.Version(i), r.Version)
			require.Equal(t, stream, r.Stream)
			require.Equal(t, "Tick", r.Type)
			require.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(r.Data))
		}
	})

	t.Run("missing stream reads empty", func(t *testing.T) {
		page, err := log.ReadForward(t.Context(), Stream("missing"), 0, 10)
		require.NoError(t, err)
		require.Empty(t, page.Records)
		require.True(t, page.IsEndOfStream)
	})

	t.Run("read last of missing stream", func(t *testing.T) {
		_, err := log.ReadLastBackward(t.Context(), Stream("missing"))
		require.ErrorIs(t, err, es.ErrStreamNotFound)
	})

	t.Run("read last", func(t *testing.T) {
		stream := Stream("last")
		_, err := log.Append(t.Context(), stream, es.AnyVersion, Records(4))
		require.NoError(t, err)

		rec, err := log.ReadLastBackward(t.Context(), stream)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), rec.Version)
		require.JSONEq(t, `{"i":3}`, string(rec.Data))
	})

	t.Run("no stream precondition", func(t *testing.T) {
		stream := Stream("nostream")
		_, err := log.Append(t.Context(), stream, es.NoStream, Records(1))
		require.NoError(t, err)

		_, err = log.Append(t.Context(), stream, es.NoStream, Records(1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	})

	t.Run("expected version", func(t *testing.T) {
		stream := Stream("expect")
		v, err := log.Append(t.Context(), stream, es.NoStream, Records(2))
		require.NoError(t, err)

		v, err = log.Append(t.Context(), stream, es.ExpectVersion(v), Records(2))
		require.NoError(t, err)
		require.Equal(t, es.Version(3), v)

		// stale writer
		_, err = log.Append(t.Context(), stream, es.ExpectVersion(1), Records(1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		// ahead of the stream
		_, err = log.Append(t.Context(), stream, es.ExpectVersion(10), Records(1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		_, err = log.Append(t.Context(), Stream("expect-missing"), es.ExpectVersion(0), Records(1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		page, err := log.ReadForward(t.Context(), stream, 0, 10)
		require.NoError(t, err)
		require.Len(t, page.Records, 4)
	})

	t.Run("any version", func(t *testing.T) {
		stream := Stream("any")
		for i := 0; i < 3; i++ {
			v, err := log.Append(t.Context(), stream, es.AnyVersion, Records(1))
			require.NoError(t, err)
			require.Equal(t, es.Version(i), v)
		}
	})

	t.Run("empty append", func(t *testing.T) {
		_, err := log.Append(t.Context(), Stream("empty"), es.AnyVersion, nil)
		require.ErrorIs(t, err, es.ErrNoRecords)
	})

	t.Run("paging", func(t *testing.T) {
		stream := Stream("paging")
		_, err := log.Append(t.Context(), stream, es.NoStream, Records(7))
		require.NoError(t, err)

		var (
			from  es.Version
			got   []es.Version
			pages int
		)
		for {
			page, err := log.ReadForward(t.Context(), stream, from, 3)
			require.NoError(t, err)
			pages++
			for _, r := range page.Records {
				got = append(got, r.Version)
			}
			if page.IsEndOfStream {
				break
			}
			require.Len(t, page.Records, 3)
			from = page.NextVersion
		}
		require.Equal(t, 3, pages)
		require.Equal(t, []es.Version{0, 1, 2, 3, 4, 5, 6}, got)
	})

	t.Run("read from the middle", func(t *testing.T) {
		stream := Stream("middle")
		_, err := log.Append(t.Context(), stream, es.NoStream, Records(5))
		require.NoError(t, err)

		page, err := log.ReadForward(t.Context(), stream, 3, 10)
		require.NoError(t, err)
		require.True(t, page.IsEndOfStream)
		require.Len(t, page.Records, 2)
		require.Equal(t, es.Version(3), page.Records[0].Version)

		page, err = log.ReadForward(t.Context(), stream, 5, 10)
		require.NoError(t, err)
		require.True(t, page.IsEndOfStream)
		require.Empty(t, page.Records)
	})

	t.Run("retention keeps the newest", func(t *testing.T) {
		stream := Stream("retention")
		_, err := log.Append(t.Context(), stream, es.NoStream, Records(1))
		require.NoError(t, err)
		require.NoError(t, log.SetRetention(t.Context(), stream, 1))

		v, err := log.Append(t.Context(), stream, es.ExpectVersion(0), Records(3))
		require.NoError(t, err)
		require.Equal(t, es.Version(3), v)

		rec, err := log.ReadLastBackward(t.Context(), stream)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), rec.Version)

		// version numbering survives truncation
		v, err = log.Append(t.Context(), stream, es.ExpectVersion(3), Records(1))
		require.NoError(t, err)
		require.Equal(t, es.Version(4), v)

		page, err := log.ReadForward(t.Context(), stream, 0, 10)
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		require.Equal(t, es.Version(4), page.Records[0].Version)
	})

	t.Run("records are validated", func(t *testing.T) {
		recs := Records(1)
		recs[0].Type = ""
		_, err := log.Append(t.Context(), Stream("invalid"), es.AnyVersion, recs)
		require.ErrorIs(t, err, es.ErrInvalidRecord)
	})
}
