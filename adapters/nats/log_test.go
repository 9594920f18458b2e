package nats

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/rcknight/ESSnapshots/core/cache"
	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/core/es/estest"
	"github.com/rcknight/ESSnapshots/domain/resource"
)

func newTestLog(t *testing.T, connect Connector, seekCache cache.Cache) *EventLog {
	t.Helper()
	log, err := NewEventLog(EventLogConfig{
		Connect:   connect,
		Log:       slog.Default(),
		SeekCache: seekCache,
	})
	require.NoError(t, err)
	t.Cleanup(log.Close)
	return log
}

func TestEventLog_Contract(t *testing.T) {
	estest.RunEventLogContract(t, newTestLog(t, NewTestContainer(t), nil))
}

func TestEventLog_SeekWithoutCache(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))
	writer := newTestLog(t, connect, nil)

	stream := estest.Stream("seek")
	// interleave another stream so subject sequences are not contiguous
	other := estest.Stream("noise")
	for i := 0; i < 40; i++ {
		_, err := writer.Append(t.Context(), stream, es.AnyVersion, estest.Records(1+i%3))
		require.NoError(t, err)
		_, err = writer.Append(t.Context(), other, es.AnyVersion, estest.Records(1))
		require.NoError(t, err)
	}

	reader := newTestLog(t, connect, cache.NewNop())
	last, err := reader.ReadLastBackward(t.Context(), stream)
	require.NoError(t, err)

	for _, from := range []es.Version{1, 17, 40, last.Version} {
		page, err := reader.ReadForward(t.Context(), stream, from, 5)
		require.NoError(t, err)
		require.NotEmpty(t, page.Records)
		require.Equal(t, from, page.Records[0].Version)
		for i, r := range page.Records {
			require.Equal(t, from+es.Version(i), r.Version)
			require.Equal(t, stream, r.Stream)
		}
	}
}

func TestEventLog_ConcurrentWriters(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))
	a := newTestLog(t, connect, nil)
	b := newTestLog(t, connect, nil)

	stream := estest.Stream("writers")
	v, err := a.Append(t.Context(), stream, es.NoStream, estest.Records(1))
	require.NoError(t, err)

	_, err = b.Append(t.Context(), stream, es.ExpectVersion(v), estest.Records(1))
	require.NoError(t, err)

	_, err = a.Append(t.Context(), stream, es.ExpectVersion(v), estest.Records(1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
}

func TestEventLog_InvalidStreamName(t *testing.T) {
	l := &EventLog{prefix: "es"}
	_, err := l.subject("a.b")
	require.Error(t, err)
	_, err = l.subject("a b")
	require.Error(t, err)
	subj, err := l.subject("resource-1")
	require.NoError(t, err)
	require.Equal(t, "es.resource-1", subj)
}

func TestHeaderVersion(t *testing.T) {
	h := natsgo.Header{}
	_, err := headerVersion(h, hdrLastVersion)
	require.Error(t, err)

	h.Set(hdrLastVersion, "x")
	_, err = headerVersion(h, hdrLastVersion)
	require.Error(t, err)

	h.Set(hdrLastVersion, "42")
	v, err := headerVersion(h, hdrLastVersion)
	require.NoError(t, err)
	require.Equal(t, es.Version(42), v)
}

func TestEventLog_ResourceSnapshots(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))
	log := newTestLog(t, connect, nil)
	snapshotter, kvStore, err := NewSnapshotter(KvConfig{Connect: connect, Bucket: "snapshots"})
	require.NoError(t, err)
	t.Cleanup(kvStore.Close)

	today := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return today }
	h := resource.NewCommandHandler(
		log, clock,
		es.WithSnapshotter(snapshotter),
		es.WithSnapshotThreshold(10),
	)

	id := uuid.NewString()
	_, err = h.HandleCreate(t.Context(), resource.CreateResource{ResourceID: id, Name: "Room"})
	require.NoError(t, err)

	var last *es.Result
	for i := 0; i < 24; i++ {
		last, err = h.HandleBook(t.Context(), resource.BookResource{
			ResourceID: id,
			ActivityID: uuid.NewString(),
			Date:       today.AddDate(0, 0, 1+i/24),
			TimeSlot:   i % 24,
		})
		require.NoError(t, err)
	}
	require.Equal(t, es.Version(24), last.Version)

	s, err := snapshotter.LoadSnapshot(t.Context(), resource.AggType, id)
	require.NoError(t, err)
	require.Equal(t, es.Version(19), s.Version)

	r, err := h.Load(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, es.Version(24), r.GetVersion())
	require.Len(t, r.BookedSlots(today.AddDate(0, 0, 1)), 24)
}
