package es

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcknight/ESSnapshots/ports/kv"
)

func snapshotOf(t *testing.T, id string, n int) *Snapshot {
	t.Helper()
	c := newCounter()
	c.SetID(id)
	for i := 0; i < n; i++ {
		require.NoError(t, ApplyEvent(c, incremented{By: 1}))
	}
	s, err := CreateSnapshot(c, DefaultIDGenerator())
	require.NoError(t, err)
	return s
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := snapshotOf(t, "c1", 3)
	require.Equal(t, "counter", s.AggregateType)
	require.Equal(t, Version(2), s.Version)

	c := newCounter()
	require.NoError(t, RestoreSnapshot(c, s))
	require.Equal(t, "c1", c.GetID())
	require.Equal(t, Version(2), c.GetVersion())
	require.Equal(t, 3, c.N)
	require.Empty(t, c.Uncommitted())
}

func TestSnapshot_RestoreMismatch(t *testing.T) {
	s := snapshotOf(t, "c1", 1)
	s.AggregateType = "other"
	require.Error(t, RestoreSnapshot(newCounter(), s))

	s = snapshotOf(t, "c1", 1)
	s.SchemaVersion = 99
	require.Error(t, RestoreSnapshot(newCounter(), s))
}

func TestSnapshotters(t *testing.T) {
	for name, s := range map[string]Snapshotter{
		"memory": NewInMemorySnapshotter(),
		"kv":     NewKeyValueSnapshotter(kv.NewMemStore()),
		"log":    NewLogSnapshotter(nil, NewInMemoryLog(), nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadSnapshot(t.Context(), "counter", "c1")
			require.ErrorIs(t, err, ErrSnapshotNotFound)

			require.NoError(t, s.SaveSnapshot(t.Context(), snapshotOf(t, "c1", 2)))
			require.NoError(t, s.SaveSnapshot(t.Context(), snapshotOf(t, "c1", 5)))

			got, err := s.LoadSnapshot(t.Context(), "counter", "c1")
			require.NoError(t, err)
			require.Equal(t, Version(4), got.Version)
			require.JSONEq(t, `{"n":5,"name":""}`, string(got.Data))
		})
	}
}
