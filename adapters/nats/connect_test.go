package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNats_Connect(t *testing.T) {
	connect := NewTestContainer(t)
	nc1, disconnect1, err := connect()
	require.NoError(t, err)
	require.Equal(t, "CONNECTED", nc1.Status().String())

	nc2, disconnect2, err := connect()
	require.NoError(t, err)
	require.NotSame(t, nc1, nc2)

	disconnect1()
	disconnect2()
	require.Equal(t, "CLOSED", nc1.Status().String())
}

func TestNats_ReuseConnection(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	nc1, release1, err := connect()
	require.NoError(t, err)
	nc2, release2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2)

	release1()
	release1() // double release is ignored
	require.Equal(t, "CONNECTED", nc2.Status().String())

	release2()
	require.Equal(t, "CLOSED", nc1.Status().String())

	nc3, release3, err := connect()
	require.NoError(t, err)
	defer release3()
	require.NotSame(t, nc1, nc3)
	require.Equal(t, "CONNECTED", nc3.Status().String())
}
