package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseAggregate_ZeroValue(t *testing.T) {
	c := newCounter()
	require.Equal(t, NoVersion, c.GetVersion())
	require.Empty(t, c.Uncommitted())
}

func TestApplyEvent_AdvancesVersionByOne(t *testing.T) {
	c := newCounter()
	for i := 0; i < 5; i++ {
		require.NoError(t, ApplyEvent(c, incremented{By: 1}))
		require.Equal(t, Version(i), c.GetVersion())
	}
	require.Equal(t, 5, c.N)
	require.Empty(t, c.Uncommitted(), "apply must not raise")
}

func TestApplyEvent_UnknownEvent(t *testing.T) {
	c := newCounter()
	err := ApplyEvent(c, unregistered{})
	require.ErrorIs(t, err, ErrUnknownEventType)
	require.Equal(t, NoVersion, c.GetVersion())
}

func TestRaiseEvent(t *testing.T) {
	c := newCounter()
	require.NoError(t, c.Inc(2))
	require.NoError(t, c.Rename("a"))

	require.Equal(t, Version(1), c.GetVersion())
	require.Equal(t, 2, c.N)
	require.Equal(t, []Event{incremented{By: 2}, renamed{Name: "a"}}, c.Uncommitted())

	t.Run("not drained on read", func(t *testing.T) {
		require.Len(t, c.Uncommitted(), 2)
		require.Len(t, c.Uncommitted(), 2)
	})

	t.Run("copy", func(t *testing.T) {
		u := c.Uncommitted()
		u[0] = nil
		require.NotNil(t, c.Uncommitted()[0])
	})

	t.Run("clear", func(t *testing.T) {
		c.ClearUncommitted()
		require.Empty(t, c.Uncommitted())
		require.Equal(t, Version(1), c.GetVersion())
	})
}

func TestRaiseEvent_ValidationFailureRaisesNothing(t *testing.T) {
	c := newCounter()
	err := RaiseEvent(c, incremented{By: 1}, renamed{})
	require.Error(t, err)
	require.Equal(t, NoVersion, c.GetVersion())
	require.Empty(t, c.Uncommitted())
	require.Zero(t, c.N)
}

func TestCommand_RuleViolation(t *testing.T) {
	c := newCounter()
	err := c.Inc(0)
	require.ErrorIs(t, err, ErrDomainRuleViolation)
	require.Equal(t, NoVersion, c.GetVersion())
	require.Empty(t, c.Uncommitted())
}
