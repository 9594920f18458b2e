package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SerializesPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		maxSeen atomic.Int32
		count   int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(t.Context(), "a", func() error {
				n := running.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				count++ // guarded by the lane
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxSeen.Load())
	require.Equal(t, 50, count)
	require.Equal(t, 0, s.Len())
}

func TestScheduler_KeysRunConcurrently(t *testing.T) {
	s := New[int]()
	defer s.Close()

	var (
		wg      sync.WaitGroup
		arrived sync.WaitGroup
	)
	arrived.Add(2)
	for k := 0; k < 2; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Do(t.Context(), k, func() error {
				arrived.Done()
				// blocks forever unless the other key runs at the same time
				arrived.Wait()
				return nil
			}))
		}()
	}
	wg.Wait()
}

func TestScheduler_ReturnsError(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, s.Do(t.Context(), "a", func() error { return boom }), boom)
}

func TestScheduler_ContextWhileWaiting(t *testing.T) {
	s := New[string]()
	defer s.Close()

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "a", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := s.Do(ctx, "a", func() error { ran = true; return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ran)

	close(hold)
}

func TestScheduler_Close(t *testing.T) {
	s := New[string]()
	require.NoError(t, s.Do(t.Context(), "a", func() error { return nil }))
	s.Close()
	require.ErrorIs(t, s.Do(t.Context(), "a", func() error { return nil }), ErrSchedulerClosed)
}
