package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRU_Basic(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, val)

	l.Put("c", 3) // evicts "b", "a" was used more recently

	_, ok = l.Get("b")
	require.False(t, ok)

	val, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, val)

	_, ok = l.Get("a")
	require.True(t, ok)
}

func TestLRU_Update(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("a", 2)

	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	defer l.Close()

	l.Put("a", 1)
	l.Put("b", 2)
	l.Delete("a")
	l.Delete("nonexistent")

	_, ok := l.Get("a")
	require.False(t, ok)
	val, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestLRU_TTL(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	l := NewLRU(LRUOpts{Size: 4, Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}})
	defer l.Close()

	l.Put("a", 1, WithTTL(time.Minute))
	l.Put("b", 2)

	_, ok := l.Get("a")
	require.True(t, ok)

	advance(30 * time.Second)
	l.Put("a", 3, WithTTL(time.Minute)) // refresh

	advance(45 * time.Second)
	val, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 3, val)

	advance(15 * time.Second)
	_, ok = l.Get("a")
	require.False(t, ok)

	_, ok = l.Get("b")
	require.True(t, ok, "entries without TTL never expire")
}

func TestLRU_TTLCountsFromPut(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	l := NewLRU(LRUOpts{Size: 4, Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}})
	defer l.Close()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		l.Put(key, i, WithTTL(time.Second))
		mu.Lock()
		now = now.Add(time.Second)
		mu.Unlock()
		_, ok := l.Get(key)
		require.False(t, ok, "entry %s outlived its ttl", key)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 100})
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Put(fmt.Sprint(w), j)
				l.Get(fmt.Sprint(w))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 10; w++ {
		val, ok := l.Get(fmt.Sprint(w))
		require.True(t, ok)
		require.Equal(t, 999, val)
	}
}

func TestLRU_Close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()
	l.Close()

	_, ok := l.Get("a")
	require.False(t, ok)
	l.Put("b", 2)
	l.Delete("a")
}

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{})
	defer l.Close()
	c := NewTyped[uint64](l)

	c.Put("seq", 42)
	v, ok := c.Get("seq")
	require.True(t, ok)
	require.Equal(t, uint64(42), v)

	l.Put("other", "not a number")
	_, ok = c.Get("other")
	require.False(t, ok)
}
