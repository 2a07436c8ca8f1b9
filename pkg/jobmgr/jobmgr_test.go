package jobmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAsyncDeduplicates(t *testing.T) {
	m := NewManager(context.Background(), 0, nil)
	release := make(chan struct{})

	require.NoError(t, m.StartAsync("a", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.ErrorIs(t, m.StartAsync("a", func(context.Context) error { return nil }), ErrAlreadyRunning)
	assert.True(t, m.Running("a"))
	assert.Equal(t, "Running jobs: a", m.Status())

	close(release)
	m.Wait()
	assert.False(t, m.Running("a"))
	assert.Equal(t, "No jobs are running.", m.Status())
}

func TestConcurrencyCap(t *testing.T) {
	m := NewManager(context.Background(), 2, nil)
	var cur, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		name := string(rune('a' + i))
		require.NoError(t, m.StartAsync(name, func(ctx context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&cur, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&cur, -1)
			return nil
		}))
	}
	wg.Wait()
	m.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestStopAndClose(t *testing.T) {
	var events []string
	var mu sync.Mutex
	m := NewManager(context.Background(), 1, func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})

	require.NoError(t, m.StartAsync("long", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.ErrorIs(t, m.Stop("missing"), ErrNotRunning)

	m.Close()
	assert.ErrorIs(t, m.StartAsync("late", func(context.Context) error { return nil }), ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1], "error:long")
}
