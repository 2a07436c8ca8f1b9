package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestThrottleWindow(t *testing.T) {
	clock := newClock()
	r := New(WithClock(clock.Now))
	k := Key{Command: "ban", Scope: ScopeUser, ID: "u1"}

	for i := 0; i < 3; i++ {
		ok, _ := r.CheckAndIncrement(k, 3, 5*time.Second)
		assert.True(t, ok, "call %d", i+1)
		clock.Advance(time.Second)
	}
	clock.Advance(500 * time.Millisecond)

	ok, retry := r.CheckAndIncrement(k, 3, 5*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 1500*time.Millisecond, retry)

	clock.Advance(retry)
	ok, _ = r.CheckAndIncrement(k, 3, 5*time.Second)
	assert.True(t, ok, "a fresh window starts once the old one has fully elapsed")
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	r := New(WithClock(newClock().Now))
	a := Key{Command: "ban", Scope: ScopeUser, ID: "u1"}
	b := Key{Command: "ban", Scope: ScopeUser, ID: "u2"}

	ok, _ := r.CheckAndIncrement(a, 1, time.Minute)
	assert.True(t, ok)
	ok, _ = r.CheckAndIncrement(a, 1, time.Minute)
	assert.False(t, ok)
	ok, _ = r.CheckAndIncrement(b, 1, time.Minute)
	assert.True(t, ok)
}

func TestThrottleConcurrentNeverOverAdmits(t *testing.T) {
	r := New()
	k := Key{Command: Global, Scope: ScopeGuild, ID: "g1"}
	var allowed int32
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.CheckAndIncrement(k, 10, time.Hour); ok {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed)
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	clock := newClock()
	r := New(WithClock(clock.Now))

	r.CheckAndIncrement(Key{Command: "a", Scope: ScopeUser, ID: "1"}, 1, time.Second)
	clock.Advance(30 * time.Second)
	r.CheckAndIncrement(Key{Command: "b", Scope: ScopeUser, ID: "1"}, 1, time.Minute)
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 1, r.Sweep(10*time.Second))
	assert.Equal(t, 1, r.Len())

	// Live windows are kept even when idle.
	clock.Advance(20 * time.Second)
	assert.Equal(t, 0, r.Sweep(10*time.Second))
}

func TestZeroLimitAlwaysAllows(t *testing.T) {
	r := New()
	ok, retry := r.CheckAndIncrement(Key{Command: "x", Scope: ScopeUser, ID: "1"}, 0, time.Second)
	assert.True(t, ok)
	assert.Zero(t, retry)
	assert.Equal(t, 0, r.Len())
}
