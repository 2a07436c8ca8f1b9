// Package throttle keeps fixed-window invocation counters per (command, scope).
// Buckets live only in memory.
package throttle

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Global is the Command value shared by every command.
const Global = "global"

type ScopeKind string

const (
	ScopeUser    ScopeKind = "user"
	ScopeChannel ScopeKind = "channel"
	ScopeGuild   ScopeKind = "guild"
)

func (s ScopeKind) Valid() bool {
	return s == ScopeUser || s == ScopeChannel || s == ScopeGuild
}

// Key identifies one bucket.
type Key struct {
	Command string
	Scope   ScopeKind
	ID      string
}

func (k Key) String() string {
	return k.Command + "|" + string(k.Scope) + "|" + k.ID
}

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	limit       int
	window      time.Duration
	lastSeen    time.Time
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	buckets map[Key]*bucket
}

type Registry struct {
	shards [shardCount]*shard
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l.Named("throttle") }
}

func New(opts ...Option) *Registry {
	r := &Registry{now: time.Now, log: zap.NewNop()}
	for i := range r.shards {
		r.shards[i] = &shard{buckets: make(map[Key]*bucket)}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.String()))
	return r.shards[h.Sum32()%shardCount]
}

func (r *Registry) bucketFor(k Key) *bucket {
	s := r.shardFor(k)
	s.mu.RLock()
	b, ok := s.buckets[k]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[k]; !ok {
		b = &bucket{}
		s.buckets[k] = b
	}
	return b
}

// CheckAndIncrement consumes one unit of the bucket's budget.
// If the current window is exhausted it returns false and the time until the window resets.
// A bucket keeps the limit/window it was created with until its window expires.
func (r *Registry) CheckAndIncrement(k Key, limit int, window time.Duration) (bool, time.Duration) {
	if limit < 1 || window <= 0 {
		return true, 0
	}
	for {
		b := r.bucketFor(k)
		now := r.now()

		b.mu.Lock()
		if b.limit == -1 {
			// evicted by Sweep between lookup and lock
			b.mu.Unlock()
			continue
		}
		b.lastSeen = now
		if b.windowStart.IsZero() || !now.Before(b.windowStart.Add(b.window)) {
			b.windowStart = now
			b.count = 0
			b.limit = limit
			b.window = window
		}
		if b.count < b.limit {
			b.count++
			b.mu.Unlock()
			return true, 0
		}
		retry := b.windowStart.Add(b.window).Sub(now)
		b.mu.Unlock()
		return false, retry
	}
}

// Sweep evicts buckets unused for longer than idle and returns how many were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	now := r.now()
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for k, b := range s.buckets {
			b.mu.Lock()
			expired := b.windowStart.IsZero() || !now.Before(b.windowStart.Add(b.window))
			if expired && now.Sub(b.lastSeen) > idle {
				b.limit = -1
				delete(s.buckets, k)
				removed++
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.buckets)
		s.mu.RUnlock()
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.log.Debug("swept idle throttle buckets", zap.Int("removed", n))
			}
		}
	}
}
