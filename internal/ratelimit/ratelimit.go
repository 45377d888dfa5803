// Package ratelimit provides fixed-window request limiting backed by Redis,
// with an in-memory fallback for single-instance deployments.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another attempt under key is allowed. When it is
// not, retryAfter tells the caller how long the current window has left.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "memberhub:rl:"}
}

// Allow counts a hit with INCR and starts the window with EXPIRE NX in the
// same MULTI/EXEC, so a key can never be left without an expiry.
func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %q: %w", key, err)
	}
	if int(incr.Val()) <= r.limit {
		return true, 0, nil
	}
	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = r.window
	}
	return false, remaining, nil
}

type window struct {
	count int
	reset time.Time
}

// Memory is a process-local Limiter. Close stops its sweeper goroutine.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*window
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
}

func NewMemory(limit int, win time.Duration) *Memory {
	return newMemory(limit, win, time.Now)
}

func newMemory(limit int, win time.Duration, now func() time.Time) *Memory {
	m := &Memory{
		limit:   limit,
		window:  win,
		buckets: make(map[string]*window),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.reset) {
		b = &window{reset: now.Add(m.window)}
		m.buckets[key] = b
	}
	b.count++
	if b.count > m.limit {
		return false, b.reset.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) sweep() {
	defer close(m.done)
	t := time.NewTicker(m.window)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			now := m.now()
			for k, b := range m.buckets {
				if !now.Before(b.reset) {
					delete(m.buckets, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) Close() error {
	close(m.stop)
	<-m.done
	return nil
}
