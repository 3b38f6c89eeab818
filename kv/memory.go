// Package kv provides Store implementations. Memory lives here; shared
// backends live in the redis and postgres subpackages.
package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/baum777/reasongate"
)

// sweepEvery is how many writes pass between expired-entry sweeps.
const sweepEvery = 1024

// Memory is an in-memory Store for tests and single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	writes  int
	now     func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var _ reasongate.Store = (*Memory)(nil)

// Option configures Memory.
type Option func(*Memory)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = entry{value: value, expiresAt: expiry(now, ttl)}
	m.afterWrite(now)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (reasongate.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = entry{value: "0", expiresAt: expiry(now, ttl)}
	}

	cur, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return reasongate.Counter{}, fmt.Errorf("kv: incr %q: value is not an integer", key)
	}
	cur += delta
	e.value = strconv.FormatInt(cur, 10)
	m.entries[key] = e
	m.afterWrite(now)

	return reasongate.Counter{Value: cur, ExpiresAt: e.expiresAt}, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		return nil
	}
	e.expiresAt = expiry(now, ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// afterWrite drops expired entries every sweepEvery writes. Caller holds mu.
func (m *Memory) afterWrite(now time.Time) {
	m.writes++
	if m.writes%sweepEvery != 0 {
		return
	}
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
