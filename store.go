package reasongate

import (
	"context"
	"time"
)

// Store is the shared key-value collaborator behind the rate limiter, the
// usage counters, the concurrency slots, and the result cache. All
// operations must be safe for concurrent use and, for shared backends,
// atomic across processes.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically adds delta to the integer stored under key. A missing
	// or expired key starts from zero and takes the given ttl; an existing
	// key keeps its expiry.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (Counter, error)

	// Expire resets the expiry of a live key to ttl from now. A missing or
	// expired key is left alone. A zero ttl removes the expiry.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Counter is the state of an integer key after Incr.
type Counter struct {
	Value     int64
	ExpiresAt time.Time // zero when the key never expires
}

// DayKey formats t as the UTC calendar day used in usage and overage keys.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
