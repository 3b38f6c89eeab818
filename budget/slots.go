package budget

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/baum777/reasongate"
)

const defaultSlotTTL = 60 * time.Second

// Slots caps concurrent in-flight calls per user. Each user's count is a
// counter in the Store with a safety-net expiry, so a crashed holder frees
// its slot once the expiry passes.
type Slots struct {
	store     reasongate.Store
	ttl       time.Duration
	keyPrefix string
}

// NewSlots creates a slot manager. A zero ttl uses 60 seconds.
func NewSlots(store reasongate.Store, ttl time.Duration) *Slots {
	if ttl <= 0 {
		ttl = defaultSlotTTL
	}
	return &Slots{store: store, ttl: ttl, keyPrefix: "slots:"}
}

func (s *Slots) key(userID string) string {
	return s.keyPrefix + userID
}

// Acquire takes a slot if fewer than limit are held. The increment and the
// comparison use the post-increment value, and a failed attempt reverts
// its own increment. A granted slot re-arms the expiry so the counter
// outlives every holder that is still in flight.
func (s *Slots) Acquire(ctx context.Context, userID string, limit int) (bool, error) {
	c, err := s.store.Incr(ctx, s.key(userID), 1, s.ttl)
	if err != nil {
		return false, fmt.Errorf("budget: acquire slot: %w", err)
	}
	if c.Value <= int64(limit) {
		if err := s.store.Expire(ctx, s.key(userID), s.ttl); err != nil {
			_ = s.Release(ctx, userID)
			return false, fmt.Errorf("budget: refresh slot expiry: %w", err)
		}
		return true, nil
	}
	if _, err := s.store.Incr(ctx, s.key(userID), -1, s.ttl); err != nil {
		return false, fmt.Errorf("budget: revert slot: %w", err)
	}
	return false, nil
}

// Release frees one slot. The count never goes below zero.
func (s *Slots) Release(ctx context.Context, userID string) error {
	c, err := s.store.Incr(ctx, s.key(userID), -1, s.ttl)
	if err != nil {
		return fmt.Errorf("budget: release slot: %w", err)
	}
	if c.Value < 0 {
		// The key expired while held; undo the stray decrement.
		if _, err := s.store.Incr(ctx, s.key(userID), -c.Value, s.ttl); err != nil {
			return fmt.Errorf("budget: clamp slot: %w", err)
		}
	}
	return nil
}

// InFlight returns the number of slots held by a user.
func (s *Slots) InFlight(ctx context.Context, userID string) (int64, error) {
	return readInt(ctx, s.store, s.key(userID))
}

// Lease returns a reasongate.Lease that releases one slot for userID.
func (s *Slots) Lease(userID string) reasongate.Lease {
	return &lease{slots: s, userID: userID}
}

type lease struct {
	slots  *Slots
	userID string
	once   sync.Once
	err    error
}

// Release frees the slot once; later calls return the first result.
func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.slots.Release(ctx, l.userID)
	})
	return l.err
}

func readInt(ctx context.Context, store reasongate.Store, key string) (int64, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("budget: read %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget: read %s: %w", key, err)
	}
	return v, nil
}
