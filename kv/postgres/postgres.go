// Package postgres provides a PostgreSQL-backed Store for reasongate.
//
// Entries live in one table with an optional expires_at column. Counters
// are updated with a single upsert, so they are atomic across instances and
// survive restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baum777/reasongate"
)

// Store is a PostgreSQL-backed Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var _ reasongate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "reasongate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "reasongate_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "kv" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);
	`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("reasongate/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`, s.table()),
		key, s.now(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reasongate/postgres: get: %w", err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.table()),
		key, value, s.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("reasongate/postgres: set: %w", err)
	}
	return nil
}

// Incr adds delta in one statement. A row whose expires_at has passed is
// treated as absent and restarted from delta with the new ttl.
func (s *Store) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (reasongate.Counter, error) {
	now := s.now()
	var (
		raw       string
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s AS t (key, value, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = CASE WHEN t.expires_at IS NOT NULL AND t.expires_at <= $4
					THEN EXCLUDED.value
					ELSE ((t.value)::BIGINT + $5::BIGINT)::TEXT END,
				expires_at = CASE WHEN t.expires_at IS NOT NULL AND t.expires_at <= $4
					THEN EXCLUDED.expires_at
					ELSE t.expires_at END
			RETURNING t.value, t.expires_at`, s.table()),
		key, strconv.FormatInt(delta, 10), s.expiry(ttl), now, delta,
	).Scan(&raw, &expiresAt)
	if err != nil {
		return reasongate.Counter{}, fmt.Errorf("reasongate/postgres: incr: %w", err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return reasongate.Counter{}, fmt.Errorf("reasongate/postgres: incr %q: value is not an integer", key)
	}
	c := reasongate.Counter{Value: v}
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}
	return c, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET expires_at = $2
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > $3)`, s.table()),
		key, s.expiry(ttl), s.now(),
	)
	if err != nil {
		return fmt.Errorf("reasongate/postgres: expire: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table()), key)
	if err != nil {
		return fmt.Errorf("reasongate/postgres: delete: %w", err)
	}
	return nil
}

// PurgeExpired removes rows whose expiry has passed.
// Call periodically to prevent unbounded table growth.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.table()),
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("reasongate/postgres: purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl)
	return &t
}
