package idempotency

import (
	"context"
	"fmt"
	"time"

	"agentdesk/internal/redis"
	"agentdesk/internal/storage"
)

// Store remembers which webhook deliveries were already accepted.
type Store interface {
	// Claim records key and reports whether this is its first delivery.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivery is processed again.
	Release(ctx context.Context, key string) error
}

const keyPrefix = "agentdesk:event:"

// RedisStore claims keys with SET NX and lets them expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, 1, s.ttl)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key)
}

// SQLStore claims keys through the processed_events primary key.
type SQLStore struct {
	db *storage.DB
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Claim(ctx context.Context, key string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_key, created_at) VALUES (?, ?)`, key, time.Now().UTC())
	if err == nil {
		return true, nil
	}
	var n int
	if qerr := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events WHERE event_key = ?`, key).Scan(&n); qerr != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	return false, fmt.Errorf("claim event: %w", err)
}

func (s *SQLStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_key = ?`, key); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	return nil
}

// Purge deletes keys recorded before cutoff and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}
