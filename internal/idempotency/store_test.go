package idempotency

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/redis"
	"agentdesk/internal/storage/storagetest"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	first, err := s.Claim(ctx, "BAE5-1")
	if err != nil || !first {
		t.Fatalf("first claim: %v %v", first, err)
	}
	again, err := s.Claim(ctx, "BAE5-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again {
		t.Fatalf("duplicate delivery must not be claimable")
	}
	if err := s.Release(ctx, "BAE5-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	reclaimed, err := s.Claim(ctx, "BAE5-1")
	if err != nil || !reclaimed {
		t.Fatalf("claim after release: %v %v", reclaimed, err)
	}
}

func TestSQLStore(t *testing.T) {
	exerciseStore(t, NewSQLStore(storagetest.Open(t)))
}

func TestSQLStorePurge(t *testing.T) {
	db := storagetest.Open(t)
	s := NewSQLStore(db)
	ctx := context.Background()
	storagetest.Exec(t, db, `INSERT INTO processed_events (event_key, created_at) VALUES ('old', ?)`, time.Now().UTC().Add(-48*time.Hour))
	if _, err := s.Claim(ctx, "fresh"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged key, got %d", n)
	}
	if storagetest.Count(t, db, `SELECT COUNT(*) FROM processed_events`) != 1 {
		t.Fatalf("fresh key must survive purge")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()
	_ = client.Del(context.Background(), keyPrefix+"BAE5-1")
	exerciseStore(t, NewRedisStore(client, time.Minute))
}
