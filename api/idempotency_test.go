package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestRedisDeduperAddOnce(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatalf("expected duplicate key to be reported")
	}
	if ttl := m.TTL("drag:user:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	m.FastForward(2 * time.Minute)
	if added, _ := deduper.Add(ctx, "user", "k1"); !added {
		t.Fatalf("expected key to be accepted after expiry")
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if added, err := deduper.Add(ctx, "alice", "k"); err != nil || !added {
		t.Fatalf("alice add: %v %v", added, err)
	}
	if added, err := deduper.Add(ctx, "bob", "k"); err != nil || !added {
		t.Fatalf("keys must be scoped per viewer: %v %v", added, err)
	}
}

func TestRedisDeduperRemove(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "user", "k"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "user", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.Exists("drag:user:k") {
		t.Fatalf("expected key to be removed")
	}
	if added, _ := deduper.Add(ctx, "user", "k"); !added {
		t.Fatalf("expected removed key to be accepted again")
	}
}
