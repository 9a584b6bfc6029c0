package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"supportchat/internal/config"
)

func TestTurnLockExcludesConcurrentHolders(t *testing.T) {
	client, cleanup := newRedisTestClient(t)
	defer cleanup()

	lock := NewTurnLock(client, time.Minute)
	convID := uuid.NewString()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lock.Lock(ctx, convID)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive holders, saw %d at once", maxSeen)
	}
	if _, err := client.Raw().Get(ctx, turnLockPrefix+convID).Result(); err != ErrCacheMiss {
		t.Fatalf("lock key should be released, got err=%v", err)
	}
}

func TestTurnLockHonoursContext(t *testing.T) {
	client, cleanup := newRedisTestClient(t)
	defer cleanup()

	lock := NewTurnLock(client, time.Minute)
	convID := uuid.NewString()
	unlock, err := lock.Lock(context.Background(), convID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := lock.Lock(ctx, convID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTurnLockReleaseKeepsForeignToken(t *testing.T) {
	client, cleanup := newRedisTestClient(t)
	defer cleanup()

	lock := NewTurnLock(client, time.Minute)
	convID := uuid.NewString()
	key := turnLockPrefix + convID
	unlock, err := lock.Lock(context.Background(), convID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// simulate lease expiry and takeover by another process
	if err := client.Raw().Del(context.Background(), key).Err(); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, err := client.SetNX(context.Background(), key, "other", time.Minute); err != nil || !ok {
		t.Fatalf("takeover failed: ok=%v err=%v", ok, err)
	}
	unlock()
	got, err := client.Raw().Get(context.Background(), key).Result()
	if err != nil || got != "other" {
		t.Fatalf("foreign lock removed: %q %v", got, err)
	}
}

func newRedisTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed lock tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	return client, func() { client.Close() }
}
