//go:build !integration

package redis

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memClient is an in-memory RedisClient without expiry handling.
type memClient struct {
	mu      sync.Mutex
	vals    map[string]string
	counts  map[string]int64
	expires map[string]time.Duration
}

var _ RedisClient = (*memClient)(nil)

func newMemClient() *memClient {
	return &memClient{vals: map[string]string{}, counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *memClient) Ping(ctx context.Context) error { return nil }
func (m *memClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = "x"
	return nil
}
func (m *memClient) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = "x"
	m.expires[key] = exp
	return true, nil
}
func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}
func (m *memClient) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}
func (m *memClient) Expire(ctx context.Context, key string, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = exp
	return nil
}
func (m *memClient) Del(ctx context.Context, keys ...string) error { return nil }
func (m *memClient) Close() error                                  { return nil }

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	mc := newMemClient()
	rl := NewRateLimiter(mc)
	key := "rate_limit:acc-1:initiate"

	for i := 1; i <= 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("attempt %d: expected allowed, got %v %v", i, ok, err)
		}
	}
	ok, _ := rl.Allow(ctx, key, 3, time.Minute)
	if ok {
		t.Error("expected the fourth attempt to be limited")
	}
	if mc.expires[key] != time.Minute {
		t.Errorf("expected window to be set once, got %s", mc.expires[key])
	}
}

func TestDeduper_FirstSeen(t *testing.T) {
	ctx := context.Background()
	d := NewDeduper(newMemClient(), "reminder:")

	first, err := d.FirstSeen(ctx, "sub-1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first sighting, got %v %v", first, err)
	}
	again, _ := d.FirstSeen(ctx, "sub-1", time.Hour)
	if again {
		t.Error("expected repeated key to be reported as seen")
	}
}
