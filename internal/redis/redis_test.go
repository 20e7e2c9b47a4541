package redis

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"prepareup/internal/config"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	client, err := NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestClientRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	if err := client.Set(ctx, "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := client.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "value" {
		t.Fatalf("expected value, got %q", val)
	}
	ttl, err := client.TTL(ctx, "key")
	if err != nil || ttl <= 0 {
		t.Fatalf("expected positive ttl, got %v (%v)", ttl, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := client.Get(ctx, "key"); !IsMiss(err) {
		t.Fatalf("expected cache miss after ttl, got %v", err)
	}
}

func TestClientDel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := client.Del(ctx, "key"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := client.Del(ctx, "key"); err != nil {
		t.Fatalf("second Del should be a no-op: %v", err)
	}
	if _, err := client.Get(ctx, "key"); !IsMiss(err) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Set(context.Background(), "k", nil, 0); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}
