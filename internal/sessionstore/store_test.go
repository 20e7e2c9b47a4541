package sessionstore

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"prepareup/internal/config"
	"prepareup/internal/redis"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStoreReadWithinTTL(t *testing.T) {
	clock := newClock()
	store := New(NewMemoryBackend(), WithClock(clock.Now))
	ctx := context.Background()

	id, err := store.Create(ctx, "--- a.txt ---\nhello")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(DefaultTTL - time.Second)
	got, err := store.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "--- a.txt ---\nhello" {
		t.Fatalf("corpus changed: %q", got)
	}
}

func TestStoreExpiredReadEvicts(t *testing.T) {
	clock := newClock()
	backend := NewMemoryBackend()
	store := New(backend, WithClock(clock.Now))
	ctx := context.Background()

	id, err := store.Create(ctx, "corpus")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(DefaultTTL + time.Second)

	_, err = store.Read(ctx, id)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ErrExpired should satisfy ErrNotFound")
	}
	if backend.Len() != 0 {
		t.Fatalf("expired entry not evicted")
	}
	if _, err := store.Read(ctx, id); !errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		t.Fatalf("expected plain ErrNotFound after eviction, got %v", err)
	}
}

func TestStoreUnknownID(t *testing.T) {
	store := New(NewMemoryBackend())
	for _, id := range []string{"", "does-not-exist"} {
		if _, err := store.Read(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Read(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestStoreEmptyCorpus(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()
	id, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Read(ctx, id)
	if err != nil || got != "" {
		t.Fatalf("expected empty corpus, got %q (%v)", got, err)
	}
}

func TestStoreCorruptPayload(t *testing.T) {
	backend := NewMemoryBackend()
	_ = backend.Put(context.Background(), "bad", []byte("not-a-timestamp"), 0)
	store := New(backend)
	if _, err := store.Read(context.Background(), "bad"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestStoreUniqueIDs(t *testing.T) {
	store := New(NewMemoryBackend())
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := store.Create(context.Background(), "x")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

type failingBackend struct {
	*MemoryBackend
	putErr    error
	deleteErr error
}

func (f *failingBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryBackend.Put(ctx, key, value, ttl)
}

func (f *failingBackend) Delete(context.Context, string) error { return f.deleteErr }

func TestStoreWriteFailureSurfaces(t *testing.T) {
	boom := errors.New("disk full")
	store := New(&failingBackend{MemoryBackend: NewMemoryBackend(), putErr: boom})
	if _, err := store.Create(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestStoreEvictionFailureSwallowed(t *testing.T) {
	clock := newClock()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), deleteErr: errors.New("read-only")}
	store := New(backend, WithClock(clock.Now))
	ctx := context.Background()
	id, _ := store.Create(ctx, "x")
	clock.Advance(time.Hour)
	if _, err := store.Read(ctx, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired despite delete failure, got %v", err)
	}
}

func TestStoreConcurrentExpiredReads(t *testing.T) {
	clock := newClock()
	store := New(NewMemoryBackend(), WithClock(clock.Now))
	ctx := context.Background()
	id, _ := store.Create(ctx, "x")
	clock.Advance(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Read(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected not found, got %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestDiskBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewDiskBackend(dir)
	if err != nil {
		t.Fatalf("NewDiskBackend: %v", err)
	}
	clock := newClock()
	store := New(backend, WithClock(clock.Now))
	ctx := context.Background()

	id, err := store.Create(ctx, "line one\nline two")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Read(ctx, id)
	if err != nil || got != "line one\nline two" {
		t.Fatalf("unexpected read %q (%v)", got, err)
	}

	// A fresh Store over the same directory still sees the session.
	again := New(backend, WithClock(clock.Now))
	if _, err := again.Read(ctx, id); err != nil {
		t.Fatalf("second store Read: %v", err)
	}

	clock.Advance(DefaultTTL + time.Second)
	if _, err := store.Read(ctx, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := backend.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected file removed, got %v", err)
	}
	if err := backend.Delete(ctx, id); err != nil {
		t.Fatalf("double delete should be safe: %v", err)
	}
}

func TestDiskBackendRejectsTraversal(t *testing.T) {
	backend, err := NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskBackend: %v", err)
	}
	if _, err := backend.Get(context.Background(), "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal key, got %v", err)
	}
	if err := backend.Put(context.Background(), "a/b", []byte("x"), 0); err == nil {
		t.Fatalf("expected error for key with separator")
	}
}

func TestRedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	host, portStr, _ := net.SplitHostPort(mr.Addr())
	port, _ := strconv.Atoi(portStr)
	client, err := redis.NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	clock := newClock()
	backend := NewRedisBackend(client, "test:")
	store := New(backend, WithClock(clock.Now))
	ctx := context.Background()

	id, err := store.Create(ctx, "redis corpus")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists("test:" + id) {
		t.Fatalf("expected prefixed key in redis")
	}
	if ttl := mr.TTL("test:" + id); ttl != DefaultTTL+redisGrace {
		t.Fatalf("unexpected redis ttl %v", ttl)
	}
	got, err := store.Read(ctx, id)
	if err != nil || got != "redis corpus" {
		t.Fatalf("unexpected read %q (%v)", got, err)
	}

	clock.Advance(DefaultTTL + time.Second)
	if _, err := store.Read(ctx, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if mr.Exists("test:" + id) {
		t.Fatalf("expired key not evicted")
	}
}

func TestBuild(t *testing.T) {
	if _, err := Build("memory", "", nil, ""); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := Build("redis", "", nil, ""); err == nil {
		t.Fatalf("expected error for redis without client")
	}
	if _, err := Build("s3", "", nil, ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
