package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prepareup/internal/redis"
)

// Backend is the raw keyed storage behind a Store. Get returns ErrNotFound
// for a missing key and Delete of a missing key is not an error. The ttl
// passed to Put is a retention hint; backends may keep entries longer.
type Backend interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MemoryBackend keeps entries in process memory. Everything is lost on restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	cp := append([]byte(nil), value...)
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Build selects a backend by name: "memory", "disk" (dir) or "redis" (client).
func Build(kind, dir string, rdb *redis.Client, prefix string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "disk":
		d, err := NewDiskBackend(dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis session backend requires a redis client")
		}
		return NewRedisBackend(rdb, prefix), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", kind)
	}
}
