// Package sessionstore keeps the extracted corpus of one upload batch under a
// random identifier for a fixed window. Entries are immutable once written and
// are evicted lazily: the first read past the window deletes them.
package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"prepareup/internal/logger"

	"github.com/google/uuid"
)

// DefaultTTL is how long a corpus stays readable after upload.
const DefaultTTL = 30 * time.Minute

var (
	// ErrNotFound means no live session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned for sessions older than the TTL. It wraps
	// ErrNotFound so callers that only check for ErrNotFound treat both alike.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)
	// ErrCorrupt means the stored payload could not be decoded.
	ErrCorrupt = errors.New("session payload corrupt")
)

// Reader is the read side handed to generate and chat handlers.
type Reader interface {
	Read(ctx context.Context, id string) (string, error)
}

// Writer is the write side handed to the upload flow.
type Writer interface {
	Create(ctx context.Context, corpus string) (string, error)
}

// Store validates freshness on top of a Backend.
type Store struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	log     *logger.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL reports the validity window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create stores corpus under a fresh id and returns the id.
func (s *Store) Create(ctx context.Context, corpus string) (string, error) {
	id := s.newID()
	if id == "" {
		return "", errors.New("session id generator returned empty id")
	}
	payload := encodePayload(s.now(), corpus)
	if err := s.backend.Put(ctx, id, payload, s.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

// Read returns the corpus for id. Missing and expired sessions both satisfy
// errors.Is(err, ErrNotFound); an expired entry is deleted before returning.
func (s *Store) Read(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	raw, err := s.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	createdAt, corpus, err := decodePayload(raw)
	if err != nil {
		return "", err
	}
	if s.now().Sub(createdAt) > s.ttl {
		if err := s.backend.Delete(ctx, id); err != nil {
			s.log.Warn("evict expired session", "id", id, "error", err)
		}
		return "", ErrExpired
	}
	return corpus, nil
}

func encodePayload(createdAt time.Time, corpus string) []byte {
	ts := strconv.FormatInt(createdAt.UnixMilli(), 10)
	buf := make([]byte, 0, len(ts)+1+len(corpus))
	buf = append(buf, ts...)
	buf = append(buf, '\n')
	buf = append(buf, corpus...)
	return buf
}

func decodePayload(raw []byte) (time.Time, string, error) {
	head, body, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return time.Time{}, "", ErrCorrupt
	}
	ms, err := strconv.ParseInt(string(head), 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return time.UnixMilli(ms), string(body), nil
}
