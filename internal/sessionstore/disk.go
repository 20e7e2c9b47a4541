package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DiskBackend stores one file per key under a directory.
type DiskBackend struct {
	dir string
}

// NewDiskBackend creates dir if needed.
func NewDiskBackend(dir string) (*DiskBackend, error) {
	if dir == "" {
		return nil, errors.New("session dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &DiskBackend{dir: dir}, nil
}

// path maps a key to a file inside dir; keys that could escape it are rejected.
func (d *DiskBackend) path(key string) (string, bool) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return "", false
	}
	return filepath.Join(d.dir, key+".session"), true
}

// Put writes through a temp file and renames it so readers never observe a
// partial entry.
func (d *DiskBackend) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	target, ok := d.path(key)
	if !ok {
		return fmt.Errorf("invalid session key %q", key)
	}
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit session file: %w", err)
	}
	return nil
}

func (d *DiskBackend) Get(_ context.Context, key string) ([]byte, error) {
	p, ok := d.path(key)
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return data, nil
}

func (d *DiskBackend) Delete(_ context.Context, key string) error {
	p, ok := d.path(key)
	if !ok {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
