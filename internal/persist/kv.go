// Package persist stores capture sessions durably so a restarted server can
// pick up where it left off.
//
// A session is written as three independent records on a small key-value
// substrate: metadata without images, a bounded map of full images and a
// map of thumbnails.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stepsnap/stepsnap/internal/config"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("persist: not found")

const appDirName = "stepsnap"

// KV is the durable key-value substrate.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// Open returns the KV named by cfg.Driver.
func Open(cfg config.StorageConfig) (KV, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	switch cfg.Driver {
	case "", "file":
		return NewFileKV(dir), nil
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "stepsnap.db"))
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("persist: unknown driver %q", cfg.Driver)
	}
}

// DefaultDir returns ~/.local/state/stepsnap, respecting XDG_STATE_HOME if
// set.
func DefaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
