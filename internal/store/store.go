package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "searchwatch/pkg/logx"
)

var (
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("store closed")
)

// Config configures the shared key-value backend.
//
// Driver values:
//   - "memory": process-local backend (default; no persistence)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Backend is a named-bucket key-value store.
//
// Semantics the callers rely on:
//   - Get returns a COPY of the stored value. Mutating the returned slice
//     never changes the stored state.
//   - Writers must Put back the full encoded collection; there are no
//     partial in-place updates.
//
// These mirror the behavior of a networked cache and keep the memory and
// sqlite backends interchangeable.
type Backend interface {
	Get(ctx context.Context, bucket, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Keys(ctx context.Context, bucket string) ([]string, error)
	Close() error
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
