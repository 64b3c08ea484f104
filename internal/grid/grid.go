package grid

import (
	"context"
	"errors"
	"time"

	"searchwatch/internal/trigger"
)

var (
	// ErrUnavailable is returned when the grid (or its scheduler) is not
	// running. Callers must treat this as infrastructure failure for the
	// job at hand, never as silent success.
	ErrUnavailable = errors.New("grid unavailable")

	// ErrNoCache is returned by Cache(name, false) when the named cache was
	// never created.
	ErrNoCache = errors.New("cache does not exist")
)

// Grid is the injected capability giving access to the ambient scheduling
// engine and its named caches. Every accessor is checked per call: holding a
// Grid does not guarantee the engine is up.
type Grid interface {
	// Scheduler returns the trigger engine, or ErrUnavailable.
	Scheduler() (Scheduler, error)

	// Cache returns the named cache. With create=true the cache is created
	// on first use; with create=false a missing cache is ErrNoCache.
	Cache(name string, create bool) (Cache, error)
}

// Scheduler schedules recurring tasks against compiled calendar triggers.
// Each firing invokes run on its own goroutine; firings of the same job may
// overlap if a previous invocation is still in flight.
type Scheduler interface {
	Schedule(expr trigger.Expression, run func()) (Job, error)
	Location() *time.Location
}

// Job is the handle returned once the trigger engine accepted a schedule
// request. The job id is the identity tracked by the job registry.
type Job interface {
	ID() string

	// Next reports the next scheduled firing, or the zero time when the
	// engine has no further firing planned (e.g. after Cancel).
	Next() time.Time

	// Cancel stops further firings. It does not interrupt a run already in
	// flight.
	Cancel()
}

// Cache is a copy-on-read/copy-on-write key-value view.
//
// Values are encoded collections (JSON); callers decode, modify the copy,
// and Put the whole collection back. In-place mutation of a Get result is
// never visible to other readers.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
