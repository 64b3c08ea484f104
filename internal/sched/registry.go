package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"searchwatch/internal/grid"
	"searchwatch/pkg/logx"
)

// Cache names on the grid. The registries map a target (search) ID to the
// set of job IDs currently scheduled for it; the result cache holds the
// accumulated query output per search.
const (
	queriesCacheName    = "scheduled queries"
	deliveriesCacheName = "scheduled deliveries"
	ResultsCacheName    = "query results"
)

// Kind selects which job registry an operation touches.
type Kind int

const (
	KindQuery Kind = iota
	KindDelivery
)

func (k Kind) String() string {
	if k == KindDelivery {
		return "delivery"
	}
	return "query"
}

func (k Kind) cacheName() string {
	if k == KindDelivery {
		return deliveriesCacheName
	}
	return queriesCacheName
}

// Registry tracks which recurring jobs exist for which search, layered on
// the grid's caches so liveness survives restarts and is visible to every
// node sharing the grid. Values are JSON arrays of job IDs.
//
// Register must run inside the same critical section as the schedule call
// that produced the job ID; Cancel and IsLive may run from anywhere.
type Registry struct {
	grid grid.Grid
	log  logx.Logger
}

func NewRegistry(g grid.Grid, log logx.Logger) *Registry {
	return &Registry{grid: g, log: log}
}

func (r *Registry) cache(kind Kind, create bool) (grid.Cache, error) {
	return r.grid.Cache(kind.cacheName(), create)
}

func decodeSet(raw []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Register records jobID as live for targetID, creating the registry cache
// on first use.
func (r *Registry) Register(ctx context.Context, kind Kind, targetID, jobID string) error {
	c, err := r.cache(kind, true)
	if err != nil {
		return fmt.Errorf("sched: %s registry: %w", kind, err)
	}
	raw, ok, err := c.Get(ctx, targetID)
	if err != nil {
		return fmt.Errorf("sched: %s registry read %q: %w", kind, targetID, err)
	}
	var ids []string
	if ok {
		if ids, err = decodeSet(raw); err != nil {
			return fmt.Errorf("sched: %s registry decode %q: %w", kind, targetID, err)
		}
	}
	if !slices.Contains(ids, jobID) {
		ids = append(ids, jobID)
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("sched: %s registry encode %q: %w", kind, targetID, err)
	}
	return c.Put(ctx, targetID, out)
}

// IsLive reports whether jobID is still registered for targetID. An empty
// jobID (handle not yet injected) and any registry failure both read as
// live: a job is only considered cancelled on positive evidence.
func (r *Registry) IsLive(ctx context.Context, kind Kind, targetID, jobID string) bool {
	if jobID == "" {
		return true
	}
	c, err := r.cache(kind, false)
	if errors.Is(err, grid.ErrNoCache) {
		// No registry cache means nothing was ever registered here.
		return false
	}
	if err != nil {
		r.log.Warn("job registry unavailable, assuming job live",
			logx.String("kind", kind.String()),
			logx.String("target", targetID),
			logx.Err(err))
		return true
	}
	raw, ok, err := c.Get(ctx, targetID)
	if err != nil {
		r.log.Warn("job registry read failed, assuming job live",
			logx.String("kind", kind.String()),
			logx.String("target", targetID),
			logx.Err(err))
		return true
	}
	if !ok {
		return false
	}
	ids, err := decodeSet(raw)
	if err != nil {
		r.log.Warn("job registry entry corrupt, assuming job live",
			logx.String("kind", kind.String()),
			logx.String("target", targetID),
			logx.Err(err))
		return true
	}
	return slices.Contains(ids, jobID)
}

// Discard removes a single job ID from a target's set, dropping the entry
// when the set empties. Used by tasks cancelling themselves.
func (r *Registry) Discard(ctx context.Context, kind Kind, targetID, jobID string) error {
	c, err := r.cache(kind, false)
	if errors.Is(err, grid.ErrNoCache) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sched: %s registry: %w", kind, err)
	}
	raw, ok, err := c.Get(ctx, targetID)
	if err != nil || !ok {
		return err
	}
	ids, err := decodeSet(raw)
	if err != nil {
		return c.Delete(ctx, targetID)
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == jobID })
	if len(ids) == 0 {
		return c.Delete(ctx, targetID)
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("sched: %s registry encode %q: %w", kind, targetID, err)
	}
	return c.Put(ctx, targetID, out)
}

// Cancel withdraws the target from both registries. Running tasks observe
// the removal on their next firing and stop themselves. Cancelling an
// unknown target is a no-op.
func (r *Registry) Cancel(ctx context.Context, targetID string) error {
	var errs []error
	for _, kind := range []Kind{KindQuery, KindDelivery} {
		c, err := r.cache(kind, false)
		if errors.Is(err, grid.ErrNoCache) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sched: cancel %s %q: %w", kind, targetID, err))
			continue
		}
		if err := c.Delete(ctx, targetID); err != nil {
			errs = append(errs, fmt.Errorf("sched: cancel %s %q: %w", kind, targetID, err))
		}
	}
	return joinErrs(errs)
}

// Targets lists the target IDs with live jobs of the given kind.
func (r *Registry) Targets(ctx context.Context, kind Kind) ([]string, error) {
	c, err := r.cache(kind, false)
	if err != nil {
		return nil, fmt.Errorf("sched: %s registry: %w", kind, err)
	}
	return c.Keys(ctx)
}
