package sched

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"searchwatch/internal/grid"
	"searchwatch/internal/search"
	"searchwatch/pkg/logx"
)

// Eviction bounds the result cache per search. Zero values disable the
// corresponding bound.
type Eviction struct {
	MaxEntries int
	MaxAge     time.Duration
}

// resultSet is the stored shape of one search's accumulated results,
// keyed by the firing timestamp in TimeLayout form.
type resultSet map[string][]search.Result

// queryTask re-executes one saved search on its recurrence cadence and
// accumulates the results in the grid's result cache for later delivery.
// Firings may overlap; all mutable state sits behind mu.
type queryTask struct {
	registry *Registry
	grid     grid.Grid
	engine   search.Engine
	log      logx.Logger
	evict    Eviction

	searchID string
	title    string
	userID   string
	filter   search.Filter
	sortBy   search.SortOrder
	sources  []string
	rec      Recurrence

	mu    sync.Mutex
	ticks int
	job   grid.Job
}

func newQueryTask(reg *Registry, g grid.Grid, eng search.Engine, evict Eviction, log logx.Logger,
	searchID, title, userID string, filter search.Filter, sortBy search.SortOrder, sources []string,
	rec Recurrence) *queryTask {
	return &queryTask{
		registry: reg,
		grid:     g,
		engine:   eng,
		log:      log.With(logx.String("search", searchID)),
		evict:    evict,
		searchID: searchID,
		title:    title,
		userID:   userID,
		filter:   filter,
		sortBy:   sortBy,
		sources:  sources,
		rec:      rec,
		// Seeded so the first eligible tick fires instead of waiting out
		// a full throttle cycle.
		ticks: rec.Amount,
	}
}

// setJob injects the trigger-engine handle after scheduling. Until the
// handle lands, firings treat the job as live.
func (t *queryTask) setJob(j grid.Job) {
	t.mu.Lock()
	t.job = j
	t.mu.Unlock()
}

func (t *queryTask) currentJob() grid.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

func (t *queryTask) jobID() string {
	if j := t.currentJob(); j != nil {
		return j.ID()
	}
	return ""
}

// advance is the throttle step: one check-and-advance of the tick counter
// under the lock. It reports whether this firing should execute.
func (t *queryTask) advance() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticks < t.rec.Amount-1 {
		t.ticks++
		return false
	}
	t.ticks = 0
	return true
}

// Run is one firing. Failures are logged and left for the next firing;
// nothing propagates to the trigger engine.
func (t *queryTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), search.DefaultTimeout)
	defer cancel()

	now := time.Now()
	live := t.registry.IsLive(ctx, KindQuery, t.searchID, t.jobID())
	if now.Before(t.rec.Start) {
		return
	}
	if !live || now.After(t.rec.End) {
		t.retire(ctx)
		return
	}
	if !t.advance() {
		return
	}

	resp, err := t.engine.Query(ctx, search.SystemIdentity(t.userID), search.Request{
		Filter:   t.filter,
		Sort:     t.sortBy,
		Sources:  t.sources,
		PageSize: search.DefaultPageSize,
		Index:    1,
	})
	if err != nil {
		t.log.Error("scheduled query failed", logx.Err(err))
		return
	}
	t.log.Info("scheduled query executed",
		logx.Int("results", len(resp.Results)),
		logx.Int64("hits", resp.Hits))

	if err := t.mergeResults(ctx, now, resp.Results); err != nil {
		t.log.Error("caching query results failed", logx.Err(err))
	}
	t.maybeRetire(ctx)
}

// mergeResults folds this firing's results into the search's cache entry.
// The whole collection is read, amended, and written back; the cache hands
// out copies, so the read-modify-write is the unit of consistency.
func (t *queryTask) mergeResults(ctx context.Context, at time.Time, results []search.Result) error {
	c, err := t.grid.Cache(ResultsCacheName, true)
	if err != nil {
		return err
	}
	set := resultSet{}
	raw, ok, err := c.Get(ctx, t.searchID)
	if err != nil {
		return err
	}
	if ok {
		if err := json.Unmarshal(raw, &set); err != nil {
			t.log.Warn("result cache entry corrupt, resetting", logx.Err(err))
			set = resultSet{}
		}
	}
	set[at.Format(TimeLayout)] = results
	t.evict.apply(set, at)
	out, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.Put(ctx, t.searchID, out)
}

// maybeRetire cancels the job proactively when it can never fire inside
// the window again.
func (t *queryTask) maybeRetire(ctx context.Context) {
	j := t.currentJob()
	if j == nil {
		return
	}
	next := j.Next()
	if next.IsZero() || next.After(t.rec.End) {
		t.log.Info("schedule window exhausted, retiring query job",
			logx.String("end", t.rec.End.Format(TimeLayout)))
		t.retire(ctx)
	}
}

func (t *queryTask) retire(ctx context.Context) {
	if err := t.registry.Discard(ctx, KindQuery, t.searchID, t.jobID()); err != nil {
		t.log.Warn("discarding query job registration failed", logx.Err(err))
	}
	if j := t.currentJob(); j != nil {
		j.Cancel()
	}
}

// apply prunes the set in place to honor the cache bounds, dropping the
// oldest entries first. Keys that do not parse as timestamps only age out
// via the entry-count bound.
func (e Eviction) apply(set resultSet, now time.Time) {
	if e.MaxAge > 0 {
		cutoff := now.Add(-e.MaxAge)
		for key := range set {
			at, err := time.Parse(TimeLayout, key)
			if err == nil && at.Before(cutoff) {
				delete(set, key)
			}
		}
	}
	if e.MaxEntries > 0 && len(set) > e.MaxEntries {
		keys := make([]string, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys[:len(set)-e.MaxEntries] {
			delete(set, key)
		}
	}
}
