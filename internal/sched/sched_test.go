package sched

// Shared fakes for the scheduling tests: an in-memory grid with a
// hand-cranked scheduler, a canned search engine, and a recording courier.

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"searchwatch/internal/courier"
	"searchwatch/internal/grid"
	"searchwatch/internal/search"
	"searchwatch/internal/trigger"
)

type fakeJob struct {
	mu        sync.Mutex
	id        string
	next      time.Time
	cancelled bool
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Next() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return time.Time{}
	}
	return j.next
}

func (j *fakeJob) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

func (j *fakeJob) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

type scheduledEntry struct {
	expr trigger.Expression
	run  func()
	job  *fakeJob
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries []scheduledEntry
}

func (s *fakeScheduler) Schedule(expr trigger.Expression, run func()) (grid.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &fakeJob{
		id:   fmt.Sprintf("job-%d", len(s.entries)+1),
		next: time.Now().Add(time.Hour),
	}
	s.entries = append(s.entries, scheduledEntry{expr: expr, run: run, job: job})
	return job, nil
}

func (s *fakeScheduler) Location() *time.Location { return time.UTC }

func (s *fakeScheduler) all() []scheduledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledEntry(nil), s.entries...)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *memCache) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Keys(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

type fakeGrid struct {
	mu     sync.Mutex
	sch    *fakeScheduler
	caches map[string]*memCache
}

func newFakeGrid() *fakeGrid {
	return &fakeGrid{sch: &fakeScheduler{}, caches: map[string]*memCache{}}
}

func (g *fakeGrid) Scheduler() (grid.Scheduler, error) { return g.sch, nil }

func (g *fakeGrid) Cache(name string, create bool) (grid.Cache, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.caches[name]
	if !ok {
		if !create {
			return nil, grid.ErrNoCache
		}
		c = newMemCache()
		g.caches[name] = c
	}
	return c, nil
}

// seedCache force-creates a named cache with one encoded value.
func (g *fakeGrid) seedCache(t *testing.T, name, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("seed %s/%s: %v", name, key, err)
	}
	c, err := g.Cache(name, true)
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	if err := c.Put(context.Background(), key, raw); err != nil {
		t.Fatalf("seed %s/%s: %v", name, key, err)
	}
}

// cacheValue decodes a cache entry into out and reports presence.
func (g *fakeGrid) cacheValue(t *testing.T, name, key string, out any) bool {
	t.Helper()
	c, err := g.Cache(name, false)
	if err != nil {
		return false
	}
	raw, ok, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s/%s: %v", name, key, err)
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s/%s: %v", name, key, err)
	}
	return true
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	results []search.Result
	err     error
	lastReq search.Request
	lastID  search.Identity
}

func (e *fakeEngine) Query(_ context.Context, id search.Identity, req search.Request) (*search.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastReq = req
	e.lastID = id
	if e.err != nil {
		return nil, e.err
	}
	return &search.Response{
		Results: append([]search.Result(nil), e.results...),
		Hits:    int64(len(e.results)),
	}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type testCourier struct {
	mu         sync.Mutex
	tag        string
	fail       bool
	deliveries []courier.Delivery
}

func (c *testCourier) Type() string        { return c.tag }
func (c *testCourier) DisplayName() string { return "test " + c.tag }

func (c *testCourier) RequiredFields() map[string]courier.FieldKind { return nil }

func (c *testCourier) Deliver(_ context.Context, d courier.Delivery, cb courier.Callbacks) {
	c.mu.Lock()
	c.deliveries = append(c.deliveries, d)
	fail := c.fail
	c.mu.Unlock()
	if fail {
		cb.OnError(fmt.Errorf("delivery refused"))
		return
	}
	cb.OnSuccess()
}

func (c *testCourier) delivered() []courier.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]courier.Delivery(nil), c.deliveries...)
}
