package grid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"searchwatch/internal/store"
	"searchwatch/internal/trigger"
	logx "searchwatch/pkg/logx"
)

// Config configures the local grid.
type Config struct {
	Timezone string // IANA TZ, e.g. "America/New_York"; empty means time.Local
}

// Local is the single-node Grid implementation: a cron-based trigger engine
// plus named caches over a store.Backend. No cross-node coordination is
// provided; this is the single scheduling authority.
type Local struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	backend store.Backend
	parser  cron.Parser

	c   *cron.Cron
	loc *time.Location

	// caches tracks which named caches exist, so Cache(name, false) can
	// distinguish "never created" from "empty".
	caches map[string]struct{}

	idSeq uint64
}

func NewLocal(cfg Config, backend store.Backend, log logx.Logger) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Local{
		cfg:     cfg,
		log:     log,
		backend: backend,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		caches:  map[string]struct{}{},
	}
}

// Start brings the trigger engine up. Idempotent.
func (g *Local) Start(ctx context.Context) {
	_ = ctx // reserved for future drain/stop policies

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c != nil {
		return
	}
	loc := g.loadLocationLocked()
	g.loc = loc
	g.c = cron.New(cron.WithParser(g.parser), cron.WithLocation(loc))
	g.c.Start()
	g.log.Info("grid started", logx.String("tz", loc.String()))
}

// Stop stops the trigger engine. Cache contents are left intact.
func (g *Local) Stop(ctx context.Context) {
	g.mu.Lock()
	c := g.c
	g.c = nil
	g.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	g.log.Info("grid stopped")
}

func (g *Local) Scheduler() (Scheduler, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil, ErrUnavailable
	}
	return &localScheduler{grid: g}, nil
}

func (g *Local) Cache(name string, create bool) (Cache, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("cache name required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.backend == nil {
		return nil, ErrUnavailable
	}
	if _, ok := g.caches[name]; !ok {
		if !create {
			return nil, fmt.Errorf("%w: %q", ErrNoCache, name)
		}
		g.caches[name] = struct{}{}
	}
	return &backendCache{backend: g.backend, bucket: name}, nil
}

func (g *Local) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(g.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		g.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

// ---- scheduler ----

type localScheduler struct {
	grid *Local
}

func (s *localScheduler) Location() *time.Location {
	g := s.grid
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loc != nil {
		return g.loc
	}
	return time.Local
}

func (s *localScheduler) Schedule(expr trigger.Expression, run func()) (Job, error) {
	g := s.grid
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil, ErrUnavailable
	}
	// cron runs each job firing on its own goroutine; overlap protection is
	// the caller's concern.
	entryID, err := g.c.AddFunc(expr.String(), run)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr.String(), err)
	}
	seq := atomic.AddUint64(&g.idSeq, 1)
	id := fmt.Sprintf("job-%x-%x", time.Now().UnixNano(), seq)
	return &localJob{grid: g, id: id, entryID: entryID}, nil
}

// ---- job handle ----

type localJob struct {
	grid    *Local
	id      string
	entryID cron.EntryID
}

func (j *localJob) ID() string { return j.id }

func (j *localJob) Next() time.Time {
	g := j.grid
	g.mu.Lock()
	c := g.c
	g.mu.Unlock()
	if c == nil {
		return time.Time{}
	}
	return c.Entry(j.entryID).Next
}

func (j *localJob) Cancel() {
	g := j.grid
	g.mu.Lock()
	c := g.c
	g.mu.Unlock()
	if c != nil {
		c.Remove(j.entryID)
	}
}

// ---- cache view ----

type backendCache struct {
	backend store.Backend
	bucket  string
}

func (c *backendCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.backend.Get(ctx, c.bucket, key)
}

func (c *backendCache) Put(ctx context.Context, key string, value []byte) error {
	return c.backend.Put(ctx, c.bucket, key, value)
}

func (c *backendCache) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, c.bucket, key)
}

func (c *backendCache) Keys(ctx context.Context) ([]string, error) {
	return c.backend.Keys(ctx, c.bucket)
}
