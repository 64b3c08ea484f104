package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"searchwatch/internal/courier"
	"searchwatch/internal/grid"
	"searchwatch/internal/prefs"
	"searchwatch/internal/search"
	"searchwatch/pkg/logx"
)

// deliveryTimeout bounds one delivery firing end to end, including courier
// sends for every cached entry.
const deliveryTimeout = 2 * time.Minute

// deliveryTask drains a search's result cache to the user's configured
// destinations. In aligned mode it rides the query's own cadence one
// minute behind; in delayed mode it fires once a day at a fixed time and
// skips the tick throttle.
type deliveryTask struct {
	registry   *Registry
	grid       grid.Grid
	prefs      prefs.Store
	dispatcher *courier.Dispatcher
	log        logx.Logger

	workspaceID string
	searchID    string
	title       string
	userID      string
	destIDs     []string
	aligned     bool
	rec         Recurrence

	mu    sync.Mutex
	ticks int
	job   grid.Job
}

func newDeliveryTask(reg *Registry, g grid.Grid, ps prefs.Store, disp *courier.Dispatcher, log logx.Logger,
	workspaceID, searchID, title, userID string, destIDs []string, aligned bool, rec Recurrence) *deliveryTask {
	return &deliveryTask{
		registry:    reg,
		grid:        g,
		prefs:       ps,
		dispatcher:  disp,
		log:         log.With(logx.String("search", searchID)),
		workspaceID: workspaceID,
		searchID:    searchID,
		title:       title,
		userID:      userID,
		destIDs:     destIDs,
		aligned:     aligned,
		rec:         rec,
		ticks:       rec.Amount,
	}
}

func (t *deliveryTask) setJob(j grid.Job) {
	t.mu.Lock()
	t.job = j
	t.mu.Unlock()
}

func (t *deliveryTask) currentJob() grid.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

func (t *deliveryTask) jobID() string {
	if j := t.currentJob(); j != nil {
		return j.ID()
	}
	return ""
}

func (t *deliveryTask) advance() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticks < t.rec.Amount-1 {
		t.ticks++
		return false
	}
	t.ticks = 0
	return true
}

func (t *deliveryTask) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	now := time.Now()
	live := t.registry.IsLive(ctx, KindDelivery, t.searchID, t.jobID())
	if now.Before(t.rec.Start) {
		return
	}
	if !live || now.After(t.rec.End) {
		t.retire(ctx)
		return
	}
	if t.aligned && !t.advance() {
		return
	}

	if err := t.drain(ctx); err != nil {
		t.log.Error("delivery firing failed", logx.Err(err))
	}
	t.maybeRetire(ctx)
}

// drain delivers every cached result entry and prunes the ones that
// reached all destinations. Entries with any failed destination stay for
// the next firing.
func (t *deliveryTask) drain(ctx context.Context) error {
	c, err := t.grid.Cache(ResultsCacheName, false)
	if errors.Is(err, grid.ErrNoCache) {
		t.log.Debug("no cached results to deliver")
		return nil
	}
	if err != nil {
		return fmt.Errorf("result cache: %w", err)
	}
	raw, ok, err := c.Get(ctx, t.searchID)
	if err != nil {
		return fmt.Errorf("result cache read: %w", err)
	}
	if !ok {
		t.log.Debug("no cached results to deliver")
		return nil
	}
	var set resultSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("result cache decode: %w", err)
	}
	if len(set) == 0 {
		return nil
	}

	dests, err := t.prefs.Destinations(ctx, t.userID)
	if err != nil {
		return fmt.Errorf("destinations for %q: %w", t.userID, err)
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	delivered := 0
	for _, key := range keys {
		results := set[key]
		if len(results) == 0 {
			delete(set, key)
			continue
		}
		if t.deliverEntry(ctx, results, dests) {
			delete(set, key)
			delivered++
		}
	}
	if delivered > 0 {
		t.log.Info("delivered cached result batches", logx.Int("batches", delivered))
	}

	out, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("result cache encode: %w", err)
	}
	return c.Put(ctx, t.searchID, out)
}

// deliverEntry sends one batch to every configured destination and reports
// whether all of them succeeded. A destination ID that matches zero or
// several preference entries is logged and counts as failed.
func (t *deliveryTask) deliverEntry(ctx context.Context, results []search.Result, dests []prefs.Destination) bool {
	allOK := true
	for _, destID := range t.destIDs {
		var matched []prefs.Destination
		for _, d := range dests {
			if d.ID == destID {
				matched = append(matched, d)
			}
		}
		if len(matched) != 1 {
			t.log.Error("destination not uniquely configured, skipping",
				logx.String("destination", destID),
				logx.Int("matches", len(matched)))
			allOK = false
			continue
		}
		dest := matched[0]

		ok := false
		t.dispatcher.Dispatch(ctx, dest.CourierType, courier.Delivery{
			WorkspaceID:   t.workspaceID,
			SearchID:      t.searchID,
			SearchTitle:   t.title,
			UserID:        t.userID,
			DestinationID: dest.ID,
			Parameters:    dest.Parameters,
			Results:       results,
		}, courier.Callbacks{
			OnError: func(err error) {
				t.log.Error("delivery failed",
					logx.String("destination", dest.ID),
					logx.Err(err))
			},
			OnSuccess: func() { ok = true },
			OnWarning: func(msg string) {
				t.log.Warn("delivery warning",
					logx.String("destination", dest.ID),
					logx.String("detail", msg))
			},
		})
		if !ok {
			allOK = false
		}
	}
	return allOK
}

func (t *deliveryTask) maybeRetire(ctx context.Context) {
	j := t.currentJob()
	if j == nil {
		return
	}
	next := j.Next()
	if next.IsZero() || next.After(t.rec.End) {
		t.log.Info("delivery window exhausted, retiring delivery job",
			logx.String("end", t.rec.End.Format(TimeLayout)))
		t.retire(ctx)
	}
}

func (t *deliveryTask) retire(ctx context.Context) {
	if err := t.registry.Discard(ctx, KindDelivery, t.searchID, t.jobID()); err != nil {
		t.log.Warn("discarding delivery job registration failed", logx.Err(err))
	}
	if j := t.currentJob(); j != nil {
		j.Cancel()
	}
}
