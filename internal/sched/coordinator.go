package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"searchwatch/internal/catalog"
	"searchwatch/internal/courier"
	"searchwatch/internal/eventbus"
	"searchwatch/internal/grid"
	"searchwatch/internal/prefs"
	"searchwatch/internal/search"
	"searchwatch/internal/trigger"
	"searchwatch/pkg/logx"
)

// Coordinator reacts to workspace mutations: it schedules query and
// delivery jobs for saved searches on create, re-schedules on update, and
// cancels on delete. One coordinator serves the whole process.
type Coordinator struct {
	grid       grid.Grid
	engine     search.Engine
	prefs      prefs.Store
	dispatcher *courier.Dispatcher
	registry   *Registry
	evict      Eviction
	log        logx.Logger

	now func() time.Time

	// schedMu serializes schedule-inject-register sequences so a firing
	// can never observe a registered job whose handle is missing for a
	// different reason than "not yet injected".
	schedMu chan struct{}
}

func NewCoordinator(g grid.Grid, eng search.Engine, ps prefs.Store, disp *courier.Dispatcher,
	evict Eviction, log logx.Logger) *Coordinator {
	return &Coordinator{
		grid:       g,
		engine:     eng,
		prefs:      ps,
		dispatcher: disp,
		registry:   NewRegistry(g, log),
		evict:      evict,
		log:        log,
		now:        time.Now,
		schedMu:    make(chan struct{}, 1),
	}
}

// Registry exposes the job registry for snapshots and tooling.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Apply routes one mutation event. Entities that are not workspaces, or
// workspaces with no scheduling configuration, are skipped. Per-entity
// failures are isolated and folded into a single batch error.
func (c *Coordinator) Apply(ctx context.Context, m eventbus.Mutation) error {
	switch m.Kind {
	case eventbus.Created:
		return c.Schedule(ctx, m.Workspaces)
	case eventbus.Updated:
		// The old side is cancelled before the new side schedules so a
		// job never survives its own reconfiguration.
		return joinErrs([]error{
			c.Cancel(ctx, m.OldWorkspaces),
			c.Schedule(ctx, m.Workspaces),
		})
	case eventbus.Deleted:
		return c.Cancel(ctx, m.Workspaces)
	default:
		return fmt.Errorf("sched: unknown mutation kind %q", m.Kind)
	}
}

// Run drains mutation events until the context ends or the channel closes.
func (c *Coordinator) Run(ctx context.Context, events <-chan eventbus.Mutation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.Apply(ctx, m); err != nil {
				c.log.Error("mutation handling failed",
					logx.String("kind", string(m.Kind)),
					logx.Err(err))
			}
		}
	}
}

// Schedule sets up jobs for every scheduled search in the given entities.
func (c *Coordinator) Schedule(ctx context.Context, entities []catalog.Workspace) error {
	var errs []error
	for _, ws := range entities {
		if !ws.IsWorkspace() {
			continue
		}
		if err := c.scheduleWorkspace(ctx, ws); err != nil {
			errs = append(errs, fmt.Errorf("workspace %q: %w", ws.ID, err))
		}
	}
	return joinErrs(errs)
}

// Cancel withdraws every search in the given entities from both
// registries. Unknown searches cancel as no-ops.
func (c *Coordinator) Cancel(ctx context.Context, entities []catalog.Workspace) error {
	var errs []error
	for _, ws := range entities {
		if !ws.IsWorkspace() {
			continue
		}
		for _, s := range ws.Searches {
			if !s.Scheduled() {
				continue
			}
			if err := c.registry.Cancel(ctx, s.ID); err != nil {
				errs = append(errs, fmt.Errorf("workspace %q: %w", ws.ID, err))
				continue
			}
			c.log.Info("cancelled scheduled search",
				logx.String("workspace", ws.ID),
				logx.String("search", s.ID))
		}
	}
	return joinErrs(errs)
}

func (c *Coordinator) scheduleWorkspace(ctx context.Context, ws catalog.Workspace) error {
	var errs []error
	for _, s := range ws.Searches {
		if !s.Scheduled() {
			continue
		}
		if err := c.scheduleSearch(ctx, ws, s); err != nil {
			errs = append(errs, fmt.Errorf("search %q: %w", s.ID, err))
		}
	}
	return joinErrs(errs)
}

// scheduleSearch walks the search's schedule blocks. Delivery blocks pair
// with schedule blocks by index. A bad block fails that block only.
func (c *Coordinator) scheduleSearch(ctx context.Context, ws catalog.Workspace, s catalog.SavedSearch) error {
	sch, err := c.grid.Scheduler()
	if err != nil {
		return fmt.Errorf("trigger engine: %w", err)
	}
	filter, err := search.ParseFilter(s.Query)
	if err != nil {
		return err
	}

	var errs []error
	for i, raw := range s.Schedules {
		if !raw.Enabled {
			continue
		}
		rec, err := ParseRecurrence(raw, c.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.scheduleQuery(ctx, sch, s, raw.UserID, filter, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		if i < len(s.Deliveries) {
			if err := c.scheduleDelivery(ctx, sch, ws, s, s.Deliveries[i], rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return joinErrs(errs)
}

func (c *Coordinator) scheduleQuery(ctx context.Context, sch grid.Scheduler, s catalog.SavedSearch,
	userID string, filter search.Filter, rec Recurrence) error {
	task := newQueryTask(c.registry, c.grid, c.engine, c.evict, c.log,
		s.ID, s.Title, userID, filter, search.ParseSortOrder(s.Sort), s.Sources, rec)
	expr := trigger.Compile(rec.Unit, rec.Start, sch.Location())

	jobID, err := c.install(ctx, sch, KindQuery, s.ID, expr, task.Run, task.setJob)
	if err != nil {
		return err
	}
	c.log.Info("scheduled query",
		logx.String("search", s.ID),
		logx.String("job", jobID),
		logx.String("trigger", expr.String()))
	return nil
}

func (c *Coordinator) scheduleDelivery(ctx context.Context, sch grid.Scheduler, ws catalog.Workspace,
	s catalog.SavedSearch, d catalog.Delivery, queryRec Recurrence) error {
	if len(d.DestinationIDs) == 0 {
		return nil
	}

	var (
		expr    trigger.Expression
		rec     Recurrence
		aligned bool
		err     error
	)
	if d.Delayed {
		if expr, err = trigger.Daily(d.Hour, d.Minute); err != nil {
			return err
		}
		start := delayedStart(c.now().In(sch.Location()), d.Hour, d.Minute)
		rec = Recurrence{Amount: 1, Unit: trigger.Days, Start: start, End: queryRec.End}
	} else {
		aligned = true
		rec = deliveryWindow(queryRec)
		expr = trigger.Compile(rec.Unit, rec.Start, sch.Location())
	}

	task := newDeliveryTask(c.registry, c.grid, c.prefs, c.dispatcher, c.log,
		ws.ID, s.ID, s.Title, d.UserID, d.DestinationIDs, aligned, rec)

	jobID, err := c.install(ctx, sch, KindDelivery, s.ID, expr, task.Run, task.setJob)
	if err != nil {
		return err
	}
	c.log.Info("scheduled delivery",
		logx.String("search", s.ID),
		logx.String("job", jobID),
		logx.String("trigger", expr.String()),
		logx.Bool("delayed", d.Delayed))
	return nil
}

// install runs the schedule-inject-register sequence as one critical
// section. If registration fails the fresh job is cancelled rather than
// left running unregistered.
func (c *Coordinator) install(ctx context.Context, sch grid.Scheduler, kind Kind, targetID string,
	expr trigger.Expression, run func(), inject func(grid.Job)) (string, error) {
	select {
	case c.schedMu <- struct{}{}:
		defer func() { <-c.schedMu }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	job, err := sch.Schedule(expr, run)
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", kind, err)
	}
	inject(job)
	if err := c.registry.Register(ctx, kind, targetID, job.ID()); err != nil {
		job.Cancel()
		return "", err
	}
	return job.ID(), nil
}

// Snapshot counts the live jobs per registry.
type Snapshot struct {
	Queries    int
	Deliveries int
}

func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	q, err := c.registry.Targets(ctx, KindQuery)
	if err != nil && !errors.Is(err, grid.ErrNoCache) {
		return Snapshot{}, err
	}
	d, err := c.registry.Targets(ctx, KindDelivery)
	if err != nil && !errors.Is(err, grid.ErrNoCache) {
		return Snapshot{}, err
	}
	return Snapshot{Queries: len(q), Deliveries: len(d)}, nil
}

func joinErrs(errs []error) error {
	return errors.Join(errs...)
}
