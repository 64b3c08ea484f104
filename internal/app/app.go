// Package app assembles the process: config, logging, storage, the grid,
// couriers, and the scheduling coordinator, supervised until shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"searchwatch/internal/catalog/source"
	"searchwatch/internal/config"
	"searchwatch/internal/courier"
	"searchwatch/internal/eventbus"
	"searchwatch/internal/grid"
	"searchwatch/internal/prefs"
	"searchwatch/internal/runtime/supervisor"
	"searchwatch/internal/sched"
	"searchwatch/internal/search"
	"searchwatch/internal/store"
	logx "searchwatch/pkg/logx"
)

const stopTimeout = 10 * time.Second

// Options configure an App beyond the config file.
type Options struct {
	ConfigPath string

	// WorkspacesPath enables the file-backed workspace source. Empty means
	// mutations arrive only through Bus().
	WorkspacesPath string

	// Engine overrides the store-backed local engine, for deployments that
	// federate queries elsewhere.
	Engine search.Engine

	// ExtraCouriers are registered alongside the config-enabled ones.
	ExtraCouriers []courier.Courier
}

type App struct {
	opts Options
	bus  eventbus.Bus
}

func New(opts Options) *App {
	return &App{opts: opts, bus: eventbus.New()}
}

// Bus is the mutation intake. Hosts embedding the app publish catalog
// events here.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Run blocks until ctx is cancelled or startup fails.
func (a *App) Run(ctx context.Context) error {
	cm := config.NewManager(a.opts.ConfigPath)
	cfg, err := cm.Load()
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	cm.SetLogger(log.With(logx.String("svc", "config")))
	cm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })
	if err := validate(cfg); err != nil {
		return fmt.Errorf("app: config: %w", err)
	}

	backend, err := store.Open(storeConfig(cfg.Storage), log.With(logx.String("svc", "store")))
	if err != nil {
		return fmt.Errorf("app: open store: %w", err)
	}
	defer backend.Close()

	g := grid.NewLocal(grid.Config{Timezone: cfg.Scheduler.Timezone}, backend,
		log.With(logx.String("svc", "grid")))
	if cfg.Scheduler.Enabled {
		g.Start(ctx)
	} else {
		log.Warn("scheduler disabled; no jobs will fire")
	}

	engine := a.opts.Engine
	if engine == nil {
		engine = search.NewLocalEngine(backend, log.With(logx.String("svc", "search")))
	}

	disp, err := buildDispatcher(cfg, a.opts.ExtraCouriers, log)
	if err != nil {
		return fmt.Errorf("app: couriers: %w", err)
	}

	evict, err := evictionPolicy(cfg.Results)
	if err != nil {
		return fmt.Errorf("app: results: %w", err)
	}

	co := sched.NewCoordinator(g, engine, prefs.NewBackendStore(backend), disp, evict,
		log.With(logx.String("svc", "sched")))

	sup := supervisor.New(ctx,
		supervisor.WithLogger(log.With(logx.String("svc", "supervisor"))))

	events, unsub := a.bus.Subscribe(256)
	sup.GoRestart("coordinator", func(ctx context.Context) error {
		return co.Run(ctx, events)
	})

	if a.opts.WorkspacesPath != "" {
		src := source.New(a.opts.WorkspacesPath, a.bus,
			log.With(logx.String("svc", "source")))
		sup.GoRestart("workspace-source", src.Run)
	}

	sup.Go("config-watch", cm.Watch)
	cfgCh := cm.Subscribe(4)
	sup.Go0("config-apply", func(ctx context.Context) {
		prev := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-cfgCh:
				if !ok || next == nil {
					return
				}
				changed, attrs := config.SummarizeConfigChange(prev, next)
				if len(changed) == 0 {
					continue
				}
				log.Info("config reloaded",
					append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				// Storage, grid, and courier changes need a restart; say so
				// instead of silently ignoring the edit.
				for _, section := range changed {
					if section != "logging" {
						log.Warn("config section requires restart to take effect",
							logx.String("section", section))
					}
				}
				prev = next
			}
		}
	})

	log.Info("searchwatch started",
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.String("timezone", cfg.Scheduler.Timezone),
		logx.Bool("workspace_source", a.opts.WorkspacesPath != ""))

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	g.Stop(stopCtx)
	unsub()
	if err := sup.Stop(stopCtx); err != nil && err != context.Canceled {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	return nil
}

func validate(cfg *config.Config) error {
	if cfg.Couriers.Telegram.Enabled && strings.TrimSpace(cfg.Couriers.Telegram.Token) == "" {
		return fmt.Errorf("couriers.telegram.token required when enabled")
	}
	if _, err := config.ParseDurationField("results.max_age", cfg.Results.MaxAge); err != nil {
		return err
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := config.ParseDurationField("couriers.webhook.timeout", cfg.Couriers.Webhook.Timeout); err != nil {
		return err
	}
	return nil
}

func storeConfig(sc *config.StorageConfig) store.Config {
	if sc == nil {
		return store.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	return store.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}
}

func evictionPolicy(rc config.ResultsConfig) (sched.Eviction, error) {
	maxAge, err := config.ParseDurationField("results.max_age", rc.MaxAge)
	if err != nil {
		return sched.Eviction{}, err
	}
	return sched.Eviction{MaxEntries: rc.MaxEntries, MaxAge: maxAge}, nil
}

func buildDispatcher(cfg *config.Config, extra []courier.Courier, log logx.Logger) (*courier.Dispatcher, error) {
	reg := courier.NewRegistry(extra...)

	if cfg.Couriers.Telegram.Enabled {
		tg, err := courier.NewTelegram(cfg.Couriers.Telegram.Token,
			log.With(logx.String("svc", "courier.telegram")))
		if err != nil {
			return nil, err
		}
		reg.Register(tg)
	}
	if cfg.Couriers.Webhook.Enabled {
		timeout, err := config.ParseDurationField("couriers.webhook.timeout", cfg.Couriers.Webhook.Timeout)
		if err != nil {
			return nil, err
		}
		reg.Register(courier.NewWebhook(timeout,
			log.With(logx.String("svc", "courier.webhook"))))
	}
	return courier.NewDispatcher(reg, cfg.Couriers.RatePerMinute,
		log.With(logx.String("svc", "courier"))), nil
}
