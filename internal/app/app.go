// Package app wires the scheduling core together: config, logging, the
// event bus, storage, the workflow engine, the cron scheduler, the
// publication service and observability.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"pubflow/internal/adapters/telegram"
	"pubflow/internal/config"
	"pubflow/internal/eventbus"
	"pubflow/internal/observability"
	"pubflow/internal/publisher"
	"pubflow/internal/runtime/supervisor"
	"pubflow/internal/scheduler"
	"pubflow/internal/storage"
	"pubflow/internal/workflow"
	"pubflow/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	defs     *workflow.Definitions
	tracker  *workflow.Tracker
	registry *workflow.Registry
	engine   *workflow.Engine

	sched *scheduler.Service
	pub   *publisher.Service

	observer *observability.Observer
	obsSrv   *observability.Server

	sweepInterval time.Duration
	wfRetention   atomic.Int64 // nanoseconds; read by the sweep loop
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	wfCfg, err := mapWorkflowConfig(cfg)
	if err != nil {
		return nil, err
	}
	tracker := workflow.NewTracker(wfCfg, log.With(logx.String("comp", "tracker")), bus)
	registry := workflow.NewRegistry()
	engine := workflow.NewEngine(wfCfg, tracker, registry, log.With(logx.String("comp", "engine")), bus)
	defs := workflow.NewDefinitions()

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, engine, defs, log.With(logx.String("comp", "scheduler")), bus)

	pubCfg, err := mapPublisherConfig(cfg)
	if err != nil {
		return nil, err
	}
	pub := publisher.New(pubCfg, log.With(logx.String("comp", "publisher")), bus)

	// Channel adapters (optional)
	if cfg.Telegram != nil {
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			Timeout: timeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		pub.RegisterPublisher("telegram", ad)
	}

	observer := observability.NewObserver(log.With(logx.String("comp", "observer")), bus, store)

	obsCfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}
	obsSrv := observability.NewServer(obsCfg, log.With(logx.String("comp", "obs-http")))

	sweep, err := mapSweepInterval(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		defs:          defs,
		tracker:       tracker,
		registry:      registry,
		engine:        engine,
		sched:         sched,
		pub:           pub,
		observer:      observer,
		obsSrv:        obsSrv,
		sweepInterval: sweep,
	}
	a.wfRetention.Store(int64(wfCfg.Retention))
	return a, nil
}

// Component accessors for callers embedding the core.
func (a *App) Engine() *workflow.Engine           { return a.engine }
func (a *App) Definitions() *workflow.Definitions { return a.defs }
func (a *App) Tracker() *workflow.Tracker         { return a.tracker }
func (a *App) Registry() *workflow.Registry       { return a.registry }
func (a *App) Scheduler() *scheduler.Service      { return a.sched }
func (a *App) Publisher() *publisher.Service      { return a.pub }
func (a *App) Bus() eventbus.Bus                  { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapWorkflowConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPublisherConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapObservabilityConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSweepInterval(cfg); err != nil {
			return err
		}
		return nil
	})

	a.observer.Start(a.sup.Context())
	if a.obsSrv.Enabled() {
		a.obsSrv.Start(a.sup.Context())
	}
	if a.pub.Enabled() {
		a.pub.Start(a.sup.Context())
		a.pub.Resume()
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Retention sweep: evicts terminal executions and publications and
	// surfaces stuck publication triggers.
	a.sup.Go0("maintenance.sweep", func(c context.Context) {
		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case now := <-ticker.C:
				if n := a.tracker.PurgeOlderThan(time.Duration(a.wfRetention.Load())); n > 0 {
					a.log.Debug("purged executions", logx.Int("count", n))
				}
				a.pub.Sweep(now)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies a validated hot-reloaded config section by section.
// Workflow engine settings require a restart and only log a notice.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	// Engine settings are fixed at construction; retention feeds the sweep
	// loop and can change live.
	if wfCfg, err := mapWorkflowConfig(cfg); err == nil && int64(wfCfg.Retention) != a.wfRetention.Load() {
		a.wfRetention.Store(int64(wfCfg.Retention))
		a.log.Info("execution retention updated", logx.Duration("retention", wfCfg.Retention))
	}

	prevSched := a.sched.Enabled()
	if schedCfg, err := mapSchedulerConfig(cfg); err == nil {
		a.sched.Apply(schedCfg)
		if prevSched && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevSched && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	prevPub := a.pub.Enabled()
	if pubCfg, err := mapPublisherConfig(cfg); err == nil {
		a.pub.Apply(pubCfg)
		if prevPub && !pubCfg.Enabled {
			a.log.Info("publisher disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.pub.Stop(stopCtx)
			cancel()
		} else if !prevPub && pubCfg.Enabled {
			a.log.Info("publisher enabled via config")
			a.pub.Start(ctx)
			a.pub.Resume()
		}
	}

	if obsCfg, err := mapObservabilityConfig(cfg); err == nil {
		a.obsSrv.Reconfigure(ctx, obsCfg)
	}

	if sweep, err := mapSweepInterval(cfg); err == nil && sweep != a.sweepInterval {
		a.log.Warn("sweep interval changed; takes effect after restart")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}

	// Stop intake first, then drain workers, then flush observability.
	a.sched.Stop(ctx)
	a.pub.Stop(ctx)
	a.engine.Shutdown()
	a.obsSrv.Stop(ctx)
	a.observer.Stop(ctx)

	err := a.sup.Stop(ctx)

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("app stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
