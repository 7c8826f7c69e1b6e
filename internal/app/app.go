// Package app wires the daemon together: config, logging, store,
// trigger engine, executor, and the admin API, plus config hot reload.
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"triggerd/internal/api"
	"triggerd/internal/config"
	"triggerd/internal/eventbus"
	"triggerd/internal/executor"
	"triggerd/internal/runtime/supervisor"
	"triggerd/internal/store"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	st     store.Store
	bus    eventbus.Bus
	runs   *api.RunLog
	exec   *reloadableExecutor
	engine *trigger.Service
	apiSvc *api.Service

	sup *supervisor.Supervisor
}

// reloadableExecutor lets config hot reload swap the webhook target
// without rebuilding the engine. Nil inner executor fails the run,
// which the engine logs and deregisters like any other failure.
type reloadableExecutor struct {
	v atomic.Value // *executor.Webhook
}

func (r *reloadableExecutor) set(wh *executor.Webhook) { r.v.Store(wh) }

func (r *reloadableExecutor) ExecuteWorkflow(ctx context.Context, wf store.Workflow, run trigger.RunContext) error {
	wh, _ := r.v.Load().(*executor.Webhook)
	if wh == nil {
		return errors.New("no executor configured")
	}
	return wh.ExecuteWorkflow(ctx, wf, run)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(loggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	stCfg, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	exec := &reloadableExecutor{}
	execCfg, err := executorConfig(cfg)
	if err != nil {
		return nil, err
	}
	if execCfg.URL != "" {
		wh, err := executor.NewWebhook(execCfg, log.With(logx.String("comp", "executor")))
		if err != nil {
			return nil, err
		}
		exec.set(wh)
	}

	trgCfg, err := triggerConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	engine := trigger.New(trgCfg, st, exec, bus, log.With(logx.String("comp", "trigger")))

	apiCfg, err := apiConfig(cfg)
	if err != nil {
		return nil, err
	}
	runs := api.NewRunLog(trgCfg.HistorySize)
	apiSvc := api.New(apiCfg, st, engine, runs, log.With(logx.String("comp", "api")))

	return &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log,
		st:     st,
		bus:    bus,
		runs:   runs,
		exec:   exec,
		engine: engine,
		apiSvc: apiSvc,
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.apiSvc.Start(a.sup.Context()); err != nil {
		return err
	}

	// Drain run events into the admin API's recent-run ring.
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("events.drain", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.runs.Record(ev)
			}
		}
	})

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
				// Coalesce bursts: only the newest config matters.
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

	// Under systemd Type=notify this flips the unit to active; elsewhere
	// it reports (false, nil) and is a no-op.
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("triggerd started")
	return nil
}

// applyConfig pushes a validated config into the running components.
// The watcher already rejected configs that fail mapping, so errors
// here are unexpected and keep the affected component on its old
// settings.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(loggingConfig(cfg))

	if execCfg, err := executorConfig(cfg); err != nil {
		a.log.Warn("executor config rejected on reload", logx.Err(err))
	} else if execCfg.URL != "" {
		if wh, err := executor.NewWebhook(execCfg, a.log.With(logx.String("comp", "executor"))); err == nil {
			a.exec.set(wh)
		}
	}

	prevEnabled := a.engine.Enabled()
	if trgCfg, err := triggerConfig(cfg); err != nil {
		a.log.Warn("trigger config rejected on reload", logx.Err(err))
	} else {
		a.engine.Apply(trgCfg)
		if prevEnabled && !trgCfg.Enabled {
			a.log.Info("trigger engine disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && trgCfg.Enabled {
			a.log.Info("trigger engine enabled via config")
			a.engine.Start(a.sup.Context())
		}
	}

	if apiCfg, err := apiConfig(cfg); err != nil {
		a.log.Warn("api config rejected on reload", logx.Err(err))
	} else {
		wasRunning := a.apiSvc.Running()
		a.apiSvc.Reconfigure(apiCfg)
		// Address or enablement changes need a listener cycle.
		switch {
		case wasRunning && !apiCfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = a.apiSvc.Stop(stopCtx)
			cancel()
		case !wasRunning && apiCfg.Enabled:
			if err := a.apiSvc.Start(a.sup.Context()); err != nil {
				a.log.Warn("api restart after reload failed", logx.Err(err))
			}
		}
	}

	a.log.Info("config reloaded")
}

// Stop shuts everything down in dependency order: stop admitting new
// work (API, engine), then background loops, then the store and logs.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if err := a.apiSvc.Stop(ctx); err != nil {
		a.log.Warn("api stop", logx.Err(err))
	}
	a.engine.Stop(ctx)

	a.sup.Cancel()
	if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("background loops", logx.Err(err))
	}

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
