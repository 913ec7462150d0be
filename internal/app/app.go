// Package app wires the daemon: config, logging, the result store, job
// definitions, sinks and the orchestrator.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"tonic/internal/config"
	"tonic/internal/eventbus"
	"tonic/internal/job"
	"tonic/internal/loader"
	"tonic/internal/orchestrator"
	"tonic/internal/runtime/supervisor"
	"tonic/internal/sink"
	"tonic/internal/storage"
	logx "tonic/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	cache  *sink.Cache
	render *sink.Render

	orch *orchestrator.Orchestrator
	jobs []*job.Job
}

// New loads the config at cfgPath and registers every job. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, errors.Wrapf(err, "load config %q", cfgPath)
	}

	logSvc, log := logx.NewService(cfg.Logging.Logx())
	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
	}
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	overlap, err := cfg.Scheduler.OverlapPolicy()
	if err != nil {
		return err
	}
	shared, err := cfg.JobContext()
	if err != nil {
		return err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return errors.Wrap(err, "open cache store")
		}
		a.store = st
		a.cache = sink.NewCache(st, a.log)
		a.log.Info("cache enabled", logx.String("driver", sc.Driver))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.log.With(logx.String("comp", "orchestrator"))),
		orchestrator.WithConfig(shared),
		orchestrator.WithTimezone(cfg.Scheduler.Timezone),
		orchestrator.WithBus(a.bus),
		orchestrator.WithDefaultOverlap(overlap),
	}
	if a.cache != nil {
		opts = append(opts, orchestrator.WithFaultHandler(a.cache.Fault))
	}
	a.orch = orchestrator.New(opts...)
	if a.cache != nil {
		a.cache.Lookup(a.orch.Job)
	}

	ld, err := loader.New(a.log)
	if err != nil {
		return err
	}
	defs, err := ld.ReadDirs(cfg.Jobs.Dirs...)
	if err != nil {
		return err
	}
	if a.jobs, err = ld.Register(a.orch, defs); err != nil {
		return err
	}

	if a.cache != nil {
		if err := a.orch.Register(a.cache.Job(cacheName(cfg))); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := a.cache.Seed(ctx, a.jobs)
		cancel()
		if err != nil {
			return err
		}
	}

	rc, name, enabled, err := mapRenderConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		r, err := sink.NewRender(rc, a.orch.Jobs, a.log)
		if err != nil {
			return err
		}
		if err := a.orch.Register(r.Job(name)); err != nil {
			return err
		}
		a.render = r
	}
	a.log.Info("jobs loaded", logx.Int("jobs", len(a.jobs)), logx.Strs("dirs", cfg.Jobs.Dirs))
	return nil
}

// Close releases what New opened. Use it instead of Stop when the app was
// never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		err = errors.CombineErrors(err, a.logs.Close())
	}
	return err
}

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Store returns the cache store, or nil when caching is off.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// Start runs the orchestrator plus the config watcher and reload loop.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, _, _, err := mapRenderConfig(cfg)
		return err
	})

	if err := a.orch.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.String("job", e.Job), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("systemd.watchdog", a.watchdog)

	notifyReady(a.log)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig applies the live parts of a reloaded config. Everything that
// shapes the job graph needs a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(newCfg.Logging.Logx())
	if oldCfg == nil || strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		a.orch.SetTimezone(newCfg.Scheduler.Timezone)
	}
	if oldCfg != nil && !strings.EqualFold(oldCfg.Scheduler.Overlap, newCfg.Scheduler.Overlap) {
		a.log.Warn("scheduler.overlap changed; applies to jobs loaded after a restart")
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("config changes require a restart to take effect", logx.Strs("sections", sections))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down. Each step is bounded so one slow component
// cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.render != nil {
		a.render.Stop()
	}
	step("orchestrator", 5*time.Second, a.orch.Close)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
