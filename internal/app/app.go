// Package app wires the daemon together: config store, logging, storage,
// the notification dispatcher, the module workers, and the supervisor that
// ties their lifetimes to one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/eventbus"
	"github.com/tyda-syda/sun/internal/modules"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/observability/pprof"
	rtsup "github.com/tyda-syda/sun/internal/runtime/supervisor"
	"github.com/tyda-syda/sun/internal/sources"
	"github.com/tyda-syda/sun/internal/storage"
	logx "github.com/tyda-syda/sun/pkg/logx"
	sysd "github.com/tyda-syda/sun/pkg/systemd"
)

// StopReason labels why the daemon is shutting down, for the final log line.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	store *config.Store
	sup   *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	db    storage.Store
	notif *notify.Service
	pprof *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	store := config.NewStore(cfgPath)
	cfg, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var db storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		db, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	client, err := notify.NewClient(log.With(logx.String("comp", "notify")))
	if err != nil {
		return nil, err
	}
	notif := notify.New(mapNotifyConfig(cfg), client, log.With(logx.String("comp", "notify")), bus, db)

	pprofSvc := pprof.New(pprof.FromSnapshot(cfg.Pprof), log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		store:   store,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		db:      db,
		notif:   notif,
		pprof:   pprofSvc,
	}, nil
}

// Done is closed when the supervisor context dies (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		// Any worker death takes the whole daemon down; a half-alive
		// notification daemon is worse than a dead one.
		rtsup.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	a.store.SetLogger(a.log.With(logx.String("comp", "config")))
	a.store.SetValidator(func(_ context.Context, cfg *config.Snapshot) error {
		return validateSnapshot(cfg)
	})
	a.store.SetReloadErrorHandler(func(err error) { a.reportBadReload(err) })

	a.notif.Start(runCtx)
	if a.pprof.Enabled() {
		a.pprof.Start(runCtx)
	}

	workers, err := a.buildWorkers(runCtx)
	if err != nil {
		a.sup.Cancel()
		return err
	}
	for _, w := range workers {
		w := w
		a.sup.GoWorker("module."+w.Name(), w.Run)
	}

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.store.Watch(c)
	}, rtsup.WithPublishFirstError(true))

	sub := a.store.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.store.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		sysd.RunWatchdog(c, a.log.With(logx.String("comp", "systemd")))
	})

	sysd.NotifyReady(a.log)
	a.sup.MarkRunning()
	a.log.Info("daemon started", logx.Int("modules", len(workers)), logx.String("config", a.cfgPath))
	return nil
}

// buildWorkers constructs a source/policy pair per monitor. A module whose
// source cannot be built fails startup when the module is enabled; disabled
// modules are skipped with a warning so a broken compositor socket doesn't
// block battery monitoring, say.
func (a *App) buildWorkers(ctx context.Context) ([]*modules.Worker, error) {
	cfg := a.store.Current()
	log := a.log.With(logx.String("comp", "modules"))

	var workers []*modules.Worker
	add := func(name string, enabled bool, mk func() (modules.Source, modules.Policy, error)) error {
		src, pol, err := mk()
		if err != nil {
			if enabled {
				return fmt.Errorf("module %s: %w", name, err)
			}
			log.Warn("module source unavailable; skipping disabled module",
				logx.String("module", name), logx.Err(err))
			return nil
		}
		workers = append(workers, modules.NewWorker(pol, src, a.store, a.notif, a.bus, log))
		return nil
	}

	err := add("battery", cfg.Battery.Enabled, func() (modules.Source, modules.Policy, error) {
		src, err := sources.NewUeventSource("power_supply")
		if err != nil {
			return nil, nil, err
		}
		return src, modules.NewBatteryPolicy(log), nil
	})
	if err != nil {
		return nil, err
	}

	err = add("brightness", cfg.Brightness.Enabled, func() (modules.Source, modules.Policy, error) {
		src, err := sources.NewUeventSource("backlight")
		if err != nil {
			return nil, nil, err
		}
		return src, modules.NewBrightnessPolicy(log), nil
	})
	if err != nil {
		return nil, err
	}

	err = add("volume", cfg.Volume.Enabled, func() (modules.Source, modules.Policy, error) {
		src, err := sources.NewPulseSource(ctx, log)
		if err != nil {
			return nil, nil, err
		}
		// Bluetooth battery enrichment is best-effort: no system bus just
		// means plain volume popups.
		var battery modules.BatteryReader
		if bc, err := sources.NewBluezClient(); err != nil {
			log.Warn("system bus unavailable; bluetooth battery levels disabled", logx.Err(err))
		} else {
			battery = bc
		}
		return src, modules.NewVolumePolicy(sources.PulseState{}, battery, log), nil
	})
	if err != nil {
		return nil, err
	}

	err = add("keyboard", cfg.Keyboard.Enabled, func() (modules.Source, modules.Policy, error) {
		src, err := sources.NewLayoutSource(log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("keyboard layout backend detected", logx.String("backend", src.Backend()))
		return src, modules.NewKeyboardPolicy(log), nil
	})
	if err != nil {
		return nil, err
	}

	return workers, nil
}

// reportBadReload surfaces a failed reload to the user. The popup is
// persistent and critical: the daemon keeps running on the old snapshot, but
// silently ignoring a broken edit helps nobody.
func (a *App) reportBadReload(err error) {
	a.log.Warn("config reload rejected", logx.Err(err))

	icon := ""
	if cur := a.store.Current(); cur != nil {
		icon = cur.Icons.Resolve(cur.Daemon.ErrorIcon)
	}
	dErr := a.notif.Dispatch(notify.Request{
		Module:     "config",
		ReplaceKey: notify.KeyConfigStatus,
		Summary:    "Config error",
		Body:       err.Error(),
		Urgency:    notify.UrgencyCritical,
		Icon:       icon,
		Timeout:    0,
	})
	if dErr != nil {
		a.log.Warn("config error notification dropped", logx.Err(dErr))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Snapshot) {
	lastApplied := a.store.Current()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest snapshot matters.
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
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg

			a.logs.Apply(mapLogConfig(newCfg.Logging))

			prevEnabled := a.notif.Enabled()
			a.notif.Apply(mapNotifyConfig(newCfg))
			if prevEnabled && !newCfg.NotifyEnabled() {
				a.log.Info("notification dispatch disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && newCfg.NotifyEnabled() {
				a.log.Info("notification dispatch enabled via config")
				a.notif.Start(ctx)
			}

			a.pprof.Reconfigure(ctx, pprof.FromSnapshot(newCfg.Pprof))

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required to take effect")
					break
				}
			}

			// A good reload clears any standing config-error popup.
			if err := a.notif.CloseKey(notify.KeyConfigStatus); err != nil {
				a.log.Debug("config-status close skipped", logx.Err(err))
			}

			if len(sections) > 0 {
				fields := append([]logx.Field{
					logx.String("changed", strings.Join(sections, ",")),
					logx.Uint64("generation", newCfg.Generation),
				}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no effective changes)", logx.Uint64("generation", newCfg.Generation))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sysd.NotifyStopping(a.log)

	// Cancel first so workers and watchers unwind while we drain below.
	a.sup.Cancel()

	// Run one shutdown step with an upper bound so a stuck component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
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
			// Leak signal: observe when the step eventually finishes.
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.db != nil {
			return a.db.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// NotifyCrash emits the death notice after the pipeline has already stopped:
// synchronous, fresh popup, stays on screen until dismissed.
func (a *App) NotifyCrash(ctx context.Context) {
	icon := ""
	appName := config.DefaultAppName
	if cur := a.store.Current(); cur != nil {
		icon = cur.Icons.Resolve(cur.Daemon.ErrorIcon)
		appName = cur.Daemon.AppName
	}
	err := a.notif.NotifyNow(ctx, notify.Request{
		Module:     "daemon",
		ReplaceKey: notify.KeyDaemonStatus,
		Summary:    appName + " just died",
		Body:       "Check logs for details",
		Urgency:    notify.UrgencyCritical,
		Icon:       icon,
		Timeout:    0,
	})
	if err != nil {
		a.log.Error("death notice failed", logx.Err(err))
	}
}
