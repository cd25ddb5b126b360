package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"callrelay/internal/config"
	"callrelay/internal/ops"
	"callrelay/internal/relay"
	rtsup "callrelay/internal/runtime/supervisor"
	"callrelay/internal/storage"
	kit "callrelay/internal/transport"
	telegram "callrelay/internal/transport/telegram/adapter"
	"callrelay/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	// adapter is nil when no bot token is configured.
	adapter kit.Adapter

	relay *relay.Service
	ops   *ops.Service

	callbacks chan kit.Callback

	// notify reports service state to systemd; a no-op outside a unit.
	notify func(state string) (bool, error)
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(firstNonEmpty(cfg.Logging.Level, "info"))

	var (
		ad     *telegram.Adapter
		sender kit.Sender
	)
	tc, tgEnabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tgEnabled {
		ad, err = telegram.New(tc, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender = ad
	}

	// Start with telegram logging off so Apply does not warn before the
	// target is set.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, sender)
	logSvc.SetTelegramTarget(logTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

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
	} else {
		log.Warn("storage disabled; relay will stay inert")
	}

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	var tr relay.Transport
	if ad != nil {
		tr = ad
	} else {
		log.Warn("telegram token not configured; relay will stay inert")
	}
	relaySvc := relay.New(rc, store, tr, log.With(logx.String("comp", "relay")))

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	opsSvc := ops.New(opsCfg, relaySvc, log.With(logx.String("comp", "ops")))

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		relay:     relaySvc,
		ops:       opsSvc,
		callbacks: make(chan kit.Callback, 64),
		notify:    func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if ad != nil {
		a.adapter = ad
	}
	return a, nil
}

func (a *App) Relay() *relay.Service { return a.relay }

// Store returns the opened store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.ops.SetWorkers(a.sup.Workers)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.callbacks); err != nil {
			return err
		}
		a.sup.Go("relay.callbacks", func(c context.Context) error {
			return a.relay.RunCallbacks(c, a.callbacks)
		})
	}

	if err := a.relay.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	if ok, err := a.notify(daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Bool("relay_enabled", a.relay.Enabled()),
		logx.Bool("ops_enabled", a.ops.Enabled()),
	)
	return nil
}

// startWatchdog pings systemd at half the unit's WatchdogSec, if configured.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = a.notify(daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// coalesce bursts: keep only the latest
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		a.applyConfig(c, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if keys := config.RestartRequired(oldCfg, newCfg); len(keys) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	a.logs.SetTelegramTarget(logTarget(newCfg))
	a.logs.Apply(mapLoggingConfig(newCfg))

	if rc, err := mapRelayConfig(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(rc)
	}

	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		rctx, cancel := context.WithTimeout(c, 3*time.Second)
		a.ops.Reconfigure(rctx, oc)
		cancel()
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.notify(daemon.SdNotifyStopping)

	a.sup.Cancel()

	a.step(ctx, "relay", 5*time.Second, func(c context.Context) error { return a.relay.Stop(c) })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs one shutdown step bounded by max and the caller's deadline, so a
// stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
		}()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
