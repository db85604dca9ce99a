package app

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/config"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}

	// No command surface is wired yet; drain incoming updates so the
	// adapter's output channel never backs up.
	a.sup.Go0("updates.drain", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up := <-a.updates:
				if up.Message != nil {
					a.log.Debug("update ignored",
						logx.Int64("chat_id", up.Message.ChatID), logx.Int64("from", up.Message.FromID))
				}
			}
		}
	})

	// Reminder lifecycle events, debug-level to keep noise down.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// systemd readiness + watchdog (no-ops outside a unit).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-ticker.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.eng != nil {
		_ = a.eng.Stop(ctx)
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// reloadLoop applies published configs: logging target/sinks first, then the
// engine and delivery settings. Storage and telegram token changes need a
// restart and only get a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer, more := <-sub:
					if !more {
						goto APPLY
					}
					newCfg = newer
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
					break
				}
			}

			// Log target first so Apply doesn't warn with the sink enabled.
			setLogTarget(a.logs, newCfg)
			a.logs.Apply(mapLogConfig(newCfg))

			if dcfg, err := newCfg.Delivery.Settings(); err != nil {
				a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
			} else {
				a.dlv.Apply(dcfg)
			}

			prevEnabled := a.eng.Snapshot().Running
			if ecfg, err := newCfg.Engine.Settings(); err != nil {
				a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
			} else {
				a.eng.Apply(ctx, mapEngineConfig(ecfg))
				switch {
				case prevEnabled && !ecfg.Enabled:
					a.log.Info("engine disabled via config")
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					_ = a.eng.Stop(stopCtx)
					cancel()
				case !prevEnabled && ecfg.Enabled:
					a.log.Info("engine enabled via config")
					_ = a.eng.Start(ctx)
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}
