package app

import (
	"context"
	"errors"
	"strings"

	"kosha/internal/config"
	"kosha/internal/eventbus"
	logx "kosha/pkg/logx"
)

// validateReload rejects changes that would silently split state between
// the old and new files.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	cur := a.cfgm.Get()
	if cur == nil {
		return nil
	}
	if config.OrDefault(cur.Storage.Path, config.DefaultStoragePath) != config.OrDefault(cfg.Storage.Path, config.DefaultStoragePath) {
		return errors.New("storage.path cannot change while running; restart instead")
	}
	return nil
}

// reloadLoop applies every published config to the live components.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rr, ",")))
	}
	if prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram.token changed; restart required")
	}

	a.logs.Apply(mapLogging(next))
	a.router.SetAllowed(next.Telegram.AllowedChatIDs)
	a.notif.Apply(mapNotifier(next))
	a.llm.Apply(mapGemini(next))
	a.sessions.SetTTL(sessionTTL(next))
	a.engine.Apply(mapEngine(next))
	a.sched.Apply(mapScheduler(next, a.sched.Location()))
	a.recovery.Apply(mapRecovery(next))

	if armingChanged(prev, next) {
		n, err := a.recovery.ArmAll(ctx)
		if err != nil {
			a.log.Warn("re-arming users failed", logx.Err(err))
		} else {
			a.log.Info("recurring jobs re-armed", logx.Int("users", n))
		}
	}

	eventbus.Emit(a.bus, eventbus.ConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
