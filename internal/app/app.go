// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"kosha/internal/assistant"
	"kosha/internal/clock"
	"kosha/internal/config"
	"kosha/internal/eventbus"
	"kosha/internal/jobs"
	"kosha/internal/llm"
	"kosha/internal/metrics"
	"kosha/internal/notifier"
	"kosha/internal/observability/httpd"
	"kosha/internal/recovery"
	"kosha/internal/router"
	"kosha/internal/runtime/supervisor"
	"kosha/internal/storage"
	"kosha/internal/task/engine"
	"kosha/internal/task/scheduler"
	"kosha/internal/timeutil"
	kit "kosha/internal/transport"
	telegram "kosha/internal/transport/telegram"
	logx "kosha/pkg/logx"
)

const (
	sessionSweepEvery = time.Minute
	maintenanceHour   = 3
	maintenanceMinute = 30
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    *storage.SQLite
	adapter  *telegram.Adapter
	notif    *notifier.Service
	llm      *llm.Client
	sessions *llm.Sessions
	engine   *engine.Service
	sched    *scheduler.Service
	recovery *recovery.Coordinator
	router   *router.Router
	metrics  *metrics.Metrics

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// The adapter logs through a console logger until the log service
	// exists, since the service needs the adapter for alerts.
	ad, err := telegram.New(mapTelegram(cfg), logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogging(cfg), ad)

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	norm := timeutil.NewNormalizer(loc, clock.Real{})

	notif := notifier.New(mapNotifier(cfg), ad, log.With(logx.String("comp", "notifier")), bus)
	llmc := llm.New(mapGemini(cfg), log.With(logx.String("comp", "llm")), bus)
	sessions := llm.NewSessions(sessionTTL(cfg), time.Now)

	eng := engine.New(mapEngine(cfg), log.With(logx.String("comp", "taskengine")), bus)
	runner := jobs.NewRunner(store, notif, llmc, norm, log)
	sched := scheduler.New(mapScheduler(cfg, loc), eng, runner, log.With(logx.String("comp", "scheduler")), bus)
	recov := recovery.New(mapRecovery(cfg), store, sched, notif, norm, log, bus)

	rt := router.New(router.Config{AllowedChatIDs: cfg.Telegram.AllowedChatIDs}, ad, log)
	asst := assistant.New(assistant.Deps{
		Store:     store,
		Scheduler: sched,
		Armer:     recov,
		Sender:    notif,
		Model:     llmc,
		Sessions:  sessions,
		Norm:      norm,
		Log:       log,
		Help:      rt.HelpHTML,
	})
	rt.SetRegistry(asst.Commands(), asst.Callbacks(), asst.Fallback())

	return &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		notif:    notif,
		llm:      llmc,
		sessions: sessions,
		engine:   eng,
		sched:    sched,
		recovery: recov,
		router:   rt,
		metrics:  metrics.New(bus.Dropped),
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores persisted reminders, arms every user, and then starts
// triggering and polling.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	// Metrics subscribe before anything emits.
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.sched.ScheduleDaily(scheduler.JobID{Kind: scheduler.KindMaintenance}, maintenanceHour, maintenanceMinute, jobs.MaintenanceCommand{}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	rep, err := a.recovery.Run(runCtx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	a.log.Info("recovery finished",
		logx.Int("missed", rep.Missed),
		logx.Int("rearmed", rep.Rearmed),
		logx.Int("users", rep.Users),
		logx.Int("failures", rep.Failures),
	)
	a.sched.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	menuCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.router.Menu()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("sessions.sweep", a.sweepSessions)
	a.sup.Go0("eventbus.log", a.logEvents)
	if a.cfg.HTTP.Enabled {
		a.startHTTP()
	}
	a.sup.Go0("systemd", a.notifySystemd)

	a.log.Info("app started", logx.String("tz", a.sched.Location().String()))
	return nil
}

func (a *App) startHTTP() {
	hc := httpd.Config{
		Addr:   config.OrDefault(a.cfg.HTTP.Addr, config.DefaultHTTPAddr),
		Token:  a.cfg.HTTP.Token,
		Pprof:  a.cfg.HTTP.Pprof,
		Health: a.health,
	}
	if a.cfg.HTTP.Metrics {
		hc.Metrics = a.metrics.Handler()
	}
	srv := httpd.New(hc, a.log)
	// Diagnostics are optional; a failing listener must not stop the bot.
	sup := supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log.With(logx.String("comp", "httpd"))))
	sup.GoRestart("http.serve", srv.Run, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	a.sup.Go("httpd", func(c context.Context) error {
		<-c.Done()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return sup.Wait(wctx)
	})
}

func (a *App) health() any {
	snap := a.sched.Snapshot()
	return map[string]any{
		"status":          "ok",
		"scheduler":       snap.Started,
		"jobs":            len(snap.Jobs),
		"in_flight":       snap.Engine.InFlight,
		"gemini_sessions": a.sessions.Len(),
		"events_dropped":  a.bus.Dropped(),
		"goroutines":      a.sup.Snapshot(),
	}
}

func (a *App) sweepSessions(ctx context.Context) {
	t := time.NewTicker(sessionSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.sessions.Sweep(); n > 0 {
				a.log.Debug("expired gemini sessions", logx.Int("count", n))
			}
		}
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	wait := shutdownWait(a.cfgm.Get())
	a.step(ctx, "scheduler", wait+time.Second, func(c context.Context) error {
		wctx, cancel := context.WithTimeout(c, wait)
		defer cancel()
		if err := a.sched.ShutdownAndWait(wctx); err != nil {
			// Payloads still running are cancelled; reminders deactivate on
			// their way out.
			a.engine.Cancel()
			return err
		}
		return nil
	})

	// Cancel the run context so the router, watchers and tickers unwind.
	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "engine", 2*time.Second, func(c context.Context) error { return a.engine.Wait(c) })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound that never extends ctx's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
