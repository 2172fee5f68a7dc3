package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kosha/internal/clock"
	"kosha/internal/eventbus"
	"kosha/internal/task/engine"
	logx "kosha/pkg/logx"
)

// Service is the job registry. Construct it with New; it is safe for
// concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus
	engine  *engine.Service
	exec    Executor
	parser  cron.Parser
	c       *cron.Cron
	started bool
	jobs    map[JobID]*registration
	ver     uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, eng *engine.Service, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg.withDefaults(),
		clk:         clock.Real{},
		log:         log,
		bus:         bus,
		engine:      eng,
		exec:        exec,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[JobID]*registration{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Location
}

// Apply updates the grace and summary concurrency. The location is fixed at
// construction.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Location = s.cfg.Location
	s.cfg = cfg.withDefaults()
}

// Start starts the engine and the cron runner and arms every registration
// made so far.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if s.engine != nil {
		s.engine.Start(ctx)
	}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithParser(s.parser),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	s.started = true
	for _, r := range s.jobs {
		s.armLocked(r)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.cfg.Location.String()), logx.Int("jobs", len(s.jobs)))
}

// Shutdown stops triggering and returns without waiting. Registrations stay
// in the registry. Running payloads are not cancelled.
func (s *Service) Shutdown(_ context.Context) {
	s.shutdown()
}

// ShutdownAndWait is Shutdown followed by waiting for running payloads
// until ctx ends.
func (s *Service) ShutdownAndWait(ctx context.Context) error {
	cronDone := s.shutdown()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.engine == nil {
		return nil
	}
	return s.engine.Wait(ctx)
}

// shutdown returns a context that ends once in-progress cron callbacks
// have returned.
func (s *Service) shutdown() context.Context {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return doneCtx
	}
	s.started = false
	for _, r := range s.jobs {
		s.disarmLocked(r)
	}
	cronDone := s.c.Stop()
	s.c = nil
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Shutdown()
	}
	s.log.Info("scheduler stopped")
	return cronDone
}

var doneCtx = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

func (s *Service) armLocked(r *registration) {
	switch r.trigger {
	case TriggerOnce:
		delay := max(r.at.Sub(s.clk.Now()), 0)
		id, ver := r.id, r.ver
		r.timer = s.clk.AfterFunc(delay, func() { s.fireOnce(id, ver) })
	case TriggerCron:
		id, ver := r.id, r.ver
		r.entryID = s.c.Schedule(r.sched, cron.FuncJob(func() { s.fireCron(id, ver) }))
	}
}

func (s *Service) disarmLocked(r *registration) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.entryID != 0 && s.c != nil {
		s.c.Remove(r.entryID)
	}
	r.entryID = 0
}

// fireOnce runs a one-shot registration unless it was replaced or removed
// since the timer was armed.
func (s *Service) fireOnce(id JobID, ver uint64) {
	s.mu.Lock()
	r := s.jobs[id]
	if r == nil || r.ver != ver || !s.started {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, id)
	cmd, cfg := r.cmd, s.cfg
	s.mu.Unlock()
	s.dispatch(id, cmd, cfg)
}

func (s *Service) fireCron(id JobID, ver uint64) {
	s.mu.Lock()
	r := s.jobs[id]
	if r == nil || r.ver != ver || !s.started {
		s.mu.Unlock()
		return
	}
	cmd, cfg := r.cmd, s.cfg
	s.mu.Unlock()
	s.dispatch(id, cmd, cfg)
}

func (s *Service) dispatch(id JobID, cmd Command, cfg Config) error {
	if s.engine == nil || s.exec == nil {
		return fmt.Errorf("scheduler has no engine or executor")
	}
	t := engine.Task{
		Name: id.String(),
		Kind: string(id.Kind),
		Run:  func(ctx context.Context) error { return s.exec.Execute(ctx, id, cmd) },
	}
	if id.Kind == KindDailySummary {
		t.ConcurrencyKey = "llm"
		t.Opt.ConcurrencyLimit = cfg.SummaryConcurrency
	}
	err := s.engine.Dispatch(t)
	if err != nil {
		s.reportEnqueueError(id.String(), err)
	}
	return err
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
