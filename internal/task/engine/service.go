// Package engine executes fired jobs. Each dispatch runs in its own
// supervised goroutine with overlap gating, retries and a history ring.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kosha/internal/eventbus"
	rtsup "kosha/internal/runtime/supervisor"
	logx "kosha/pkg/logx"
)

type Service struct {
	mu        sync.Mutex
	cfg       Config
	sup       *rtsup.Supervisor
	accepting bool
	stopCh    chan struct{}

	log logx.Logger
	bus eventbus.Bus

	stateMu sync.Mutex
	states  map[string]*RunState

	groups groupStore

	hmu     sync.Mutex
	history []HistoryItem

	wg         sync.WaitGroup
	idSeq      atomic.Uint64
	inFlight   atomic.Int64
	dispatched atomic.Uint64
	skipped    atomic.Uint64
	failed     atomic.Uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		states: make(map[string]*RunState),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start begins accepting dispatches. Task contexts derive from ctx's values
// but not its cancellation: in-flight work outlives Shutdown until Cancel.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepting {
		return
	}
	if s.sup == nil {
		s.sup = rtsup.New(context.WithoutCancel(ctx),
			rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine.sup"))),
		)
	}
	s.stopCh = make(chan struct{})
	s.accepting = true
	s.log.Info("task engine started", logx.Int("retry_max", s.cfg.RetryMax), logx.Duration("default_timeout", s.cfg.DefaultTimeout))
}

// Shutdown stops accepting new tasks and stops scheduling further retry
// attempts. Running attempts continue.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return
	}
	s.accepting = false
	close(s.stopCh)
	s.log.Info("task engine stopping", logx.Int64("in_flight", s.inFlight.Load()))
}

// Wait blocks until every dispatched task returned or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d task(s) still running", ctx.Err(), s.inFlight.Load())
	}
}

// Cancel cancels the contexts of running tasks. It is the hard stop used
// after Wait gave up.
func (s *Service) Cancel() {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup != nil {
		sup.Cancel()
	}
}

// Running reports whether a task with name holds its overlap guard.
func (s *Service) Running(name string) bool {
	s.stateMu.Lock()
	st := s.states[name]
	s.stateMu.Unlock()
	return st != nil && st.Running()
}

// Dispatch starts t in its own goroutine and returns at once.
func (s *Service) Dispatch(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	sup, stopCh, cfg := s.sup, s.stopCh, s.cfg
	// Added under mu so Wait never races a late Add.
	s.wg.Add(1)
	s.mu.Unlock()

	opt := t.Opt.withDefaults(cfg)
	if t.Timeout <= 0 {
		t.Timeout = cfg.DefaultTimeout
	}

	// At most one run per task name; a second dispatch while it runs is skipped.
	st := s.stateFor(t.Name)
	if !st.tryAcquire() {
		s.wg.Done()
		s.skipped.Add(1)
		eventbus.Emit(s.bus, eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Kind: t.Kind, Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	s.dispatched.Add(1)
	s.inFlight.Add(1)
	gname := "task"
	if t.Kind != "" {
		gname += "." + t.Kind
	}
	sup.Go0(gname, func(ctx context.Context) {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		defer st.release()
		s.run(ctx, stopCh, t, opt)
	})
	return nil
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, accepting := s.cfg, s.accepting
	s.mu.Unlock()
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()
	return Snapshot{
		Accepting:  accepting,
		InFlight:   s.inFlight.Load(),
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
		Failed:     s.failed.Load(),
		Config:     cfg,
		History:    h,
	}
}
