package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kosha/internal/eventbus"
	logx "kosha/pkg/logx"
)

func newTestEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Millisecond
	}
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		s.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Wait(ctx)
	})
	return s
}

// waitIdle lets every dispatched task finish, retries included, and then
// stops the engine.
func waitIdle(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	s.Shutdown()
}

func TestDispatchBeforeStartIsRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Dispatch(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{RetryMax: 3})
	var calls atomic.Int32
	err := s.Dispatch(Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitIdle(t, s)
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls=%d want 3", got)
	}
	h := s.Snapshot().History
	if len(h) != 1 || h[0].Error != "" || h[0].Attempts != 3 {
		t.Fatalf("history=%+v", h)
	}
}

func TestNegativeRetryMaxRunsOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cfg   Config
		opt   TaskOptions
		fail  bool
		calls int32
	}{
		{"engine disabled, success", Config{RetryMax: -1}, TaskOptions{}, false, 1},
		{"engine disabled, failure", Config{RetryMax: -1}, TaskOptions{}, true, 1},
		{"task disabled, failure", Config{RetryMax: 3}, TaskOptions{RetryMax: -1}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestEngine(t, tt.cfg)
			var calls atomic.Int32
			err := s.Dispatch(Task{Name: "reminder:1", Opt: tt.opt, Run: func(context.Context) error {
				calls.Add(1)
				if tt.fail {
					return errors.New("send failed")
				}
				return nil
			}})
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			waitIdle(t, s)
			if got := calls.Load(); got != tt.calls {
				t.Fatalf("calls=%d want %d", got, tt.calls)
			}
			h := s.Snapshot().History
			if len(h) != 1 || h[0].Attempts != 1 || (h[0].Error != "") != tt.fail {
				t.Fatalf("history=%+v", h)
			}
		})
	}
}

func TestShutdownAbandonsPendingRetries(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{RetryMax: 5, RetryBase: time.Minute, RetryMaxDelay: time.Minute})
	var calls atomic.Int32
	first := make(chan struct{})
	_ = s.Dispatch(Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) == 1 {
			close(first)
		}
		return errors.New("transient")
	}})
	<-first
	s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1", got)
	}
	h := s.Snapshot().History
	if len(h) != 1 || !strings.Contains(h[0].Error, "retries abandoned") {
		t.Fatalf("history=%+v", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{RetryMax: 5})
	var calls atomic.Int32
	_ = s.Dispatch(Task{Name: "permanent", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad chat"))
	}})
	waitIdle(t, s)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1", got)
	}
	if snap := s.Snapshot(); snap.Failed != 1 || snap.History[0].Error != "bad chat" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{RetryMax: -1})
	_ = s.Dispatch(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error {
		panic("kaboom")
	}})
	waitIdle(t, s)
	if h := s.Snapshot().History; len(h) != 1 || h[0].Error != "panic: kaboom" {
		t.Fatalf("history=%+v", h)
	}
}

func TestSkipIfRunningByName(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{})
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Dispatch(Task{Name: "reminder:1", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	if !s.Running("reminder:1") {
		t.Fatalf("expected reminder:1 running")
	}
	err := s.Dispatch(Task{Name: "reminder:1", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err=%v want ErrOverlapSkip", err)
	}
	if err := s.Dispatch(Task{Name: "reminder:2", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("other name blocked: %v", err)
	}
	close(release)
	waitIdle(t, s)
	if s.Snapshot().Skipped != 1 {
		t.Fatalf("skipped=%d", s.Snapshot().Skipped)
	}
}

func TestShutdownDoesNotCancelInFlight(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	_ = s.Dispatch(Task{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-release
		cancelled.Store(ctx.Err() != nil)
		return nil
	}})
	<-started
	s.Shutdown()
	if err := s.Dispatch(Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("late dispatch err=%v", err)
	}
	close(release)
	waitIdle(t, s)
	if cancelled.Load() {
		t.Fatalf("task context was cancelled by Shutdown")
	}
}

func TestConcurrencyGroupLimits(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{})
	var (
		mu       sync.Mutex
		cur, top int
	)
	for i := range 6 {
		_ = s.Dispatch(Task{
			Name:           "summary:" + string(rune('a'+i)),
			ConcurrencyKey: "llm",
			Opt:            TaskOptions{ConcurrencyLimit: 2},
			Run: func(context.Context) error {
				mu.Lock()
				cur++
				top = max(top, cur)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				cur--
				mu.Unlock()
				return nil
			},
		})
	}
	waitIdle(t, s)
	if top > 2 {
		t.Fatalf("max concurrency %d > 2", top)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(Config{}, logx.Nop(), bus)
	s.Start(context.Background())
	_ = s.Dispatch(Task{Name: "ok", Kind: "reminder", Run: func(context.Context) error { return nil }})
	waitIdle(t, s)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	if len(types) != 2 || types[0] != eventbus.TaskStarted || types[1] != eventbus.TaskFinished {
		t.Fatalf("events=%v", types)
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	opt := TaskOptions{RetryBase: time.Second, RetryMaxDelay: 10 * time.Second, RetryJitter: 0.0001}
	d := s.backoffDelay(opt, 1, RetryAfter(errors.New("429"), 4*time.Second))
	if d < 3900*time.Millisecond || d > 4100*time.Millisecond {
		t.Fatalf("delay=%s want ~4s", d)
	}
	d = s.backoffDelay(opt, 10, errors.New("x"))
	if d > 10*time.Second {
		t.Fatalf("delay=%s exceeds cap", d)
	}
}
