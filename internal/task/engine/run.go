package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"kosha/internal/eventbus"
	logx "kosha/pkg/logx"
)

func (s *Service) run(ctx context.Context, stopCh <-chan struct{}, t Task, opt TaskOptions) {
	log := s.log.With(logx.String("task", t.Name), logx.String("id", t.ID))

	var groupWait time.Duration
	if g := s.groups.get(groupKey(t.ConcurrencyKey, t.Name), opt.ConcurrencyLimit); g != nil {
		waitStart := time.Now()
		if err := g.acquire(ctx); err != nil {
			log.Warn("task abandoned waiting for concurrency group", logx.String("group", t.ConcurrencyKey), logx.Err(err))
			return
		}
		defer g.release()
		groupWait = time.Since(waitStart)
	}

	start := time.Now()
	log.Debug("task.started", logx.Duration("group_wait", groupWait))
	eventbus.Emit(s.bus, eventbus.TaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Kind: t.Kind, Started: start, GroupWait: groupWait})

	var err error
	attempts := 0
	retries := max(opt.RetryMax, 0)
attemptLoop:
	for attempt := 1; attempt <= 1+retries; attempt++ {
		attempts = attempt
		err = s.attempt(ctx, t, log)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt > retries {
			break
		}

		delay := s.backoffDelay(opt, attempt, err)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		eventbus.Emit(s.bus, eventbus.TaskRetried, TaskEvent{ID: t.ID, Name: t.Name, Kind: t.Kind, Started: start, Attempts: attempt, Error: err.Error()})
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = errors.Join(err, ctx.Err())
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = fmt.Errorf("%w (engine stopping, retries abandoned)", err)
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Kind: t.Kind, Started: start, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Kind: t.Kind, Started: start, GroupWait: groupWait, Duration: dur, Attempts: attempts}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task.failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		eventbus.Emit(s.bus, eventbus.TaskFailed, ev)
	} else {
		if dur >= 750*time.Millisecond {
			log.Info("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			log.Debug("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		eventbus.Emit(s.bus, eventbus.TaskFinished, ev)
	}
	s.record(item)
}

// attempt runs t once, turning a panic into an error.
func (s *Service) attempt(ctx context.Context, t Task, log logx.Logger) (err error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}

// backoffDelay doubles RetryBase per retry up to RetryMaxDelay, honours a
// RetryAfter hint, and applies ±jitter.
func (s *Service) backoffDelay(opt TaskOptions, retry int, err error) time.Duration {
	d := opt.RetryBase
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, opt.RetryMaxDelay)

	s.rngMu.Lock()
	r := (s.rng.Float64()*2 - 1) * opt.RetryJitter
	s.rngMu.Unlock()
	d = time.Duration(float64(d) * (1 + r))
	return min(max(d, 0), opt.RetryMaxDelay)
}
