package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"kosha/internal/eventbus"
	logx "kosha/pkg/logx"
)

func validate(id JobID, cmd Command) error {
	if id.Kind == "" {
		return errors.New("job id kind required")
	}
	if cmd == nil {
		return fmt.Errorf("job %s: command required", id)
	}
	return nil
}

// ScheduleOnce fires cmd once at at. A time older than MisfireGrace is
// logged and ignored, leaving any existing registration for id alone.
// Otherwise it replaces whatever id was registered as.
func (s *Service) ScheduleOnce(id JobID, at time.Time, cmd Command) error {
	if err := validate(id, cmd); err != nil {
		return err
	}
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if at.Before(now.Add(-s.cfg.MisfireGrace)) {
		s.log.Warn("fire time already passed; not scheduling",
			logx.String("job", id.String()), logx.Time("at", at), logx.Duration("late", now.Sub(at)))
		eventbus.Emit(s.bus, eventbus.JobMisfired, id.String())
		return nil
	}
	r := &registration{id: id, cmd: cmd, trigger: TriggerOnce, at: at.In(s.cfg.Location)}
	s.replaceLocked(r)
	s.log.Debug("job registered", logx.String("job", id.String()), logx.String("trigger", "once"), logx.Time("at", r.at))
	return nil
}

// ScheduleDaily fires cmd every day at hour:minute in the scheduler zone.
func (s *Service) ScheduleDaily(id JobID, hour, minute int, cmd Command) error {
	spec, err := dailySpec(hour, minute)
	if err != nil {
		return err
	}
	return s.scheduleCron(id, spec, cmd)
}

// ScheduleHourlyWindow fires cmd at minute 0 of each hour in [start, end],
// wrapping midnight when end < start.
func (s *Service) ScheduleHourlyWindow(id JobID, start, end int, cmd Command) error {
	w := HourWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return err
	}
	return s.scheduleCron(id, w.Spec(), cmd)
}

func (s *Service) scheduleCron(id JobID, spec string, cmd Command) error {
	if err := validate(id, cmd); err != nil {
		return err
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: parse %q: %w", id, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(&registration{id: id, cmd: cmd, trigger: TriggerCron, spec: spec, sched: sched})
	s.log.Debug("job registered", logx.String("job", id.String()), logx.String("trigger", "cron"), logx.String("spec", spec))
	return nil
}

// replaceLocked swaps r in for any registration with the same id.
func (s *Service) replaceLocked(r *registration) {
	if old := s.jobs[r.id]; old != nil {
		s.disarmLocked(old)
	}
	s.ver++
	r.ver = s.ver
	s.jobs[r.id] = r
	if s.started {
		s.armLocked(r)
	}
	eventbus.Emit(s.bus, eventbus.JobScheduled, r.id.String())
}

func (s *Service) Remove(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.jobs[id]
	if r == nil {
		return false
	}
	s.disarmLocked(r)
	delete(s.jobs, id)
	s.log.Debug("job removed", logx.String("job", id.String()))
	eventbus.Emit(s.bus, eventbus.JobRemoved, id.String())
	return true
}

func (s *Service) Has(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// RunNow dispatches id's command immediately without touching its trigger.
func (s *Service) RunNow(id JobID) error {
	s.mu.Lock()
	r := s.jobs[id]
	cfg := s.cfg
	s.mu.Unlock()
	if r == nil {
		return fmt.Errorf("job %s not registered", id)
	}
	return s.dispatch(id, r.cmd, cfg)
}

// NextFires previews up to n fire times after from.
func (s *Service) NextFires(id JobID, from time.Time, n int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.jobs[id]
	if r == nil || n <= 0 {
		return nil
	}
	return nextFires(r, from.In(s.cfg.Location), n)
}

func nextFires(r *registration, from time.Time, n int) []time.Time {
	if r.trigger == TriggerOnce {
		if r.at.After(from) {
			return []time.Time{r.at}
		}
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for range n {
		t = r.sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// Jobs lists registrations ordered by next fire time.
func (s *Service) Jobs() []JobInfo {
	now := s.clk.Now()
	s.mu.Lock()
	loc := s.cfg.Location
	out := make([]JobInfo, 0, len(s.jobs))
	for _, r := range s.jobs {
		it := JobInfo{ID: r.id.String(), Kind: r.id.Kind, Trigger: r.trigger, Spec: r.spec, Command: r.cmd.CommandName()}
		if r.trigger == TriggerOnce {
			it.Next = r.at
		} else if next := nextFires(r, now.In(loc), 1); len(next) == 1 {
			it.Next = next[0]
		}
		if r.entryID != 0 && s.c != nil {
			it.Prev = s.c.Entry(r.entryID).Prev
		}
		out = append(out, it)
	}
	s.mu.Unlock()

	if s.engine != nil {
		for i := range out {
			out[i].Running = s.engine.Running(out[i].ID)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
