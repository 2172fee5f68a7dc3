package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	started, tz := s.started, s.cfg.Location.String()
	s.mu.Unlock()
	snap := Snapshot{Started: started, Timezone: tz, Jobs: s.Jobs()}
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
