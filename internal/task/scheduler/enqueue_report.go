package scheduler

import (
	"errors"
	"time"

	"kosha/internal/task/engine"
	logx "kosha/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed dispatch, at most once per job per
// throttle window. Overlap skips are routine and stay at debug.
func (s *Service) reportEnqueueError(job string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("job trigger skipped; previous run still in flight", logx.String("job", job))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[job]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[job] = now
	s.enqMu.Unlock()

	s.log.Warn("job dispatch failed", logx.String("job", job), logx.Err(err))
}
