package engine

import (
	"context"
	"strings"
	"sync"
)

// groupSemaphore holds limit tokens. The limit is fixed at first use of a key.
type groupSemaphore struct {
	ch chan struct{}
}

func newGroupSemaphore(limit int) *groupSemaphore {
	g := &groupSemaphore{ch: make(chan struct{}, max(limit, 1))}
	for range cap(g.ch) {
		g.ch <- struct{}{}
	}
	return g
}

// acquire blocks for a token until ctx ends.
func (g *groupSemaphore) acquire(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *groupSemaphore) release() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

func groupKey(concurrencyKey, name string) string {
	if k := strings.TrimSpace(concurrencyKey); k != "" {
		return k
	}
	return strings.TrimSpace(name)
}

type groupStore struct {
	mu     sync.Mutex
	groups map[string]*groupSemaphore
}

func (s *groupStore) get(key string, limit int) *groupSemaphore {
	if limit <= 0 || key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups == nil {
		s.groups = make(map[string]*groupSemaphore)
	}
	g := s.groups[key]
	if g == nil {
		g = newGroupSemaphore(limit)
		s.groups[key] = g
	}
	return g
}
