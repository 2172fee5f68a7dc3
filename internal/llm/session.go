package llm

import (
	"sync"
	"time"
)

const (
	RoleUser  = "user"
	RoleModel = "model"

	// maxTurns bounds the history replayed to the model per request.
	maxTurns = 40
)

type Turn struct {
	Role string
	Text string
}

// Sessions tracks the active multi-turn chat per chat id. A session idle for
// longer than the TTL is treated as ended.
type Sessions struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[int64]*session
}

type session struct {
	turns []Turn
	last  time.Time
}

// NewSessions uses a 30 minute TTL when ttl <= 0.
func NewSessions(ttl time.Duration, now func() time.Time) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{ttl: ttl, now: now, m: map[int64]*session{}}
}

func (s *Sessions) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Start begins a fresh session, discarding any previous history.
func (s *Sessions) Start(chatID int64) {
	s.mu.Lock()
	s.m[chatID] = &session{last: s.now()}
	s.mu.Unlock()
}

// End reports whether a live session was ended.
func (s *Sessions) End(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.liveLocked(chatID) != nil
	delete(s.m, chatID)
	return ok
}

func (s *Sessions) Active(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(chatID) != nil
}

// History returns a copy of the session's turns, or nil without a session.
func (s *Sessions) History(chatID int64) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.liveLocked(chatID)
	if ss == nil {
		return nil
	}
	return append([]Turn(nil), ss.turns...)
}

// Record appends one exchange. It is a no-op when the session ended while
// the request was in flight.
func (s *Sessions) Record(chatID int64, user, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.liveLocked(chatID)
	if ss == nil {
		return
	}
	ss.turns = append(ss.turns, Turn{Role: RoleUser, Text: user}, Turn{Role: RoleModel, Text: model})
	if len(ss.turns) > maxTurns {
		ss.turns = ss.turns[len(ss.turns)-maxTurns:]
	}
	ss.last = s.now()
}

// Sweep drops expired sessions and returns how many went.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.m {
		if s.liveLocked(id) == nil {
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// liveLocked returns the session, deleting it first if it expired.
func (s *Sessions) liveLocked(chatID int64) *session {
	ss := s.m[chatID]
	if ss == nil {
		return nil
	}
	if s.now().Sub(ss.last) > s.ttl {
		delete(s.m, chatID)
		return nil
	}
	return ss
}
