package state

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dpoc-dashboard/internal/gate"
)

// Session is one browser session: its access gate and per-tab copy
// indicators. Sessions live only in memory.
type Session struct {
	ID      string
	Gate    *gate.Gate
	Created time.Time

	mu         sync.Mutex
	lastSeen   time.Time
	indicators map[string]*Indicator
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Indicator returns the copy indicator of tab, or nil for an unknown tab.
func (s *Session) Indicator(tab string) *Indicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicators[strings.ToLower(tab)]
}

func (s *Session) stopIndicators() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range s.indicators {
		ind.Stop()
	}
}

// GateFactory builds the gate of a new session.
type GateFactory func(sessionID string) *gate.Gate

// IndicatorFactory builds the copy indicator of one tab of a new session.
type IndicatorFactory func(sessionID, tab string) *Indicator

// Store holds the live sessions. An AUTHENTICATED session expires after idle
// without requests; any other session after pendingIdle.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idle        time.Duration
	pendingIdle time.Duration
	tabs        []string
	newGate     GateFactory
	newInd      IndicatorFactory
	onEvict     func(id string)
	now         func() time.Time
}

// NewStore returns an empty store. onEvict, if set, runs after a session is
// removed for any reason.
func NewStore(idle, pendingIdle time.Duration, tabs []string, newGate GateFactory, newInd IndicatorFactory, onEvict func(id string)) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		idle:        idle,
		pendingIdle: pendingIdle,
		tabs:        tabs,
		newGate:     newGate,
		newInd:      newInd,
		onEvict:     onEvict,
		now:         time.Now,
	}
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	limit := s.pendingIdle
	if sess.Gate.State() == gate.Authenticated {
		limit = s.idle
	}
	return now.Sub(sess.LastSeen()) > limit
}

// Get returns the live session with id and marks it as seen.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(sess, now) {
		s.Delete(id)
		return nil, false
	}
	sess.touch(now)
	return sess, true
}

// Create starts a new session with a fresh gate in CHECKING_IP.
func (s *Store) Create() *Session {
	id := uuid.NewString()
	now := s.now()
	sess := &Session{
		ID:         id,
		Created:    now,
		lastSeen:   now,
		indicators: make(map[string]*Indicator, len(s.tabs)),
	}
	sess.Gate = s.newGate(id)
	for _, tab := range s.tabs {
		sess.indicators[tab] = s.newInd(id, tab)
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.stopIndicators()
	if s.onEvict != nil {
		s.onEvict(id)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// GC drops expired sessions and returns how many were removed.
func (s *Store) GC() int {
	now := s.now()
	var stale []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range stale {
		s.Delete(id)
	}
	return len(stale)
}
