package live

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/metrics"
)

// ErrSessionLimit is returned by Add when the concurrent session cap is
// reached.
var ErrSessionLimit = errors.New("session limit reached")

const defaultSessionLimit = 32

// Manager tracks open sessions and bounds how many run at once. Every
// session drives synthesis, alignment and rendering, so an unbounded
// count would let websocket clients saturate the backends.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	limit    int
	log      zerolog.Logger
}

// NewManager creates an empty Manager admitting at most limit concurrent
// sessions. limit <= 0 selects the default of 32.
func NewManager(limit int, log zerolog.Logger) *Manager {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	return &Manager{
		sessions: make(map[string]*Session),
		limit:    limit,
		log:      log.With().Str("component", "live-manager").Logger(),
	}
}

// Add registers a session. On ErrSessionLimit the caller still owns the
// session and must close it.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	if len(m.sessions) >= m.limit {
		m.mu.Unlock()
		return ErrSessionLimit
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.LiveSessionsActive.Inc()
	m.log.Info().Str("session_id", s.ID).Msg("session opened")
	return nil
}

// Get returns the session for an ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deregisters a session. The caller closes it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		metrics.LiveSessionsActive.Dec()
		m.log.Info().Str("session_id", id).Msg("session closed")
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LiveSessionCount satisfies the stats interface used by the metrics
// collector.
func (m *Manager) LiveSessionCount() int { return m.Count() }

// CloseAll ends every session, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
		<-s.Done()
		metrics.LiveSessionsActive.Dec()
	}
}
