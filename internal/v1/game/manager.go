package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
	"github.com/crewmates-ai/game-master/internal/v1/tasks"
)

// Manager owns the set of live sessions and the player-to-session
// assignment. It registers itself as every session's event callback and
// forwards events downstream, so the hub learns about sessions before any
// subscriber does.
type Manager struct {
	mu         sync.Mutex
	settings   Settings
	ship       *shipmap.Map
	catalog    *tasks.Catalog
	sessions   map[string]*Session
	assignment map[string]string
	onEvent    func(Event)

	reapStop chan struct{}
	reapDone chan struct{}
}

// NewManager creates an empty manager. onEvent receives every event of
// every session and may be nil.
func NewManager(settings Settings, ship *shipmap.Map, catalog *tasks.Catalog, onEvent func(Event)) *Manager {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Manager{
		settings:   settings,
		ship:       ship,
		catalog:    catalog,
		sessions:   make(map[string]*Session),
		assignment: make(map[string]string),
		onEvent:    onEvent,
	}
}

// AssignLobby returns the session a joining player should be placed in:
// the smallest joinable lobby, or a fresh session when none has room. The
// assignment is recorded; callers that fail the subsequent Join must call
// Unassign.
func (m *Manager) AssignLobby(playerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Session
	bestCount := 0
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sess := m.sessions[id]
		if sess.Phase() != PhaseLobby {
			continue
		}
		count := sess.PlayerCount()
		if count >= m.settings.MaxPlayers {
			continue
		}
		if best == nil || count < bestCount {
			best, bestCount = sess, count
		}
	}

	if best == nil {
		best = m.createSessionLocked()
	}
	m.assignment[playerID] = best.ID
	return best
}

func (m *Manager) createSessionLocked() *Session {
	id := uuid.NewString()
	sess := NewSession(id, m.settings, m.ship, m.catalog, m.onEvent)
	m.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	logging.Info(context.Background(), "session created", zap.String("sessionId", id))
	return sess
}

// Lookup returns a session by id.
func (m *Manager) Lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// SessionFor returns the session a player belongs to. A missing or stale
// assignment is healed by scanning session membership, which covers the
// join race where the session admitted the player before the mapping
// landed.
func (m *Manager) SessionFor(playerID string) (*Session, bool) {
	m.mu.Lock()
	if id, ok := m.assignment[playerID]; ok {
		if sess, ok := m.sessions[id]; ok && sess.HasPlayer(playerID) {
			m.mu.Unlock()
			return sess, true
		}
		delete(m.assignment, playerID)
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	// Membership checks take each session's lock, so they happen outside
	// the manager lock.
	for _, sess := range sessions {
		if sess.HasPlayer(playerID) {
			m.mu.Lock()
			m.assignment[playerID] = sess.ID
			m.mu.Unlock()
			return sess, true
		}
	}
	return nil, false
}

// Unassign drops a player's session mapping, after a leave or a failed
// join.
func (m *Manager) Unassign(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignment, playerID)
}

// ReapEnded removes sessions that have been Ended for longer than grace.
// Returns how many were removed.
func (m *Manager) ReapEnded(grace time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	removed := 0
	for id, sess := range m.sessions {
		endedAt := sess.EndedAt()
		if endedAt.IsZero() || endedAt.After(cutoff) {
			continue
		}
		sess.Shutdown()
		delete(m.sessions, id)
		metrics.SessionPlayers.DeleteLabelValues(id)
		removed++
		logging.Info(context.Background(), "session reaped",
			zap.String("sessionId", id),
			zap.String("winner", sess.Winner()))
	}
	if removed > 0 {
		for playerID, sessionID := range m.assignment {
			if _, ok := m.sessions[sessionID]; !ok {
				delete(m.assignment, playerID)
			}
		}
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return removed
}

// StartReaper runs ReapEnded on a ticker until Shutdown.
func (m *Manager) StartReaper(interval, grace time.Duration) {
	m.mu.Lock()
	if m.reapStop != nil {
		m.mu.Unlock()
		return
	}
	m.reapStop = make(chan struct{})
	m.reapDone = make(chan struct{})
	stop, done := m.reapStop, m.reapDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ReapEnded(grace)
			case <-stop:
				return
			}
		}
	}()
}

// Counts returns session and player totals for health aggregates.
func (m *Manager) Counts() (sessions, players int) {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		list = append(list, sess)
	}
	m.mu.Unlock()

	for _, sess := range list {
		players += sess.PlayerCount()
	}
	return len(list), players
}

// Snapshot returns every session's debug state, keyed by session id.
func (m *Manager) Snapshot() map[string]any {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		list = append(list, sess)
	}
	m.mu.Unlock()

	out := make(map[string]any, len(list))
	for _, sess := range list {
		out[sess.ID] = sess.DebugState()
	}
	return out
}

// Reset drops every session and assignment. Debug use only.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.Shutdown()
		metrics.SessionPlayers.DeleteLabelValues(id)
	}
	m.sessions = make(map[string]*Session)
	m.assignment = make(map[string]string)
	metrics.ActiveSessions.Set(0)
	logging.Warn(context.Background(), "all sessions reset")
}

// Shutdown stops the reaper and cancels every session's timers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stop, done := m.reapStop, m.reapDone
	m.reapStop, m.reapDone = nil, nil
	list := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		list = append(list, sess)
	}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, sess := range list {
		sess.Shutdown()
	}
	return nil
}
