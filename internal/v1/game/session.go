package game

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
	"github.com/crewmates-ai/game-master/internal/v1/tasks"
)

// Session is one game. All operations serialize on mu; emit is invoked
// after the mutation is applied, still under the lock, so delivery order
// within a session equals mutation order.
type Session struct {
	ID string

	mu       sync.Mutex
	settings Settings
	ship     *shipmap.Map
	catalog  *tasks.Catalog
	emit     func(Event)

	phase      Phase
	round      int
	players    map[string]*Player
	imposters  map[string]bool
	bodies     map[string]bool
	votes      map[string]string
	winner     string
	phaseStart time.Time
	endedAt    time.Time

	// timerGen invalidates scheduled callbacks. Every phase change bumps
	// it; a timer that fires with a stale generation is a no-op.
	timerGen   int
	countdown  *time.Timer
	phaseTimer *time.Timer

	rng *rand.Rand
	now func() time.Time
}

// NewSession creates a session in Lobby phase. emit may be nil for
// sessions nobody listens to (tests).
func NewSession(id string, settings Settings, ship *shipmap.Map, catalog *tasks.Catalog, emit func(Event)) *Session {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Session{
		ID:        id,
		settings:  settings,
		ship:      ship,
		catalog:   catalog,
		emit:      emit,
		phase:     PhaseLobby,
		players:   make(map[string]*Player),
		imposters: make(map[string]bool),
		bodies:    make(map[string]bool),
		votes:     make(map[string]string),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// PlayerCount returns the number of players in the session.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// HasPlayer reports whether the player is a member of this session.
func (s *Session) HasPlayer(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[playerID]
	return ok
}

// Winner returns the winner tag, or "" while the game is running.
func (s *Session) Winner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}

// EndedAt returns when the session entered Ended, zero otherwise.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Shutdown cancels all timers. The session is unusable afterwards only in
// the sense that no timer-driven transition will fire.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerGen++
	s.stopTimersLocked()
}

// Join adds a player to the lobby. Once the minimum is reached a start
// countdown is scheduled; it is cancelled if a leave drops the lobby back
// below the minimum.
func (s *Session) Join(playerID, address, name string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLobby {
		return rejected(KindWrongPhase, "game already in progress")
	}
	if len(s.players) >= s.settings.MaxPlayers {
		return rejected(KindSessionFull, fmt.Sprintf("game is full (%d players)", s.settings.MaxPlayers))
	}
	if _, ok := s.players[playerID]; ok {
		return rejected(KindDuplicate, "already joined this game")
	}

	if name == "" {
		name = playerID
	}
	s.players[playerID] = &Player{
		ID:        playerID,
		Address:   address,
		Name:      name,
		Room:      s.ship.MeetingRoom(),
		Alive:     true,
		Completed: make(map[string]bool),
		Steps:     make(map[string]int),
	}
	metrics.SessionPlayers.WithLabelValues(s.ID).Set(float64(len(s.players)))

	s.emitLocked(EventPlayerJoined, VisibilityPublic, nil, map[string]any{
		"playerId":    playerID,
		"playerName":  name,
		"playerCount": len(s.players),
		"minPlayers":  s.settings.MinPlayers,
	})

	if len(s.players) >= s.settings.MinPlayers && s.countdown == nil {
		s.scheduleStartLocked()
	}

	return accepted(fmt.Sprintf("joined game %s as %s (%d/%d players)", s.ID, name, len(s.players), s.settings.MinPlayers), map[string]any{
		"gameId":      s.ID,
		"playerCount": len(s.players),
	})
}

// Leave removes a player. During an active game this can decide the
// outcome, so win conditions are re-checked.
func (s *Session) Leave(playerID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return rejected(KindUnknownPlayer, "you are not in this game")
	}

	delete(s.players, playerID)
	delete(s.imposters, playerID)
	delete(s.bodies, playerID)
	delete(s.votes, playerID)
	// Votes naming the leaver are void; their voters may vote again.
	for voter, target := range s.votes {
		if target == playerID {
			delete(s.votes, voter)
		}
	}
	metrics.SessionPlayers.WithLabelValues(s.ID).Set(float64(len(s.players)))

	s.emitLocked(EventPlayerLeft, VisibilityPublic, nil, map[string]any{
		"playerId":    playerID,
		"playerName":  p.Name,
		"playerCount": len(s.players),
	})

	switch s.phase {
	case PhaseLobby:
		if len(s.players) < s.settings.MinPlayers && s.countdown != nil {
			s.timerGen++
			s.countdown.Stop()
			s.countdown = nil
		}
	case PhasePlaying, PhaseDiscussion:
		s.checkWinLocked()
	case PhaseVoting:
		if !s.checkWinLocked() && len(s.votes) >= s.aliveCountLocked() {
			s.resolveVotesLocked()
		}
	}

	if len(s.players) == 0 && s.phase != PhaseEnded {
		s.endLocked(WinnerNone, "all players left")
	}

	return accepted("left the game", nil)
}

// Start begins the game immediately, without waiting for the countdown.
func (s *Session) Start() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() Result {
	if s.phase != PhaseLobby {
		return rejected(KindWrongPhase, "game already started")
	}
	if len(s.players) < s.settings.MinPlayers {
		return rejected(KindNotAllowed, fmt.Sprintf("need %d players to start, have %d", s.settings.MinPlayers, len(s.players)))
	}

	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i := len(ids) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}

	imposterCount := int(math.Floor(float64(len(ids)) * s.settings.ImposterRatio))
	if imposterCount < 1 {
		imposterCount = 1
	}

	for i, id := range ids {
		p := s.players[id]
		p.Alive = true
		p.Room = s.ship.MeetingRoom()
		if i < imposterCount {
			p.Role = RoleImposter
			s.imposters[id] = true
		} else {
			p.Role = RoleCrewmate
			p.Tasks = s.catalog.AssignRandom(s.settings.TaskCount, s.rng)
		}
	}

	s.phase = PhasePlaying
	s.round = 1
	s.phaseStart = s.now()
	s.timerGen++
	s.stopTimersLocked()

	logging.Info(context.Background(), "game started",
		zap.String("sessionId", s.ID),
		zap.Int("players", len(ids)),
		zap.Int("imposters", imposterCount))

	s.emitLocked(EventGameStarted, VisibilityPublic, nil, map[string]any{
		"playerCount":   len(ids),
		"imposterCount": imposterCount,
		"round":         s.round,
	})

	// One role event per player keeps roles secret; imposters learn each
	// other only through their own event.
	for _, id := range ids {
		p := s.players[id]
		payload := map[string]any{
			"playerId": id,
			"role":     string(p.Role),
		}
		if p.Role == RoleImposter {
			var others []string
			for other := range s.imposters {
				if other != id {
					others = append(others, other)
				}
			}
			sort.Strings(others)
			payload["otherImposters"] = others
		} else {
			payload["taskIds"] = append([]string(nil), p.Tasks...)
		}
		s.emitLocked(EventRoleAssigned, VisibilitySpecific, []string{id}, payload)
	}

	return accepted("game started", map[string]any{"round": s.round})
}

// scheduleStartLocked arms the lobby auto-start countdown.
func (s *Session) scheduleStartLocked() {
	gen := s.timerGen
	delay := s.settings.LobbyCountdown
	s.countdown = time.AfterFunc(delay, func() { s.autoStart(gen) })

	s.emitLocked(EventGameStarting, VisibilityPublic, nil, map[string]any{
		"playerCount": len(s.players),
		"startsInMs":  delay.Milliseconds(),
	})
}

func (s *Session) autoStart(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.phase != PhaseLobby || len(s.players) < s.settings.MinPlayers {
		return
	}
	s.countdown = nil
	s.startLocked()
}

func (s *Session) stopTimersLocked() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
		s.phaseTimer = nil
	}
}

// emitLocked stamps and delivers an event. Caller must hold s.mu; the
// emit callback must not call back into the session.
func (s *Session) emitLocked(t EventType, vis Visibility, recipients []string, payload map[string]any) {
	if vis == VisibilityImposters {
		recipients = recipients[:0]
		for id := range s.imposters {
			recipients = append(recipients, id)
		}
		sort.Strings(recipients)
	}
	metrics.EventsEmitted.WithLabelValues(string(t)).Inc()
	s.emit(Event{
		Type:       t,
		SessionID:  s.ID,
		Timestamp:  s.now(),
		Visibility: vis,
		Recipients: recipients,
		Payload:    payload,
	})
}

func (s *Session) aliveCountLocked() int {
	n := 0
	for _, p := range s.players {
		if p.Alive {
			n++
		}
	}
	return n
}

func (s *Session) aliveRolesLocked() (crew, imposters int) {
	for _, p := range s.players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleImposter {
			imposters++
		} else {
			crew++
		}
	}
	return crew, imposters
}

// taskProgressLocked counts completed vs assigned task instances across
// all crewmates, dead or alive.
func (s *Session) taskProgressLocked() (done, total int) {
	for _, p := range s.players {
		if p.Role != RoleCrewmate {
			continue
		}
		total += len(p.Tasks)
		done += len(p.Completed)
	}
	return done, total
}

// checkWinLocked evaluates the win conditions in precedence order: crew
// task completion, then imposter parity, then imposter elimination.
// Returns true if the game ended.
func (s *Session) checkWinLocked() bool {
	if s.phase == PhaseEnded || s.phase == PhaseLobby {
		return s.phase == PhaseEnded
	}

	done, total := s.taskProgressLocked()
	if total > 0 && done == total {
		s.endLocked(WinnerCrewmates, "all tasks completed")
		return true
	}

	crew, imposters := s.aliveRolesLocked()
	if imposters > 0 && imposters >= crew {
		s.endLocked(WinnerImposters, "imposters reached parity")
		return true
	}
	if imposters == 0 {
		s.endLocked(WinnerCrewmates, "all imposters eliminated")
		return true
	}
	return false
}

func (s *Session) endLocked(winner, reason string) {
	s.phase = PhaseEnded
	s.winner = winner
	s.endedAt = s.now()
	s.timerGen++
	s.stopTimersLocked()

	roles := make(map[string]string, len(s.players))
	for id, p := range s.players {
		roles[id] = string(p.Role)
	}

	logging.Info(context.Background(), "game ended",
		zap.String("sessionId", s.ID),
		zap.String("winner", winner),
		zap.String("reason", reason))

	s.emitLocked(EventGameEnded, VisibilityPublic, nil, map[string]any{
		"winner": winner,
		"reason": reason,
		"roles":  roles,
	})
}
