// Package game implements the per-session engine and the cross-session
// manager. A Session is the single authority over its players, roles,
// tasks, votes, and phase timers; every mutation happens under the
// session lock and successful mutations emit events through a callback
// registered at construction.
package game

import (
	"time"

	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhasePlaying    Phase = "playing"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseEnded      Phase = "ended"
)

// Role is a player's secret alignment. Unassigned until the game starts.
type Role string

const (
	RoleUnassigned Role = ""
	RoleCrewmate   Role = "crewmate"
	RoleImposter   Role = "imposter"
)

// Winner tags for ended sessions.
const (
	WinnerCrewmates = "crewmates"
	WinnerImposters = "imposters"
	WinnerNone      = "none"
)

// Visibility controls which subscribers may receive an event.
type Visibility string

const (
	// VisibilityPublic delivers to every subscriber of the session.
	VisibilityPublic Visibility = "public"
	// VisibilityImposters delivers only to the session's imposters. The
	// engine resolves the recipient list at emission time.
	VisibilityImposters Visibility = "imposters"
	// VisibilitySpecific delivers to exactly the listed recipients.
	VisibilitySpecific Visibility = "specific"
)

// EventType names. These strings are part of the client-facing contract.
type EventType string

const (
	EventPlayerJoined   EventType = "player-joined"
	EventPlayerLeft     EventType = "player-left"
	EventGameStarting   EventType = "game-starting"
	EventGameStarted    EventType = "game-started"
	EventRoleAssigned   EventType = "role-assigned"
	EventPlayerMoved    EventType = "player-moved"
	EventTaskStep       EventType = "task-step"
	EventTaskCompleted  EventType = "task-completed"
	EventPlayerKilled   EventType = "player-killed"
	EventVentUsed       EventType = "vent-used"
	EventSabotage       EventType = "sabotage-triggered"
	EventMeetingCalled  EventType = "meeting-called"
	EventVotingStarted  EventType = "voting-started"
	EventVoteCast       EventType = "vote-cast"
	EventPlayerEjected  EventType = "player-ejected"
	EventVotingResolved EventType = "voting-resolved"
	EventChatMessage    EventType = "chat-message"
	EventGameEnded      EventType = "game-ended"
)

// Event is what the engine hands to the hub. Payloads are plain maps so
// they serialize directly into stream frames.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"sessionId"`
	Timestamp  time.Time      `json:"timestamp"`
	Visibility Visibility     `json:"-"`
	Recipients []string       `json:"-"`
	Payload    map[string]any `json:"payload"`
}

// ResultKind classifies why an operation was rejected. The RPC layer maps
// kinds onto wire error codes.
type ResultKind string

const (
	KindOK            ResultKind = "ok"
	KindWrongPhase    ResultKind = "wrong_phase"
	KindUnknownPlayer ResultKind = "unknown_player"
	KindUnknownTarget ResultKind = "unknown_target"
	KindUnknownTask   ResultKind = "unknown_task"
	KindNotAllowed    ResultKind = "not_allowed"
	KindCooldown      ResultKind = "on_cooldown"
	KindSessionFull   ResultKind = "session_full"
	KindDuplicate     ResultKind = "duplicate"
	KindInvalidInput  ResultKind = "invalid_input"
)

// Result is the outcome of an engine operation. Operations never panic
// across the package boundary; a rejected Result carries the reason.
type Result struct {
	OK      bool           `json:"ok"`
	Kind    ResultKind     `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func accepted(message string, data map[string]any) Result {
	return Result{OK: true, Kind: KindOK, Message: message, Data: data}
}

func rejected(kind ResultKind, message string) Result {
	return Result{OK: false, Kind: kind, Message: message}
}

// Player is the engine's per-player record. Mutated only under the
// session lock.
type Player struct {
	ID      string
	Address string
	Name    string
	Role    Role
	Room    shipmap.RoomID
	Alive   bool

	// Tasks is the assigned task order; Completed and Steps track progress.
	Tasks     []string
	Completed map[string]bool
	Steps     map[string]int

	LastKill     time.Time
	MeetingsUsed int
	LastAction   time.Time
}

func (p *Player) assigned(taskID string) bool {
	for _, id := range p.Tasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// Settings are the per-session tunables, fixed at session creation.
type Settings struct {
	MinPlayers        int
	MaxPlayers        int
	ImposterRatio     float64
	TaskCount         int
	KillCooldown      time.Duration
	DiscussionTime    time.Duration
	VotingTime        time.Duration
	EmergencyMeetings int
	LobbyCountdown    time.Duration
}
