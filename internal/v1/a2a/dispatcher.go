package a2a

import (
	"fmt"
	"strings"

	"github.com/crewmates-ai/game-master/internal/v1/auth"
	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

// Skill ids. These are the ABI between agents and the server; the agent
// card advertises exactly this set.
const (
	SkillJoinGame     = "join-game"
	SkillLeaveGame    = "leave-game"
	SkillMoveToRoom   = "move-to-room"
	SkillCompleteTask = "complete-task"
	SkillKillPlayer   = "kill-player"
	SkillUseVent      = "use-vent"
	SkillSabotage     = "sabotage"
	SkillCallMeeting  = "call-meeting"
	SkillReportBody   = "report-body"
	SkillSendMessage  = "send-message"
	SkillVote         = "vote"
	SkillGetStatus    = "get-status"
)

// outcome is the dispatcher's answer: which skill ran, what the engine
// said, and which session it ran against. SessionID is empty when the
// player is not in a game.
type outcome struct {
	SkillID   string
	PlayerID  string
	SessionID string
	Result    game.Result
	// Left reports that the player was removed from their session, so the
	// caller can retire the task and its subscriptions.
	Left bool
}

// dispatcher routes verified skill invocations to engine operations.
type dispatcher struct {
	manager *game.Manager
}

// dispatch runs one verified invocation. Authentication has already
// happened; p.Address is trusted here.
func (d *dispatcher) dispatch(p *auth.SignedPayload, msg *Message) outcome {
	playerID := strings.ToLower(p.Address)
	skillID := p.SkillID
	if skillID == "" {
		skillID = inferSkill(msg.TextPart())
	}

	out := outcome{SkillID: skillID, PlayerID: playerID}
	data := p.SkillData

	if skillID == SkillJoinGame {
		name := stringField(msg.DataPart(), "playerName", "name")
		if name == "" {
			name = playerID
		}
		s := d.manager.AssignLobby(playerID)
		out.SessionID = s.ID
		out.Result = s.Join(playerID, p.Address, name)
		if !out.Result.OK && !s.HasPlayer(playerID) {
			d.manager.Unassign(playerID)
			out.SessionID = ""
		}
		return out
	}

	s, ok := d.manager.SessionFor(playerID)
	if !ok {
		out.Result = game.Result{
			Kind:    game.KindUnknownPlayer,
			Message: "you are not in any game, join first",
		}
		return out
	}
	out.SessionID = s.ID

	switch skillID {
	case SkillLeaveGame:
		out.Result = s.Leave(playerID)
		if out.Result.OK {
			d.manager.Unassign(playerID)
			out.Left = true
		}
	case SkillMoveToRoom:
		out.Result = s.Move(playerID, shipmap.RoomID(stringField(data, "targetRoom", "room")))
	case SkillCompleteTask:
		out.Result = s.CompleteTask(playerID,
			stringField(data, "taskId", "task"),
			stringField(data, "input", "answer", "step"))
	case SkillKillPlayer:
		out.Result = s.Kill(playerID, strings.ToLower(stringField(data, "targetPlayer", "target")))
	case SkillUseVent:
		out.Result = s.UseVent(playerID,
			stringField(data, "action"),
			shipmap.RoomID(stringField(data, "targetRoom", "room")))
	case SkillSabotage:
		out.Result = s.Sabotage(playerID, stringField(data, "system"))
	case SkillCallMeeting:
		out.Result = s.CallMeeting(playerID, "")
	case SkillReportBody:
		out.Result = s.CallMeeting(playerID, strings.ToLower(stringField(data, "bodyId", "body", "target")))
	case SkillSendMessage:
		out.Result = s.SendChat(playerID, stringField(data, "message", "text"))
	case SkillVote:
		out.Result = s.CastVote(playerID, normalizeVote(stringField(data, "target", "vote")))
	case SkillGetStatus:
		out.Result = s.Status(playerID)
	default:
		out.Result = game.Result{
			Kind:    game.KindInvalidInput,
			Message: fmt.Sprintf("UNKNOWN_SKILL: %q is not a skill this server offers", skillID),
		}
	}
	return out
}

// stringField returns the first of the named keys holding a non-empty
// string.
func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// normalizeVote lowercases player targets and maps the skip spelling.
func normalizeVote(target string) string {
	if strings.EqualFold(target, game.VoteSkip) {
		return game.VoteSkip
	}
	return strings.ToLower(target)
}

// inferenceRules map free-text keywords onto skills. First match wins;
// the order resolves overlaps like "report" before "call".
var inferenceRules = []struct {
	keyword string
	skill   string
}{
	{"join", SkillJoinGame},
	{"leave", SkillLeaveGame},
	{"quit", SkillLeaveGame},
	{"report", SkillReportBody},
	{"meeting", SkillCallMeeting},
	{"vote", SkillVote},
	{"kill", SkillKillPlayer},
	{"vent", SkillUseVent},
	{"sabotage", SkillSabotage},
	{"task", SkillCompleteTask},
	{"move", SkillMoveToRoom},
	{"go to", SkillMoveToRoom},
	{"say", SkillSendMessage},
	{"chat", SkillSendMessage},
	{"status", SkillGetStatus},
	{"where", SkillGetStatus},
}

// inferSkill guesses a skill from free text. Informational fallback only;
// it never overrides a skillId present in the data part.
func inferSkill(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range inferenceRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.skill
		}
	}
	return ""
}
