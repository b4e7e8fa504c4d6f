package game

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

const maxChatLength = 1000

// urgentSystems are the sabotage targets flagged urgent for clients.
var urgentSystems = map[string]bool{
	"oxygen":  true,
	"reactor": true,
}

// actorLocked resolves an alive player or the matching rejection.
func (s *Session) actorLocked(playerID string) (*Player, Result) {
	p, ok := s.players[playerID]
	if !ok {
		return nil, rejected(KindUnknownPlayer, "you are not in this game")
	}
	if !p.Alive {
		return nil, rejected(KindNotAllowed, "you are dead")
	}
	return p, Result{OK: true}
}

// Move walks a player to an adjacent room.
func (s *Session) Move(playerID string, target shipmap.RoomID) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only move while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	room, ok := s.ship.Room(target)
	if !ok {
		return rejected(KindUnknownTarget, fmt.Sprintf("unknown room %q", target))
	}
	if !s.ship.Adjacent(p.Room, target) {
		return rejected(KindNotAllowed, fmt.Sprintf("%s is not adjacent to %s", target, p.Room))
	}

	from := p.Room
	p.Room = target
	p.LastAction = s.now()

	s.emitLocked(EventPlayerMoved, VisibilityPublic, nil, map[string]any{
		"playerId": playerID,
		"from":     string(from),
		"to":       string(target),
	})

	return accepted(fmt.Sprintf("moved to %s", room.DisplayName), map[string]any{
		"location": string(target),
	})
}

// CompleteTask feeds one input string into the player's current step of a
// task. Prerequisite tasks must be finished first.
func (s *Session) CompleteTask(playerID, taskID, input string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only do tasks while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	if p.Role != RoleCrewmate {
		return rejected(KindNotAllowed, "imposters do not have tasks")
	}

	def, ok := s.catalog.Get(taskID)
	if !ok {
		return rejected(KindUnknownTask, fmt.Sprintf("unknown task %q", taskID))
	}
	if !p.assigned(taskID) {
		return rejected(KindNotAllowed, fmt.Sprintf("task %s is not assigned to you", taskID))
	}
	if p.Completed[taskID] {
		return rejected(KindDuplicate, fmt.Sprintf("task %s is already complete", taskID))
	}
	if p.Room != def.Room {
		return rejected(KindNotAllowed, fmt.Sprintf("task %s must be done in %s, you are in %s", taskID, def.Room, p.Room))
	}
	if def.Prerequisite != "" && !p.Completed[def.Prerequisite] {
		return rejected(KindNotAllowed, fmt.Sprintf("task %s requires completing %s first", taskID, def.Prerequisite))
	}

	v := s.catalog.Validate(taskID, input, p.Steps[taskID])
	if !v.Accepted {
		return rejected(KindInvalidInput, v.Message)
	}

	p.LastAction = s.now()
	if !v.Completed {
		p.Steps[taskID] = v.NextStep
		s.emitLocked(EventTaskStep, VisibilitySpecific, []string{playerID}, map[string]any{
			"playerId": playerID,
			"taskId":   taskID,
			"step":     v.NextStep,
			"message":  v.Message,
		})
		return accepted(v.Message, map[string]any{"taskId": taskID, "nextStep": v.NextStep})
	}

	p.Completed[taskID] = true
	done, total := s.taskProgressLocked()
	s.emitLocked(EventTaskCompleted, VisibilityPublic, nil, map[string]any{
		"playerId":       playerID,
		"taskId":         taskID,
		"tasksCompleted": done,
		"tasksTotal":     total,
	})
	s.checkWinLocked()

	return accepted(v.Message, map[string]any{
		"taskId":         taskID,
		"tasksCompleted": done,
		"tasksTotal":     total,
	})
}

// Kill lets an imposter eliminate a crewmate sharing their room, subject
// to the kill cooldown.
func (s *Session) Kill(playerID, targetID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only kill while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	if p.Role != RoleImposter {
		return rejected(KindNotAllowed, "only imposters can kill")
	}

	target, ok := s.players[targetID]
	if !ok {
		return rejected(KindUnknownTarget, fmt.Sprintf("no player %q in this game", targetID))
	}
	if !target.Alive {
		return rejected(KindNotAllowed, fmt.Sprintf("%s is already dead", target.Name))
	}
	if target.Role == RoleImposter {
		return rejected(KindNotAllowed, "cannot kill a fellow imposter")
	}
	if target.Room != p.Room {
		return rejected(KindNotAllowed, fmt.Sprintf("%s is not in your room", target.Name))
	}
	if !p.LastKill.IsZero() {
		if elapsed := s.now().Sub(p.LastKill); elapsed < s.settings.KillCooldown {
			remaining := s.settings.KillCooldown - elapsed
			return rejected(KindCooldown, fmt.Sprintf("kill on cooldown for another %.0fs", remaining.Seconds()))
		}
	}

	target.Alive = false
	s.bodies[targetID] = true
	p.LastKill = s.now()
	p.LastAction = p.LastKill

	// The killer is never named; only an ejection reveals a role.
	s.emitLocked(EventPlayerKilled, VisibilityPublic, nil, map[string]any{
		"playerId":   targetID,
		"playerName": target.Name,
		"roomId":     string(target.Room),
	})
	s.checkWinLocked()

	return accepted(fmt.Sprintf("killed %s", target.Name), map[string]any{
		"targetId": targetID,
	})
}

// UseVent moves an imposter through the vent network ("enter" with a
// target) or announces them surfacing ("exit").
func (s *Session) UseVent(playerID, action string, target shipmap.RoomID) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only vent while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	if p.Role != RoleImposter {
		return rejected(KindNotAllowed, "only imposters can use vents")
	}
	if !s.ship.HasVent(p.Room) {
		return rejected(KindNotAllowed, fmt.Sprintf("no vent in %s", p.Room))
	}

	switch action {
	case "enter":
		if !s.ship.VentAdjacent(p.Room, target) {
			return rejected(KindNotAllowed, fmt.Sprintf("no vent connection from %s to %s", p.Room, target))
		}
		from := p.Room
		p.Room = target
		p.LastAction = s.now()
		s.emitLocked(EventVentUsed, VisibilityImposters, nil, map[string]any{
			"playerId": playerID,
			"action":   action,
			"from":     string(from),
			"to":       string(target),
		})
		return accepted(fmt.Sprintf("vented to %s", target), map[string]any{"location": string(target)})

	case "exit":
		p.LastAction = s.now()
		s.emitLocked(EventVentUsed, VisibilityImposters, nil, map[string]any{
			"playerId": playerID,
			"action":   action,
			"from":     string(p.Room),
		})
		return accepted(fmt.Sprintf("exited vent in %s", p.Room), map[string]any{"location": string(p.Room)})

	default:
		return rejected(KindInvalidInput, fmt.Sprintf("vent action must be enter or exit, got %q", action))
	}
}

// Sabotage announces a system failure. Oxygen and reactor are flagged
// urgent; no countdown is run, clients decide how to respond.
func (s *Session) Sabotage(playerID, system string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only sabotage while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	if p.Role != RoleImposter {
		return rejected(KindNotAllowed, "only imposters can sabotage")
	}
	system = strings.ToLower(strings.TrimSpace(system))
	if system == "" {
		return rejected(KindInvalidInput, "sabotage requires a system name")
	}

	p.LastAction = s.now()
	s.emitLocked(EventSabotage, VisibilityPublic, nil, map[string]any{
		"system": system,
		"urgent": urgentSystems[system],
	})

	return accepted(fmt.Sprintf("sabotaged %s", system), map[string]any{
		"system": system,
		"urgent": urgentSystems[system],
	})
}

// CallMeeting starts a discussion, either by pressing the emergency
// button or by reporting a body found in the reporter's room. Everyone is
// teleported to the meeting room.
func (s *Session) CallMeeting(playerID, bodyID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return rejected(KindWrongPhase, "can only call a meeting while the game is in progress")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}

	meetingType := "emergency"
	payload := map[string]any{
		"calledBy":   playerID,
		"callerName": p.Name,
	}

	if bodyID == "" {
		room, _ := s.ship.Room(p.Room)
		if !room.HasEmergencyButton {
			return rejected(KindNotAllowed, fmt.Sprintf("the emergency button is in %s", s.ship.MeetingRoom()))
		}
		if p.MeetingsUsed >= s.settings.EmergencyMeetings {
			return rejected(KindNotAllowed, "no emergency meetings left")
		}
		p.MeetingsUsed++
	} else {
		meetingType = "body-report"
		body, ok := s.players[bodyID]
		if !ok {
			return rejected(KindUnknownTarget, fmt.Sprintf("no player %q in this game", bodyID))
		}
		if body.Alive {
			return rejected(KindNotAllowed, fmt.Sprintf("%s is not dead", body.Name))
		}
		if !s.bodies[bodyID] {
			return rejected(KindNotAllowed, fmt.Sprintf("%s's body was already reported", body.Name))
		}
		if body.Room != p.Room {
			return rejected(KindNotAllowed, fmt.Sprintf("%s's body is not in your room", body.Name))
		}
		payload["bodyId"] = bodyID
	}

	s.phase = PhaseDiscussion
	s.round++
	s.phaseStart = s.now()
	s.votes = make(map[string]string)
	for _, member := range s.players {
		member.Room = s.ship.MeetingRoom()
	}

	s.timerGen++
	gen := s.timerGen
	s.stopTimersLocked()
	s.phaseTimer = time.AfterFunc(s.settings.DiscussionTime, func() { s.endDiscussion(gen) })

	payload["type"] = meetingType
	payload["round"] = s.round
	payload["discussionTimeMs"] = s.settings.DiscussionTime.Milliseconds()
	s.emitLocked(EventMeetingCalled, VisibilityPublic, nil, payload)

	return accepted(fmt.Sprintf("%s meeting called, discussion for %s", meetingType, s.settings.DiscussionTime), map[string]any{
		"round": s.round,
	})
}

// endDiscussion moves Discussion to Voting when the timer fires.
func (s *Session) endDiscussion(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.phase != PhaseDiscussion {
		return
	}

	s.phase = PhaseVoting
	s.phaseStart = s.now()
	s.timerGen++
	voteGen := s.timerGen
	s.stopTimersLocked()
	s.phaseTimer = time.AfterFunc(s.settings.VotingTime, func() { s.endVoting(voteGen) })

	s.emitLocked(EventVotingStarted, VisibilityPublic, nil, map[string]any{
		"round":        s.round,
		"votingTimeMs": s.settings.VotingTime.Milliseconds(),
		"aliveCount":   s.aliveCountLocked(),
	})
}

// endVoting resolves votes when the voting timer fires.
func (s *Session) endVoting(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.phase != PhaseVoting {
		return
	}
	s.resolveVotesLocked()
}

// CastVote records a vote for a target or "skip". When every alive player
// has voted, the vote resolves immediately.
func (s *Session) CastVote(playerID, target string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseVoting {
		return rejected(KindWrongPhase, "voting is not open")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	if _, ok := s.votes[playerID]; ok {
		return rejected(KindDuplicate, "you already voted this round")
	}

	if target != VoteSkip {
		t, ok := s.players[target]
		if !ok {
			return rejected(KindUnknownTarget, fmt.Sprintf("no player %q in this game", target))
		}
		if !t.Alive {
			return rejected(KindNotAllowed, fmt.Sprintf("%s is already dead", t.Name))
		}
	}

	s.votes[playerID] = target
	p.LastAction = s.now()

	// Resolution clears the vote map, so the counts are captured first.
	votesCast := len(s.votes)
	alive := s.aliveCountLocked()
	s.emitLocked(EventVoteCast, VisibilityPublic, nil, map[string]any{
		"voterId":     playerID,
		"votesCast":   votesCast,
		"votesNeeded": alive,
	})

	if votesCast >= alive {
		s.resolveVotesLocked()
	}

	return accepted("vote recorded", map[string]any{
		"votesCast":   votesCast,
		"votesNeeded": alive,
	})
}

// VoteSkip is the reserved vote target meaning "eject nobody".
const VoteSkip = "skip"

// resolveVotesLocked applies plurality. A tie, or a plurality for skip,
// ejects nobody. An ejection reveals the ejected player's role.
func (s *Session) resolveVotesLocked() {
	tally := make(map[string]int)
	for _, target := range s.votes {
		// A vote for a player who has since left counts for nobody.
		if target != VoteSkip {
			if _, ok := s.players[target]; !ok {
				continue
			}
		}
		tally[target]++
	}

	var top string
	topCount, tie := 0, false
	targets := make([]string, 0, len(tally))
	for target := range tally {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		switch {
		case tally[target] > topCount:
			top, topCount, tie = target, tally[target], false
		case tally[target] == topCount:
			tie = true
		}
	}

	ejectedID := ""
	if !tie && top != VoteSkip && topCount > 0 {
		ejectedID = top
	}

	// The meeting is over: bodies are cleared, the next round starts clean.
	s.votes = make(map[string]string)
	s.bodies = make(map[string]bool)
	s.timerGen++
	s.stopTimersLocked()

	if ejectedID != "" {
		ejected := s.players[ejectedID]
		ejected.Alive = false
		s.emitLocked(EventPlayerEjected, VisibilityPublic, nil, map[string]any{
			"playerId":   ejectedID,
			"playerName": ejected.Name,
			"role":       string(ejected.Role),
			"votes":      tally,
			"round":      s.round,
		})
		if s.checkWinLocked() {
			return
		}
	} else {
		reason := "skipped"
		if tie {
			reason = "tie"
		}
		s.emitLocked(EventVotingResolved, VisibilityPublic, nil, map[string]any{
			"ejected": false,
			"reason":  reason,
			"votes":   tally,
			"round":   s.round,
		})
	}

	s.phase = PhasePlaying
	s.phaseStart = s.now()
}

// SendChat posts a message to the discussion.
func (s *Session) SendChat(playerID, message string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseDiscussion {
		return rejected(KindWrongPhase, "chat is only open during discussion")
	}
	p, res := s.actorLocked(playerID)
	if !res.OK {
		return res
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return rejected(KindInvalidInput, "message is empty")
	}
	if len(message) > maxChatLength {
		message = message[:maxChatLength]
	}

	p.LastAction = s.now()
	s.emitLocked(EventChatMessage, VisibilityPublic, nil, map[string]any{
		"playerId":   playerID,
		"playerName": p.Name,
		"message":    message,
		"round":      s.round,
	})

	return accepted("message sent", nil)
}
