package game

import (
	"sort"

	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

// Status returns a role-aware projection of the session for one player.
// Dead players may still ask; the projection is read-only.
func (s *Session) Status(playerID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return rejected(KindUnknownPlayer, "you are not in this game")
	}

	room, _ := s.ship.Room(p.Room)
	alive := s.aliveCountLocked()

	var nearby []string
	for id, other := range s.players {
		if id != playerID && other.Alive && other.Room == p.Room {
			nearby = append(nearby, id)
		}
	}
	sort.Strings(nearby)

	completed := make([]string, 0, len(p.Completed))
	for id := range p.Completed {
		completed = append(completed, id)
	}
	sort.Strings(completed)

	status := map[string]any{
		"game_id":            s.ID,
		"phase":              string(s.phase),
		"round":              s.round,
		"is_alive":           p.Alive,
		"role":               string(p.Role),
		"location":           string(p.Room),
		"room_name":          room.DisplayName,
		"nearby_players":     nearby,
		"task_ids":           append([]string(nil), p.Tasks...),
		"completed_task_ids": completed,
		"players_alive":      alive,
		"players_total":      len(s.players),
	}

	if p.Role == RoleCrewmate {
		done, total := s.taskProgressLocked()
		status["tasks_remaining"] = total - done
	}
	if p.Role == RoleImposter {
		_, imposters := s.aliveRolesLocked()
		status["imposters_remaining"] = imposters
		canKill, remaining := s.killReadinessLocked(p)
		status["can_kill"] = canKill
		status["kill_cooldown_s"] = remaining
	}

	status["actions"] = s.actionsLocked(p)

	return accepted("status", status)
}

// killReadinessLocked reports whether the cooldown allows a kill and how
// many seconds remain otherwise.
func (s *Session) killReadinessLocked(p *Player) (bool, int) {
	if p.LastKill.IsZero() {
		return true, 0
	}
	elapsed := s.now().Sub(p.LastKill)
	if elapsed >= s.settings.KillCooldown {
		return true, 0
	}
	return false, int((s.settings.KillCooldown - elapsed).Seconds()) + 1
}

// actionsLocked enumerates what the player could do right now. It mirrors
// the action contracts so clients never have to guess.
func (s *Session) actionsLocked(p *Player) map[string]any {
	actions := map[string]any{
		"can_move":         []string{},
		"can_do_tasks":     []string{},
		"can_kill":         false,
		"kill_targets":     []string{},
		"can_vent":         false,
		"vent_targets":     []string{},
		"can_call_meeting": false,
		"can_report_body":  false,
		"dead_bodies":      []string{},
		"can_vote":         false,
	}
	if !p.Alive {
		return actions
	}

	switch s.phase {
	case PhasePlaying:
		moves := make([]string, 0, 4)
		for _, id := range s.ship.AdjacentRooms(p.Room) {
			moves = append(moves, string(id))
		}
		actions["can_move"] = moves

		if p.Role == RoleCrewmate {
			doable := []string{}
			for _, taskID := range p.Tasks {
				if p.Completed[taskID] {
					continue
				}
				def, ok := s.catalog.Get(taskID)
				if !ok || def.Room != p.Room {
					continue
				}
				if def.Prerequisite != "" && !p.Completed[def.Prerequisite] {
					continue
				}
				doable = append(doable, taskID)
			}
			actions["can_do_tasks"] = doable
		}

		if p.Role == RoleImposter {
			ready, _ := s.killReadinessLocked(p)
			targets := []string{}
			for id, other := range s.players {
				if other.Alive && other.Role == RoleCrewmate && other.Room == p.Room && id != p.ID {
					targets = append(targets, id)
				}
			}
			sort.Strings(targets)
			actions["can_kill"] = ready && len(targets) > 0
			actions["kill_targets"] = targets

			if s.ship.HasVent(p.Room) {
				vents := make([]string, 0, 2)
				for _, id := range s.ship.VentTargets(p.Room) {
					vents = append(vents, string(id))
				}
				actions["can_vent"] = true
				actions["vent_targets"] = vents
			}
		}

		room, _ := s.ship.Room(p.Room)
		actions["can_call_meeting"] = room.HasEmergencyButton && p.MeetingsUsed < s.settings.EmergencyMeetings

		bodies := []string{}
		for id := range s.bodies {
			if body, ok := s.players[id]; ok && body.Room == p.Room {
				bodies = append(bodies, id)
			}
		}
		sort.Strings(bodies)
		actions["can_report_body"] = len(bodies) > 0
		actions["dead_bodies"] = bodies

	case PhaseVoting:
		_, voted := s.votes[p.ID]
		actions["can_vote"] = !voted
	}

	return actions
}

// DebugState is an unredacted snapshot for the development-only debug
// routes. Never expose it on an authenticated surface.
func (s *Session) DebugState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make(map[string]any, len(s.players))
	for id, p := range s.players {
		players[id] = map[string]any{
			"name":         p.Name,
			"address":      p.Address,
			"role":         string(p.Role),
			"room":         string(p.Room),
			"alive":        p.Alive,
			"tasks":        append([]string(nil), p.Tasks...),
			"completed":    len(p.Completed),
			"meetingsUsed": p.MeetingsUsed,
		}
	}

	done, total := s.taskProgressLocked()
	return map[string]any{
		"sessionId":      s.ID,
		"phase":          string(s.phase),
		"round":          s.round,
		"winner":         s.winner,
		"players":        players,
		"votesCast":      len(s.votes),
		"bodies":         len(s.bodies),
		"tasksCompleted": done,
		"tasksTotal":     total,
	}
}

// RoomOf returns the player's current room, for tests and debug output.
func (s *Session) RoomOf(playerID string) (shipmap.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return "", false
	}
	return p.Room, true
}
