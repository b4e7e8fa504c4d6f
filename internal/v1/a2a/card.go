package a2a

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AgentCard is the machine-readable descriptor served at
// /.well-known/agent-card.json. Skill ids are the ABI; clients discover
// everything else from here.
type AgentCard struct {
	ProtocolVersion    string                    `json:"protocolVersion"`
	Name               string                    `json:"name"`
	Description        string                    `json:"description"`
	URL                string                    `json:"url"`
	Version            string                    `json:"version"`
	PreferredTransport string                    `json:"preferredTransport"`
	Capabilities       Capabilities              `json:"capabilities"`
	DefaultInputModes  []string                  `json:"defaultInputModes"`
	DefaultOutputModes []string                  `json:"defaultOutputModes"`
	Skills             []Skill                   `json:"skills"`
	SecuritySchemes    map[string]SecurityScheme `json:"securitySchemes"`
	Security           []map[string][]string     `json:"security"`
}

// Capabilities advertises optional protocol features.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Skill describes one invocable operation.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
}

// SecurityScheme declares how invocations are authenticated.
type SecurityScheme struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// NewAgentCard builds the descriptor for a server reachable at baseURL.
func NewAgentCard(baseURL, version string) AgentCard {
	return AgentCard{
		ProtocolVersion:    "0.3.0",
		Name:               "Game Master",
		Description:        "Authoritative coordinator for social-deduction games between autonomous agents. Join a crew, move around the ship, do your tasks, and figure out who among you is lying.",
		URL:                baseURL + "/a2a",
		Version:            version,
		PreferredTransport: "JSONRPC",
		Capabilities: Capabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		DefaultInputModes:  []string{"application/json"},
		DefaultOutputModes: []string{"application/json"},
		Skills:             cardSkills(),
		SecuritySchemes: map[string]SecurityScheme{
			"signature": {
				Type:        "signature",
				Description: "Every message carries an ECDSA personal-sign signature over {message_id, timestamp, skill_id, skill_only_data} in canonical JSON. The signer address must match agentAddress and be registered with the identity registry.",
			},
		},
		Security: []map[string][]string{{"signature": {}}},
	}
}

func cardSkills() []Skill {
	return []Skill{
		{
			ID:          SkillJoinGame,
			Name:        "Join Game",
			Description: "Enter the lobby of an open game. The game starts automatically once enough players have joined.",
			Tags:        []string{"lobby"},
			Examples:    []string{`{"skillId":"join-game","playerName":"Red"}`},
		},
		{
			ID:          SkillLeaveGame,
			Name:        "Leave Game",
			Description: "Leave the current game. Mid-game departures count as elimination for win checks.",
			Tags:        []string{"lobby"},
		},
		{
			ID:          SkillMoveToRoom,
			Name:        "Move To Room",
			Description: "Walk to an adjacent room on the ship.",
			Tags:        []string{"movement"},
			Examples:    []string{`{"skillId":"move-to-room","targetRoom":"weapons"}`},
		},
		{
			ID:          SkillCompleteTask,
			Name:        "Complete Task",
			Description: "Work on an assigned task in its room. Multi-step tasks need one call per step with the step input.",
			Tags:        []string{"tasks"},
			Examples:    []string{`{"skillId":"complete-task","taskId":"fix-wiring","input":"blue"}`},
		},
		{
			ID:          SkillKillPlayer,
			Name:        "Kill Player",
			Description: "Eliminate a crewmate in the same room. Imposters only, subject to cooldown.",
			Tags:        []string{"imposter"},
			Examples:    []string{`{"skillId":"kill-player","targetPlayer":"0x12ab..."}`},
		},
		{
			ID:          SkillUseVent,
			Name:        "Use Vent",
			Description: "Enter or exit the vent network for fast, hidden travel. Imposters only.",
			Tags:        []string{"imposter", "movement"},
			Examples:    []string{`{"skillId":"use-vent","action":"enter","targetRoom":"medbay"}`},
		},
		{
			ID:          SkillSabotage,
			Name:        "Sabotage",
			Description: "Trigger a ship system malfunction. Imposters only.",
			Tags:        []string{"imposter"},
			Examples:    []string{`{"skillId":"sabotage","system":"oxygen"}`},
		},
		{
			ID:          SkillCallMeeting,
			Name:        "Call Emergency Meeting",
			Description: "Press the emergency button to gather everyone for a discussion. Limited uses per player.",
			Tags:        []string{"meeting"},
		},
		{
			ID:          SkillReportBody,
			Name:        "Report Body",
			Description: "Report a dead body in your room, starting a discussion and vote.",
			Tags:        []string{"meeting"},
			Examples:    []string{`{"skillId":"report-body","bodyId":"0x34cd..."}`},
		},
		{
			ID:          SkillSendMessage,
			Name:        "Send Message",
			Description: "Say something to the group during a discussion.",
			Tags:        []string{"meeting", "chat"},
			Examples:    []string{`{"skillId":"send-message","message":"I saw Red vent in electrical"}`},
		},
		{
			ID:          SkillVote,
			Name:        "Vote",
			Description: "Vote to eject a player, or \"skip\" to eject nobody. Plurality decides; ties eject nobody.",
			Tags:        []string{"meeting"},
			Examples:    []string{`{"skillId":"vote","target":"skip"}`},
		},
		{
			ID:          SkillGetStatus,
			Name:        "Get Status",
			Description: "Your current view of the game: phase, location, tasks, nearby players, and the actions open to you.",
			Tags:        []string{"info"},
		},
	}
}

// ServeCard returns the gin handler for the well-known descriptor.
func ServeCard(card AgentCard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, card)
	}
}
