// Package debughttp serves the development-only introspection routes.
// Everything here exposes unredacted state, roles included; main registers
// these handlers only when DEVELOPMENT_MODE is set.
package debughttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

// Handler bundles the debug routes.
type Handler struct {
	manager *game.Manager
	ship    *shipmap.Map
}

// NewHandler creates the debug handler.
func NewHandler(manager *game.Manager, ship *shipmap.Map) *Handler {
	return &Handler{manager: manager, ship: ship}
}

// Register mounts the routes on the router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/debug/state", h.State)
	router.GET("/debug/players", h.Players)
	router.GET("/debug/ship", h.Ship)
	router.POST("/debug/reset", h.Reset)
}

// State handles GET /debug/state: every session, unredacted.
func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.Snapshot()})
}

// Players handles GET /debug/players: a flat player list across sessions.
func (h *Handler) Players(c *gin.Context) {
	players := make([]map[string]any, 0)
	for sessionID, state := range h.manager.Snapshot() {
		session, ok := state.(map[string]any)
		if !ok {
			continue
		}
		byID, ok := session["players"].(map[string]any)
		if !ok {
			continue
		}
		for playerID, p := range byID {
			entry, ok := p.(map[string]any)
			if !ok {
				continue
			}
			entry["playerId"] = playerID
			entry["sessionId"] = sessionID
			players = append(players, entry)
		}
	}
	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players)})
}

// Ship handles GET /debug/ship: the static room graph.
func (h *Handler) Ship(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":       h.ship.AllRooms(),
		"meetingRoom": h.ship.MeetingRoom(),
	})
}

// Reset handles POST /debug/reset: wipes every session and assignment.
func (h *Handler) Reset(c *gin.Context) {
	logging.Warn(c.Request.Context(), "debug reset requested")
	h.manager.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
