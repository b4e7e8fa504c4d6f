package debughttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
	"github.com/crewmates-ai/game-master/internal/v1/tasks"
)

func testSettings() game.Settings {
	return game.Settings{
		MinPlayers:        5,
		MaxPlayers:        10,
		ImposterRatio:     0.2,
		TaskCount:         2,
		KillCooldown:      30 * time.Second,
		DiscussionTime:    time.Minute,
		VotingTime:        30 * time.Second,
		EmergencyMeetings: 1,
		LobbyCountdown:    time.Hour,
	}
}

func newDebugRouter(t *testing.T) (*gin.Engine, *game.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ship := shipmap.New()
	manager := game.NewManager(testSettings(), ship, tasks.NewCatalog(), nil)

	router := gin.New()
	NewHandler(manager, ship).Register(router)
	return router, manager
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestState_ListsSessions(t *testing.T) {
	router, manager := newDebugRouter(t)

	sess := manager.AssignLobby("p1")
	require.True(t, sess.Join("p1", "0xabc", "Red").OK)

	w := get(router, "/debug/state")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 1)
	assert.Contains(t, resp.Sessions, sess.ID)
}

func TestPlayers_FlattensAcrossSessions(t *testing.T) {
	router, manager := newDebugRouter(t)

	sess := manager.AssignLobby("p1")
	require.True(t, sess.Join("p1", "0xabc", "Red").OK)
	require.True(t, sess.Join("p2", "0xdef", "Blue").OK)

	w := get(router, "/debug/players")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Players []map[string]any `json:"players"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, p := range resp.Players {
		assert.Equal(t, sess.ID, p["sessionId"])
		assert.NotEmpty(t, p["playerId"])
	}
}

func TestShip_ReturnsRoomGraph(t *testing.T) {
	router, _ := newDebugRouter(t)

	w := get(router, "/debug/ship")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms       []shipmap.Room `json:"rooms"`
		MeetingRoom shipmap.RoomID `json:"meetingRoom"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Rooms, 14)
	assert.Equal(t, shipmap.Cafeteria, resp.MeetingRoom)
}

func TestReset_WipesState(t *testing.T) {
	router, manager := newDebugRouter(t)

	sess := manager.AssignLobby("p1")
	require.True(t, sess.Join("p1", "0xabc", "Red").OK)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debug/reset", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	sessions, players := manager.Counts()
	assert.Zero(t, sessions)
	assert.Zero(t, players)
}
