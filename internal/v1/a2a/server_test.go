package a2a

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmates-ai/game-master/internal/v1/auth"
	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/hub"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
	"github.com/crewmates-ai/game-master/internal/v1/tasks"
)

// registryStub registers every agent except the explicitly denied.
type registryStub struct {
	denied map[string]bool
}

func (r *registryStub) IsRegistered(_ context.Context, address string) (bool, error) {
	return !r.denied[strings.ToLower(address)], nil
}

type agent struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newAgent(t *testing.T) agent {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return agent{key: key, addr: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (a agent) playerID() string {
	return strings.ToLower(a.addr)
}

// message builds a signed invocation the way a client wallet would: the
// signature covers the canonical scope over the skill-specific fields only.
func (a agent) message(t *testing.T, skillID string, fields map[string]any) Message {
	return a.messageAt(t, skillID, fields, "", time.Now())
}

func (a agent) messageAt(t *testing.T, skillID string, fields map[string]any, text string, ts time.Time) Message {
	t.Helper()
	messageID := uuid.NewString()

	// The canonical scope excludes identity and auth fields (spec §4.4);
	// mirror the server's identityFields set when building the signed data.
	identityFields := map[string]bool{
		"agentId": true, "agentAddress": true, "agentDomain": true,
		"playerName": true, "signature": true, "timestamp": true, "skillId": true,
	}
	skillData := make(map[string]any, len(fields))
	for k, v := range fields {
		if identityFields[k] {
			continue
		}
		skillData[k] = v
	}
	payload, err := auth.CanonicalPayload(&auth.SignedPayload{
		MessageID: messageID,
		Timestamp: ts.UnixMilli(),
		SkillID:   skillID,
		SkillData: skillData,
	})
	require.NoError(t, err)

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(prefixed)), a.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	data := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		data[k] = v
	}
	data["agentAddress"] = a.addr
	data["timestamp"] = ts.UnixMilli()
	data["signature"] = "0x" + hex.EncodeToString(sig)
	if skillID != "" {
		data["skillId"] = skillID
	}

	parts := []Part{{Kind: "data", Data: data}}
	if text != "" {
		parts = append(parts, Part{Kind: "text", Text: text})
	}
	return Message{Kind: "message", Role: "user", MessageID: messageID, Parts: parts}
}

func testServer(t *testing.T) (*Server, *gin.Engine, *game.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	settings := game.Settings{
		MinPlayers:        3,
		MaxPlayers:        5,
		ImposterRatio:     0.34,
		TaskCount:         2,
		KillCooldown:      30 * time.Second,
		DiscussionTime:    time.Hour,
		VotingTime:        time.Hour,
		EmergencyMeetings: 1,
		LobbyCountdown:    10 * time.Millisecond,
	}
	h := hub.New()
	m := game.NewManager(settings, shipmap.New(), tasks.NewCatalog(), h.Broadcast)
	srv := NewServer(auth.NewVerifier(&registryStub{}), m, h)

	r := gin.New()
	r.POST("/a2a", srv.Handle)
	r.GET("/.well-known/agent-card.json", ServeCard(NewAgentCard("http://gm.test", "1.0.0")))

	t.Cleanup(func() {
		h.Shutdown()
		_ = m.Shutdown(context.Background())
	})
	return srv, r, m
}

func envelope(t *testing.T, id any, method string, params any) []byte {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	require.NoError(t, err)
	return body
}

func call(t *testing.T, r *gin.Engine, method string, params any) Response {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(envelope(t, 1, method, params)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func send(t *testing.T, r *gin.Engine, msg Message) Response {
	return call(t, r, "message/send", MessageSendParams{Message: msg})
}

func taskOf(t *testing.T, resp Response) Task {
	t.Helper()
	require.Nil(t, resp.Error, "expected a result, got error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var task Task
	require.NoError(t, json.Unmarshal(raw, &task))
	return task
}

func join(t *testing.T, r *gin.Engine, a agent, name string) Task {
	t.Helper()
	return taskOf(t, send(t, r, a.message(t, SkillJoinGame, map[string]any{"playerName": name})))
}

func errData(t *testing.T, resp Response) map[string]any {
	t.Helper()
	require.NotNil(t, resp.Error)
	data, _ := resp.Error.Data.(map[string]any)
	return data
}

func TestAgentCard(t *testing.T) {
	_, r, _ := testServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/agent-card.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var card AgentCard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, "http://gm.test/a2a", card.URL)
	assert.True(t, card.Capabilities.Streaming)
	assert.False(t, card.Capabilities.PushNotifications)
	require.Len(t, card.Skills, 12)

	ids := make(map[string]bool, len(card.Skills))
	for _, s := range card.Skills {
		ids[s.ID] = true
	}
	for _, want := range []string{
		SkillJoinGame, SkillLeaveGame, SkillMoveToRoom, SkillCompleteTask,
		SkillKillPlayer, SkillUseVent, SkillSabotage, SkillCallMeeting,
		SkillReportBody, SkillSendMessage, SkillVote, SkillGetStatus,
	} {
		assert.True(t, ids[want], "card is missing skill %s", want)
	}
	assert.Contains(t, card.SecuritySchemes, "signature")
}

func TestHandle_ParseError(t *testing.T) {
	_, r, _ := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/a2a", strings.NewReader("{not json"))
	r.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
}

func TestHandle_EnvelopeValidation(t *testing.T) {
	_, r, _ := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/a2a", strings.NewReader(`{"jsonrpc":"1.0","id":1,"method":"message/send"}`))
	r.ServeHTTP(w, req)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/a2a", strings.NewReader(`{"jsonrpc":"2.0","id":2}`))
	r.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestHandle_MethodNotFound(t *testing.T) {
	_, r, _ := testServer(t)
	resp := call(t, r, "tasks/list", map[string]any{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestSend_NoDataPart(t *testing.T) {
	_, r, _ := testServer(t)
	resp := send(t, r, Message{MessageID: "m-1", Role: "user", Parts: []Part{{Kind: "text", Text: "join"}}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestSend_TamperedSignatureLeavesStateUntouched(t *testing.T) {
	_, r, m := testServer(t)
	a := newAgent(t)

	msg := a.message(t, SkillJoinGame, map[string]any{"color": "red"})
	msg.Parts[0].Data["color"] = "blue"

	resp := send(t, r, msg)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "signature is from")

	sessions, players := m.Counts()
	assert.Zero(t, sessions)
	assert.Zero(t, players)
}

func TestSend_UnregisteredAgent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAgent(t)

	h := hub.New()
	defer h.Shutdown()
	m := game.NewManager(game.Settings{MinPlayers: 3, MaxPlayers: 5, ImposterRatio: 0.34, TaskCount: 2}, shipmap.New(), tasks.NewCatalog(), h.Broadcast)
	defer func() { _ = m.Shutdown(context.Background()) }()
	reg := &registryStub{denied: map[string]bool{a.playerID(): true}}
	srv := NewServer(auth.NewVerifier(reg), m, h)
	r := gin.New()
	r.POST("/a2a", srv.Handle)

	resp := send(t, r, a.message(t, SkillJoinGame, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "not registered")
}

func TestSend_StaleTimestamp(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)

	msg := a.messageAt(t, SkillJoinGame, nil, "", time.Now().Add(-6*time.Minute))
	resp := send(t, r, msg)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "message too old")
}

func TestJoinGame_CreatesTask(t *testing.T) {
	srv, r, m := testServer(t)
	a := newAgent(t)

	task := join(t, r, a, "Red")
	assert.Equal(t, "task", task.Kind)
	assert.Equal(t, TaskStateWorking, task.Status.State)
	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.ContextID)
	require.NotNil(t, task.Status.Message)
	assert.Contains(t, task.Status.Message.Parts[0].Text, "joined game")

	rec, ok := srv.store.forAgent(a.playerID())
	require.True(t, ok)
	assert.Equal(t, task.ID, rec.TaskID)

	sess, ok := m.SessionFor(a.playerID())
	require.True(t, ok)
	assert.Equal(t, task.ContextID, sess.ID)
}

func TestJoinGame_DuplicateIsDomainError(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)

	join(t, r, a, "Red")
	resp := send(t, r, a.message(t, SkillJoinGame, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInternalError, resp.Error.Code)
	assert.Equal(t, "duplicate", errData(t, resp)["kind"])
}

func TestSkillBeforeJoin(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)

	resp := send(t, r, a.message(t, SkillGetStatus, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "join first")
}

func TestUnknownSkill(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)

	join(t, r, a, "Red")
	resp := send(t, r, a.message(t, "self-destruct", nil))
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "UNKNOWN_SKILL")
}

func TestKeywordInference_JoinsFromText(t *testing.T) {
	_, r, m := testServer(t)
	a := newAgent(t)

	msg := a.messageAt(t, "", nil, "I would like to join the game please", time.Now())
	task := taskOf(t, send(t, r, msg))
	assert.Equal(t, TaskStateWorking, task.Status.State)

	_, ok := m.SessionFor(a.playerID())
	assert.True(t, ok)
}

func TestDomainError_WrongPhase(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)

	join(t, r, a, "Red")
	resp := send(t, r, a.message(t, SkillMoveToRoom, map[string]any{"targetRoom": "weapons"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInternalError, resp.Error.Code)
	assert.Equal(t, "wrong_phase", errData(t, resp)["kind"])
}

func TestGetStatus_AfterStart(t *testing.T) {
	_, r, m := testServer(t)
	agents := []agent{newAgent(t), newAgent(t), newAgent(t)}
	for i, a := range agents {
		join(t, r, a, fmt.Sprintf("P%d", i))
	}

	sess, ok := m.SessionFor(agents[0].playerID())
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.Phase() == game.PhasePlaying },
		time.Second, 5*time.Millisecond)

	task := taskOf(t, send(t, r, agents[0].message(t, SkillGetStatus, nil)))
	require.NotNil(t, task.Status.Message)
	var status map[string]any
	for _, p := range task.Status.Message.Parts {
		if p.Kind == "data" {
			status = p.Data
		}
	}
	require.NotNil(t, status)
	assert.Equal(t, "playing", status["phase"])
	assert.Equal(t, true, status["is_alive"])
	assert.Contains(t, status, "actions")
}

func TestLeaveGame_CompletesTask(t *testing.T) {
	srv, r, m := testServer(t)
	a := newAgent(t)

	task := join(t, r, a, "Red")
	left := taskOf(t, send(t, r, a.message(t, SkillLeaveGame, nil)))
	assert.Equal(t, task.ID, left.ID)
	assert.Equal(t, TaskStateCompleted, left.Status.State)

	_, ok := m.SessionFor(a.playerID())
	assert.False(t, ok)
	rec, _ := srv.store.get(task.ID)
	assert.Equal(t, TaskStateCompleted, rec.State)

	// A fresh join starts a new task.
	again := join(t, r, a, "Red")
	assert.NotEqual(t, task.ID, again.ID)
}

func TestTasksGet(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)
	task := join(t, r, a, "Red")

	resp := call(t, r, "tasks/get", TaskParams{ID: task.ID})
	got := taskOf(t, resp)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, TaskStateWorking, got.Status.State)
	require.NotNil(t, got.Status.Message, "working tasks carry a status projection")
}

func TestTasksGet_NotFound(t *testing.T) {
	_, r, _ := testServer(t)
	resp := call(t, r, "tasks/get", TaskParams{ID: "no-such-task"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeTaskNotFound, resp.Error.Code)
}

func TestTasksGet_OwnershipRejectsOtherSigner(t *testing.T) {
	_, r, _ := testServer(t)
	owner := newAgent(t)
	thief := newAgent(t)
	task := join(t, r, owner, "Red")

	proof := thief.message(t, SkillGetStatus, nil)
	resp := call(t, r, "tasks/get", TaskParams{ID: task.ID, Message: &proof})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "does not belong to")
}

func TestTasksCancel(t *testing.T) {
	_, r, m := testServer(t)
	a := newAgent(t)
	task := join(t, r, a, "Red")

	// Ownership proof is mandatory.
	resp := call(t, r, "tasks/cancel", TaskParams{ID: task.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	proof := a.message(t, SkillLeaveGame, nil)
	resp = call(t, r, "tasks/cancel", TaskParams{ID: task.ID, Message: &proof})
	got := taskOf(t, resp)
	assert.Equal(t, TaskStateCanceled, got.Status.State)

	_, ok := m.SessionFor(a.playerID())
	assert.False(t, ok, "cancel acts as leave")

	// A second cancel hits a terminal task.
	proof = a.message(t, SkillLeaveGame, nil)
	resp = call(t, r, "tasks/cancel", TaskParams{ID: task.ID, Message: &proof})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNotCancelable, resp.Error.Code)
}

// readFrame scans the SSE stream for the next data line and decodes the
// envelope it carries.
func readFrame(t *testing.T, br *bufio.Reader) Response {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			var resp Response
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &resp))
			return resp
		}
	}
}

func TestMessageStream(t *testing.T) {
	_, r, _ := testServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	streamer := newAgent(t)
	body := envelope(t, "req-1", "message/stream", MessageSendParams{Message: streamer.message(t, SkillJoinGame, map[string]any{"playerName": "Red"})})
	resp, err := http.Post(ts.URL+"/a2a", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	br := bufio.NewReader(resp.Body)

	// First frame is the task snapshot.
	first := readFrame(t, br)
	task := taskOf(t, first)
	assert.Equal(t, TaskStateWorking, task.Status.State)

	// A second player joining produces a public event on the stream.
	other := newAgent(t)
	sendResp, err := http.Post(ts.URL+"/a2a", "application/json",
		bytes.NewReader(envelope(t, 2, "message/send", MessageSendParams{Message: other.message(t, SkillJoinGame, map[string]any{"playerName": "Blue"})})))
	require.NoError(t, err)
	_ = sendResp.Body.Close()

	frame := readFrame(t, br)
	require.Nil(t, frame.Error)
	raw, err := json.Marshal(frame.Result)
	require.NoError(t, err)
	var ev StreamEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "status-update", ev.Kind)
	assert.Equal(t, task.ID, ev.TaskID)
	assert.Equal(t, "player-joined", ev.EventType)
	assert.False(t, ev.Final)
}

func TestMessageStream_LeaveEndsAfterSnapshot(t *testing.T) {
	srv, r, _ := testServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	a := newAgent(t)
	join(t, r, a, "Red")

	body := envelope(t, "req-2", "message/stream", MessageSendParams{Message: a.message(t, SkillLeaveGame, nil)})
	resp, err := http.Post(ts.URL+"/a2a", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// The departed player gets the settled snapshot and nothing more: the
	// stream closes instead of re-attaching a subscription.
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var frames []Response
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			var f Response
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &f))
			frames = append(frames, f)
		}
	}
	require.Len(t, frames, 1)
	task := taskOf(t, frames[0])
	assert.Equal(t, TaskStateCompleted, task.Status.State)

	assert.Zero(t, srv.hub.Count(), "no subscription survives the leave")
}

func TestTasksResubscribe(t *testing.T) {
	_, r, _ := testServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	a := newAgent(t)
	joinResp, err := http.Post(ts.URL+"/a2a", "application/json",
		bytes.NewReader(envelope(t, 1, "message/send", MessageSendParams{Message: a.message(t, SkillJoinGame, nil)})))
	require.NoError(t, err)
	var rpcResp Response
	require.NoError(t, json.NewDecoder(joinResp.Body).Decode(&rpcResp))
	_ = joinResp.Body.Close()
	task := taskOf(t, rpcResp)

	proof := a.message(t, SkillGetStatus, nil)
	resp, err := http.Post(ts.URL+"/a2a", "application/json",
		bytes.NewReader(envelope(t, 2, "tasks/resubscribe", TaskParams{ID: task.ID, Message: &proof})))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	first := readFrame(t, bufio.NewReader(resp.Body))
	snapshot := taskOf(t, first)
	assert.Equal(t, task.ID, snapshot.ID)
	assert.Equal(t, TaskStateWorking, snapshot.Status.State)
}

func TestTasksResubscribe_RequiresProof(t *testing.T) {
	_, r, _ := testServer(t)
	a := newAgent(t)
	task := join(t, r, a, "Red")

	resp := call(t, r, "tasks/resubscribe", TaskParams{ID: task.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}
