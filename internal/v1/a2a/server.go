package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/auth"
	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/hub"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

// Server is the JSON-RPC endpoint. It authenticates every skill
// invocation, routes it through the dispatcher, and owns the task
// records that tie agents to their game sessions.
type Server struct {
	verifier *auth.Verifier
	manager  *game.Manager
	hub      *hub.Hub
	store    *taskStore
	disp     *dispatcher
}

// NewServer wires the RPC surface to its collaborators.
func NewServer(verifier *auth.Verifier, manager *game.Manager, h *hub.Hub) *Server {
	return &Server{
		verifier: verifier,
		manager:  manager,
		hub:      h,
		store:    newTaskStore(),
		disp:     &dispatcher{manager: manager},
	}
}

// Handle serves POST /a2a. Every response, including errors, is a
// well-formed JSON-RPC envelope.
func (s *Server) Handle(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RPCRequests.WithLabelValues("unknown", "error").Inc()
		c.JSON(http.StatusOK, errorResponse(nil, codeParseError, "parse error", err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		metrics.RPCRequests.WithLabelValues("unknown", "error").Inc()
		c.JSON(http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\"", nil))
		return
	}
	if req.Method == "" {
		metrics.RPCRequests.WithLabelValues("unknown", "error").Inc()
		c.JSON(http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "method is required", nil))
		return
	}

	ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, uuid.NewString())
	start := time.Now()
	defer func() {
		metrics.RPCDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	switch req.Method {
	case "message/send":
		s.respond(c, req.Method, s.handleSend(ctx, req))
	case "message/stream":
		s.handleStream(ctx, c, req)
	case "tasks/get":
		s.respond(c, req.Method, s.handleTaskGet(ctx, req))
	case "tasks/cancel":
		s.respond(c, req.Method, s.handleTaskCancel(ctx, req))
	case "tasks/resubscribe":
		s.handleResubscribe(ctx, c, req)
	default:
		s.respond(c, req.Method, errorResponse(req.ID,
			codeMethodNotFound, fmt.Sprintf("method %q is not supported", req.Method), nil))
	}
}

func (s *Server) respond(c *gin.Context, method string, resp Response) {
	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	metrics.RPCRequests.WithLabelValues(method, status).Inc()
	c.JSON(http.StatusOK, resp)
}

// authenticate parses and verifies the signed message. A non-nil Response
// is the invalid-params rejection to return; nothing has been mutated.
func (s *Server) authenticate(ctx context.Context, id any, msg *Message) (*auth.SignedPayload, *Response) {
	data := msg.DataPart()
	if data == nil {
		resp := errorResponse(id, codeInvalidParams, "message has no data part", nil)
		return nil, &resp
	}
	payload, err := auth.FromDataPart(msg.MessageID, data)
	if err != nil {
		resp := errorResponse(id, codeInvalidParams, err.Error(), nil)
		return nil, &resp
	}
	if err := s.verifier.Verify(ctx, payload); err != nil {
		logging.Warn(ctx, "message rejected",
			zap.String("agentAddress", logging.RedactAddress(payload.Address)),
			zap.String("skillId", payload.SkillID),
			zap.Error(err))
		resp := errorResponse(id, codeInvalidParams, err.Error(), nil)
		return nil, &resp
	}
	return payload, nil
}

// execute authenticates and dispatches one skill invocation, then settles
// the task record. Shared by message/send and message/stream.
func (s *Server) execute(ctx context.Context, id any, msg *Message) (outcome, taskRecord, *Response) {
	payload, reject := s.authenticate(ctx, id, msg)
	if reject != nil {
		return outcome{}, taskRecord{}, reject
	}

	ctx = context.WithValue(ctx, logging.AgentIDKey, logging.RedactAddress(payload.Address))
	out := s.disp.dispatch(payload, msg)

	logging.Info(ctx, "skill dispatched",
		zap.String("skillId", out.SkillID),
		zap.String("sessionId", out.SessionID),
		zap.Bool("ok", out.Result.OK),
		zap.String("kind", string(out.Result.Kind)))

	if !out.Result.OK {
		resp := resultError(id, out.SkillID, out.Result)
		return out, taskRecord{}, &resp
	}

	rec := s.settleTask(out)
	return out, rec, nil
}

// settleTask keeps the task record in step with the engine after a
// successful skill invocation.
func (s *Server) settleTask(out outcome) taskRecord {
	if out.Left {
		rec, ok := s.store.forAgent(out.PlayerID)
		if !ok {
			return taskRecord{AgentID: out.PlayerID, SessionID: out.SessionID, State: TaskStateCompleted}
		}
		rec, _ = s.store.setState(rec.TaskID, TaskStateCompleted)
		s.hub.CloseTask(rec.TaskID)
		return rec
	}

	rec, ok := s.store.forAgent(out.PlayerID)
	if !ok {
		rec = *s.store.create(out.PlayerID, out.PlayerID, out.SessionID)
	}

	// A skill that ended the game retires every task of the session.
	if sess, found := s.manager.Lookup(out.SessionID); found && sess.Phase() == game.PhaseEnded {
		s.store.completeSession(out.SessionID, TaskStateCompleted)
		rec.State = TaskStateCompleted
	}
	return rec
}

func (s *Server) handleSend(ctx context.Context, req Request) Response {
	var params MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params.message with parts is required", nil)
	}

	out, rec, reject := s.execute(ctx, req.ID, &params.Message)
	if reject != nil {
		return *reject
	}
	return successResponse(req.ID, s.taskResult(rec, out))
}

// taskResult renders the task snapshot carrying the engine's reply.
func (s *Server) taskResult(rec taskRecord, out outcome) Task {
	reply := agentMessage(uuid.NewString(), rec.TaskID, rec.SessionID, out.Result.Message, out.Result.Data)
	return Task{
		Kind:      "task",
		ID:        rec.TaskID,
		ContextID: rec.SessionID,
		Status: TaskStatus{
			State:     rec.State,
			Message:   reply,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// taskSnapshot renders the current state of a task. When the owner is
// still seated in a live session, the snapshot carries a fresh status
// projection.
func (s *Server) taskSnapshot(rec taskRecord) Task {
	task := Task{
		Kind:      "task",
		ID:        rec.TaskID,
		ContextID: rec.SessionID,
		Status: TaskStatus{
			State:     rec.State,
			Timestamp: rec.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}
	if rec.State != TaskStateWorking {
		return task
	}
	sess, ok := s.manager.Lookup(rec.SessionID)
	if !ok || !sess.HasPlayer(rec.AgentID) {
		return task
	}
	if res := sess.Status(rec.AgentID); res.OK {
		task.Status.Message = agentMessage(uuid.NewString(), rec.TaskID, rec.SessionID, res.Message, res.Data)
	}
	return task
}

// loadTask resolves the task referenced by params and, when a signed
// message is present, proves the caller owns it. requireProof makes the
// signed message mandatory.
func (s *Server) loadTask(ctx context.Context, id any, params TaskParams, requireProof bool) (taskRecord, *Response) {
	if params.ID == "" {
		resp := errorResponse(id, codeInvalidParams, "params.id is required", nil)
		return taskRecord{}, &resp
	}
	rec, ok := s.store.get(params.ID)
	if !ok {
		resp := errorResponse(id, codeTaskNotFound, fmt.Sprintf("task %s not found", params.ID), nil)
		return taskRecord{}, &resp
	}

	if params.Message == nil {
		if requireProof {
			resp := errorResponse(id, codeInvalidParams, "a signed message proving ownership is required", nil)
			return taskRecord{}, &resp
		}
		return rec, nil
	}

	payload, reject := s.authenticate(ctx, id, params.Message)
	if reject != nil {
		return taskRecord{}, reject
	}
	if !strings.EqualFold(payload.Address, rec.Address) {
		resp := errorResponse(id, codeInvalidParams,
			fmt.Sprintf("task %s does not belong to %s", rec.TaskID, payload.Address), nil)
		return taskRecord{}, &resp
	}
	return rec, nil
}

func (s *Server) handleTaskGet(ctx context.Context, req Request) Response {
	var params TaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "params.id is required", nil)
	}
	rec, reject := s.loadTask(ctx, req.ID, params, false)
	if reject != nil {
		return *reject
	}
	return successResponse(req.ID, s.taskSnapshot(rec))
}

func (s *Server) handleTaskCancel(ctx context.Context, req Request) Response {
	var params TaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "params.id is required", nil)
	}
	rec, reject := s.loadTask(ctx, req.ID, params, true)
	if reject != nil {
		return *reject
	}
	if rec.State != TaskStateWorking {
		return errorResponse(req.ID, codeNotCancelable,
			fmt.Sprintf("task %s is already %s", rec.TaskID, rec.State), nil)
	}

	if sess, ok := s.manager.SessionFor(rec.AgentID); ok {
		sess.Leave(rec.AgentID)
		s.manager.Unassign(rec.AgentID)
	}
	rec, _ = s.store.setState(rec.TaskID, TaskStateCanceled)
	s.hub.CloseTask(rec.TaskID)

	logging.Info(ctx, "task canceled",
		zap.String("taskId", rec.TaskID),
		zap.String("sessionId", rec.SessionID))
	return successResponse(req.ID, s.taskSnapshot(rec))
}
