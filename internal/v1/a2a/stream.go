package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/hub"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

// handleStream runs the skill like message/send, then keeps the
// connection open: first frame is the task snapshot, every later frame is
// a game event the subscriber is allowed to see.
func (s *Server) handleStream(ctx context.Context, c *gin.Context, req Request) {
	var params MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		s.respond(c, req.Method, errorResponse(req.ID, codeInvalidParams, "params.message with parts is required", nil))
		return
	}

	out, rec, reject := s.execute(ctx, req.ID, &params.Message)
	if reject != nil {
		s.respond(c, req.Method, *reject)
		return
	}
	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()

	// leave-game settles the task; the stream then ends after the
	// snapshot instead of re-attaching the departed player.
	var sub *hub.Subscription
	if !out.Left && rec.State == TaskStateWorking {
		sub = s.hub.Subscribe(out.PlayerID, rec.TaskID, rec.SessionID, fmt.Sprint(req.ID))
	}
	s.stream(c, req.ID, rec, s.taskResult(rec, out), sub)
}

// handleResubscribe attaches a fresh subscription to an existing task.
// The stream carries role-scoped events, so ownership proof is mandatory.
func (s *Server) handleResubscribe(ctx context.Context, c *gin.Context, req Request) {
	var params TaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.respond(c, req.Method, errorResponse(req.ID, codeInvalidParams, "params.id is required", nil))
		return
	}
	rec, reject := s.loadTask(ctx, req.ID, params, true)
	if reject != nil {
		s.respond(c, req.Method, *reject)
		return
	}
	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()

	// Terminal tasks get the snapshot and an immediate end of stream.
	var sub *hub.Subscription
	if rec.State == TaskStateWorking {
		sub = s.hub.Subscribe(rec.AgentID, rec.TaskID, rec.SessionID, fmt.Sprint(req.ID))
	}
	s.stream(c, req.ID, rec, s.taskSnapshot(rec), sub)
}

// stream writes the first frame, then relays events until the game ends,
// the subscription dies, or the client goes away. Every frame is a
// complete JSON-RPC envelope.
func (s *Server) stream(c *gin.Context, id any, rec taskRecord, first Task, sub *hub.Subscription) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if !s.writeFrame(c, id, first) || sub == nil {
		if sub != nil {
			s.hub.Unsubscribe(sub)
		}
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			s.hub.Unsubscribe(sub)
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			frame := streamFrame(rec, e)
			if !s.writeFrame(c, id, frame) || frame.Final {
				s.hub.Unsubscribe(sub)
				return
			}
		}
	}
}

// writeFrame encodes one envelope as a server-sent event and flushes it.
func (s *Server) writeFrame(c *gin.Context, id any, result any) bool {
	err := sse.Encode(c.Writer, sse.Event{
		Event: "message",
		Data:  successResponse(id, result),
	})
	if err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// streamFrame projects a game event onto the wire. The hub has already
// applied visibility; the frame never carries the recipient list.
func streamFrame(rec taskRecord, e game.Event) StreamEvent {
	return StreamEvent{
		Kind:      "status-update",
		TaskID:    rec.TaskID,
		ContextID: rec.SessionID,
		EventType: string(e.Type),
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
		Final:     e.Type == game.EventGameEnded,
	}
}
