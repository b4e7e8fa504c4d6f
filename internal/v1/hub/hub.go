// Package hub fans game events out to long-lived subscriber connections.
// The hub owns subscription records and their sinks; it never calls back
// into the engine, and a slow or dead subscriber only ever loses its own
// subscription.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

// sinkBuffer bounds how far a subscriber may fall behind before it is
// dropped.
const sinkBuffer = 64

// Subscription is one long-lived stream attached to a task. Reconnects
// create new subscriptions; the old ones die on their next write.
type Subscription struct {
	AgentID   string
	TaskID    string
	SessionID string
	RequestID string

	// omniscient subscriptions bypass visibility filtering. Debug tap only.
	omniscient bool

	ch        chan game.Event
	closeOnce sync.Once
}

// Events is the receive side of the subscription. The channel is closed
// when the subscription is removed.
func (s *Subscription) Events() <-chan game.Event {
	return s.ch
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Hub routes events to subscriptions, keyed by agent for per-recipient
// visibility checks.
type Hub struct {
	mu      sync.Mutex
	byAgent map[string][]*Subscription
	closed  bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{byAgent: make(map[string][]*Subscription)}
}

// Subscribe attaches a new sink for the given agent and task.
func (h *Hub) Subscribe(agentID, taskID, sessionID, requestID string) *Subscription {
	sub := &Subscription{
		AgentID:   agentID,
		TaskID:    taskID,
		SessionID: sessionID,
		RequestID: requestID,
		ch:        make(chan game.Event, sinkBuffer),
	}
	h.add(sub)
	return sub
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return
	}
	h.byAgent[sub.AgentID] = append(h.byAgent[sub.AgentID], sub)
	metrics.ActiveSubscriptions.Inc()
}

// Unsubscribe removes one subscription and closes its sink.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

// removeLocked unlinks the subscription. Caller holds h.mu.
func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.byAgent[sub.AgentID]
	for i, s := range subs {
		if s == sub {
			h.byAgent[sub.AgentID] = append(subs[:i], subs[i+1:]...)
			if len(h.byAgent[sub.AgentID]) == 0 {
				delete(h.byAgent, sub.AgentID)
			}
			sub.close()
			metrics.ActiveSubscriptions.Dec()
			return
		}
	}
}

// Broadcast delivers an event to every subscription its visibility
// allows. Delivery is a non-blocking enqueue: a full sink means the
// subscriber has fallen behind and its subscription is removed.
func (h *Hub) Broadcast(e game.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped []*Subscription
	for agentID, subs := range h.byAgent {
		for _, sub := range subs {
			if sub.SessionID != e.SessionID {
				continue
			}
			if !sub.omniscient && !allowed(e, agentID) {
				continue
			}
			select {
			case sub.ch <- e:
			default:
				dropped = append(dropped, sub)
			}
		}
	}

	for _, sub := range dropped {
		metrics.DroppedFrames.Inc()
		logging.Warn(context.Background(), "subscriber fell behind, dropping subscription",
			zap.String("agentId", logging.RedactAddress(sub.AgentID)),
			zap.String("taskId", sub.TaskID))
		h.removeLocked(sub)
	}
}

// allowed applies the visibility rules for one recipient.
func allowed(e game.Event, agentID string) bool {
	switch e.Visibility {
	case game.VisibilityPublic:
		return true
	case game.VisibilityImposters, game.VisibilitySpecific:
		for _, id := range e.Recipients {
			if id == agentID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CloseAgent removes every subscription belonging to an agent.
func (h *Hub) CloseAgent(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range append([]*Subscription(nil), h.byAgent[agentID]...) {
		h.removeLocked(sub)
	}
}

// CloseTask removes every subscription attached to a task.
func (h *Hub) CloseTask(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var victims []*Subscription
	for _, subs := range h.byAgent {
		for _, sub := range subs {
			if sub.TaskID == taskID {
				victims = append(victims, sub)
			}
		}
	}
	for _, sub := range victims {
		h.removeLocked(sub)
	}
}

// Shutdown closes every subscription and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, subs := range h.byAgent {
		for _, sub := range subs {
			sub.close()
			metrics.ActiveSubscriptions.Dec()
		}
	}
	h.byAgent = make(map[string][]*Subscription)
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.byAgent {
		n += len(subs)
	}
	return n
}
