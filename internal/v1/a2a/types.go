// Package a2a implements the agent-facing RPC surface: a JSON-RPC 2.0
// envelope over HTTP POST carrying signed skill invocations, with
// server-sent streaming for subscribed clients.
package a2a

import (
	"encoding/json"
	"time"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *ErrorObj `json:"error,omitempty"`
}

// ErrorObj is the JSON-RPC error member.
type ErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Message is one conversational turn. Clients send role "user" messages;
// the server answers with role "agent".
type Message struct {
	Kind      string `json:"kind,omitempty"`
	Role      string `json:"role"`
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Parts     []Part `json:"parts"`
}

// Part is a message fragment. Skill invocations arrive as a data part
// carrying skillId, auth fields, and skill parameters; a text part may
// accompany it with free-form intent.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// DataPart returns the first data part, or nil.
func (m *Message) DataPart() map[string]any {
	for _, p := range m.Parts {
		if p.Kind == "data" && p.Data != nil {
			return p.Data
		}
	}
	return nil
}

// TextPart returns the first non-empty text part.
func (m *Message) TextPart() string {
	for _, p := range m.Parts {
		if p.Kind == "text" && p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// MessageSendParams is the params object of message/send and
// message/stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskParams is the params object of the tasks/* methods. Message is
// optional for tasks/get and mandatory where ownership must be proven.
type TaskParams struct {
	ID      string   `json:"id"`
	Message *Message `json:"message,omitempty"`
}

// Task lifecycle states.
const (
	TaskStateWorking   = "working"
	TaskStateCompleted = "completed"
	TaskStateCanceled  = "canceled"
	TaskStateFailed    = "failed"
)

// TaskStatus is the current state of a task plus the server's latest
// reply.
type TaskStatus struct {
	State     string   `json:"state"`
	Message   *Message `json:"message,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Task is the result object of message/send and tasks/get: one agent's
// participation in one game.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId,omitempty"`
	Status    TaskStatus `json:"status"`
}

// StreamEvent is one server-push frame after the initial task snapshot.
// Final marks the last frame of the stream.
type StreamEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	EventType string         `json:"eventType"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Final     bool           `json:"final"`
}

// agentMessage builds the server's reply message with a text part and an
// optional structured data part.
func agentMessage(messageID, taskID, contextID, text string, data map[string]any) *Message {
	parts := []Part{{Kind: "text", Text: text}}
	if data != nil {
		parts = append(parts, Part{Kind: "data", Data: data})
	}
	return &Message{
		Kind:      "message",
		Role:      "agent",
		MessageID: messageID,
		TaskID:    taskID,
		ContextID: contextID,
		Parts:     parts,
	}
}
