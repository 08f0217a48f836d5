package types

import "encoding/json"

// EventType identifies a frame on the outbound event stream.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventError          EventType = "error"
	EventFinish         EventType = "finish"
)

// Event is one frame written to the client as `data: <json>`.
type Event struct {
	Type       EventType       `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Finish     *Finish         `json:"finish,omitempty"`
}

// Finish summarizes a completed generation.
type Finish struct {
	Reason     string `json:"reason"`
	Rounds     int    `json:"rounds"`
	ToolCalls  int    `json:"toolCalls"`
	Model      string `json:"model"`
	DurationMs int64  `json:"durationMs"`
}
