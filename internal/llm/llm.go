// Package llm defines the provider-neutral chat model contract: requests,
// incremental chunks, and the stream every adapter returns.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// Model streams completions for a request.
type Model interface {
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResponseSchema constrains the completion to a JSON document of the given shape.
type ResponseSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type Request struct {
	Messages       []Message
	Tools          []Tool
	ToolChoice     ToolChoice
	MaxTokens      int
	Temperature    *float64
	ResponseSchema *ResponseSchema
}

// Chunk is one incremental piece of model output. Tool calls are delivered
// complete, never as partial argument fragments.
type Chunk struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

func (c Chunk) empty() bool {
	return c.Text == "" && c.Reasoning == "" && len(c.ToolCalls) == 0 && c.FinishReason == ""
}

// Completion is a fully drained stream.
type Completion struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

// Collect drains and closes the stream.
func Collect(stream Stream) (Completion, error) {
	defer stream.Close()

	var out Completion
	var text, reasoning strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Completion{}, err
		}
		text.WriteString(chunk.Text)
		reasoning.WriteString(chunk.Reasoning)
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if chunk.FinishReason != "" {
			out.FinishReason = chunk.FinishReason
		}
	}
	out.Text = text.String()
	out.Reasoning = reasoning.String()
	return out, nil
}

// Generate issues one request and collects the whole completion.
func Generate(ctx context.Context, m Model, req *Request) (Completion, error) {
	stream, err := m.Stream(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	return Collect(stream)
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }
