package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/llm"
)

// Anthropic requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter handles communication with the Anthropic Messages API.
type AnthropicAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicAdapter(name string, cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{name: name, cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) HasCredentials() bool { return strings.TrimSpace(a.cfg.APIKey) != "" }

func (a *AnthropicAdapter) Stream(ctx context.Context, model string, req *llm.Request) (llm.Stream, error) {
	system, messages := toAnthropicMessages(req.Messages)

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Stream:      true,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	if len(body.Tools) > 0 {
		switch req.ToolChoice {
		case llm.ToolChoiceRequired:
			body.ToolChoice = &anthropicToolChoice{Type: "any"}
		case llm.ToolChoiceAuto:
			body.ToolChoice = &anthropicToolChoice{Type: "auto"}
		case llm.ToolChoiceNone:
			// Tools stay declared: a history holding tool_use blocks is
			// rejected without them.
			body.ToolChoice = &anthropicToolChoice{Type: "none"}
		}
	}

	// Structured output is a forced call to a tool whose input schema is the
	// response schema; its input is surfaced as the completion text.
	structured := ""
	if req.ResponseSchema != nil {
		structured = req.ResponseSchema.Name
		body.Tools = append(body.Tools, anthropicTool{
			Name:        structured,
			Description: "Respond with a JSON document matching this schema.",
			InputSchema: req.ResponseSchema.Schema,
		})
		body.ToolChoice = &anthropicToolChoice{Type: "tool", Name: structured}
	}

	headers := map[string]string{"x-api-key": a.cfg.APIKey}
	if a.cfg.APIVersion != "" {
		headers["anthropic-version"] = a.cfg.APIVersion
	}
	for k, v := range a.cfg.Headers {
		headers[k] = v
	}

	resp, err := postStream(ctx, a.client, a.name, strings.TrimRight(a.cfg.BaseURL, "/")+"/messages", headers, body)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{
		body:       resp.Body,
		events:     llm.NewEventReader(resp.Body),
		blocks:     make(map[int]*anthropicBlock),
		structured: structured,
	}, nil
}

// toAnthropicMessages pulls system messages into the top-level system prompt,
// renders tool calls as tool_use blocks, and merges consecutive tool results
// into one user turn.
func toAnthropicMessages(msgs []llm.Message) (string, []anthropicMessage) {
	var system []string
	var out []anthropicMessage
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleTool:
			block := anthropicContent{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if n := len(out); n > 0 && out[n-1].Role == llm.RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropicMessage{Role: llm.RoleUser, Content: []anthropicContent{block}})
		case llm.RoleAssistant:
			var blocks []anthropicContent
			if m.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropicMessage{Role: llm.RoleAssistant, Content: blocks})
		default:
			out = append(out, anthropicMessage{
				Role:    llm.RoleUser,
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	return strings.Join(system, "\n\n"), out
}

func isToolResultTurn(m anthropicMessage) bool {
	for _, c := range m.Content {
		if c.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

type anthropicBlock struct {
	kind  string
	id    string
	name  string
	input strings.Builder
}

type anthropicStream struct {
	body       io.ReadCloser
	events     *llm.EventReader
	blocks     map[int]*anthropicBlock
	structured string
	done       bool
}

func (s *anthropicStream) Recv() (llm.Chunk, error) {
	for {
		if s.done {
			return llm.Chunk{}, io.EOF
		}
		data, err := s.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return llm.Chunk{}, io.EOF
			}
			return llm.Chunk{}, fmt.Errorf("read anthropic stream: %w", err)
		}

		var event anthropicEvent
		if err := json.Unmarshal(data, &event); err != nil {
			// ping and unknown events are skipped
			continue
		}

		switch event.Type {
		case "content_block_start":
			s.blocks[event.Index] = &anthropicBlock{
				kind: event.ContentBlock.Type,
				id:   event.ContentBlock.ID,
				name: event.ContentBlock.Name,
			}
			if event.ContentBlock.Type == "text" && event.ContentBlock.Text != "" {
				return llm.Chunk{Text: event.ContentBlock.Text}, nil
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					return llm.Chunk{Text: event.Delta.Text}, nil
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" {
					return llm.Chunk{Reasoning: event.Delta.Thinking}, nil
				}
			case "input_json_delta":
				if b, ok := s.blocks[event.Index]; ok {
					b.input.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			b, ok := s.blocks[event.Index]
			delete(s.blocks, event.Index)
			if !ok || b.kind != "tool_use" {
				continue
			}
			input := strings.TrimSpace(b.input.String())
			if input == "" {
				input = "{}"
			}
			if s.structured != "" && b.name == s.structured {
				return llm.Chunk{Text: input}, nil
			}
			return llm.Chunk{ToolCalls: []llm.ToolCall{{ID: b.id, Name: b.name, Arguments: json.RawMessage(input)}}}, nil

		case "message_delta":
			if event.Delta.StopReason != "" {
				return llm.Chunk{FinishReason: mapStopReason(event.Delta.StopReason)}, nil
			}

		case "message_stop":
			s.done = true
			return llm.Chunk{}, io.EOF

		case "error":
			return llm.Chunk{}, fmt.Errorf("anthropic stream error: %s", event.Error.Message)
		}
	}
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequestBody struct {
	Model       string               `json:"model"`
	Messages    []anthropicMessage   `json:"messages"`
	System      string               `json:"system,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Stream      bool                 `json:"stream"`
	Temperature *float64             `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
