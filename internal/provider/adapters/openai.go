package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/llm"
)

// OpenAIAdapter handles communication with OpenAI-compatible chat completion
// APIs (OpenAI, xAI, Groq).
type OpenAIAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, cfg: cfg, client: client}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) HasCredentials() bool { return strings.TrimSpace(a.cfg.APIKey) != "" }

func (a *OpenAIAdapter) Stream(ctx context.Context, model string, req *llm.Request) (llm.Stream, error) {
	body := openAIRequestBody{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Stream:      true,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 && req.ToolChoice != "" {
		body.ToolChoice = string(req.ToolChoice)
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: openAIJSONSchema{
				Name:   req.ResponseSchema.Name,
				Schema: req.ResponseSchema.Schema,
			},
		}
	}

	headers := map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}
	for k, v := range a.cfg.Headers {
		headers[k] = v
	}

	resp, err := postStream(ctx, a.client, a.name, strings.TrimRight(a.cfg.BaseURL, "/")+"/chat/completions", headers, body)
	if err != nil {
		return nil, err
	}
	return &openAIStream{
		body:    resp.Body,
		events:  llm.NewEventReader(resp.Body),
		pending: make(map[int]*openAIPendingCall),
	}, nil
}

func toOpenAIMessages(msgs []llm.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

type openAIPendingCall struct {
	id   string
	name string
	args strings.Builder
}

// openAIStream accumulates tool-call argument fragments by index and emits
// complete calls once the choice finishes.
type openAIStream struct {
	body    io.ReadCloser
	events  *llm.EventReader
	pending map[int]*openAIPendingCall
	done    bool
}

func (s *openAIStream) Recv() (llm.Chunk, error) {
	for {
		if s.done {
			return llm.Chunk{}, io.EOF
		}
		data, err := s.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				if calls := s.flush(); len(calls) > 0 {
					return llm.Chunk{ToolCalls: calls}, nil
				}
				return llm.Chunk{}, io.EOF
			}
			return llm.Chunk{}, fmt.Errorf("read openai stream: %w", err)
		}
		if string(data) == "[DONE]" {
			s.done = true
			if calls := s.flush(); len(calls) > 0 {
				return llm.Chunk{ToolCalls: calls}, nil
			}
			return llm.Chunk{}, io.EOF
		}

		var event openAIStreamChunk
		if err := json.Unmarshal(data, &event); err != nil {
			return llm.Chunk{}, fmt.Errorf("decode openai chunk: %w", err)
		}
		if event.Error != nil {
			return llm.Chunk{}, fmt.Errorf("openai stream error: %s", event.Error.Message)
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		chunk := llm.Chunk{
			Text:      choice.Delta.Content,
			Reasoning: choice.Delta.ReasoningContent + choice.Delta.Reasoning,
		}
		for _, tc := range choice.Delta.ToolCalls {
			p, ok := s.pending[tc.Index]
			if !ok {
				p = &openAIPendingCall{}
				s.pending[tc.Index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			chunk.FinishReason = *choice.FinishReason
			chunk.ToolCalls = s.flush()
		}
		if chunk.Text == "" && chunk.Reasoning == "" && len(chunk.ToolCalls) == 0 && chunk.FinishReason == "" {
			continue
		}
		return chunk, nil
	}
}

func (s *openAIStream) flush() []llm.ToolCall {
	if len(s.pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(s.pending))
	for i := range s.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]llm.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		p := s.pending[i]
		args := strings.TrimSpace(p.args.String())
		if args == "" {
			args = "{}"
		}
		calls = append(calls, llm.ToolCall{ID: p.id, Name: p.name, Arguments: json.RawMessage(args)})
	}
	s.pending = make(map[int]*openAIPendingCall)
	return calls
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}

type openAIRequestBody struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Stream         bool                  `json:"stream"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponseFormat struct {
	Type       string           `json:"type"`
	JSONSchema openAIJSONSchema `json:"json_schema"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
