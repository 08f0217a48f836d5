// Package orchestrator drives a model through bounded tool rounds and streams
// its output as events.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/route"
	"github.com/af-corp/scout/internal/telemetry"
	"github.com/af-corp/scout/internal/tools"
	"github.com/af-corp/scout/internal/types"
)

const (
	FinishStop      = "stop"
	FinishMaxRounds = "max_rounds"
	FinishError     = "error"
)

const finalRoundNudge = "You have used all of your tool calls. Answer the question now using the tool results above; do not request more tools."

// Sink receives events in order. Send must be safe for concurrent use.
type Sink interface {
	Send(ev types.Event)
}

// Plan is the routed model and tools for one request.
type Plan struct {
	Decision route.Decision
	Model    llm.Model
	Tools    []tools.Executor
}

// Result summarizes a finished run.
type Result struct {
	Text         string
	Rounds       int
	ToolCalls    int
	FinishReason string
	Duration     time.Duration
}

type Orchestrator struct {
	metrics *telemetry.Metrics
}

func New(metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{metrics: metrics}
}

// Run issues at most Decision.MaxToolRounds model calls. Tool calls are
// executed concurrently within a round and their results, or errors, are
// appended to the conversation for the next round. It always ends the event
// stream with either a finish or an error event.
func (o *Orchestrator) Run(ctx context.Context, req *types.ChatRequest, plan Plan, sink Sink) (Result, error) {
	start := time.Now()
	d := plan.Decision
	rounds := max(d.MaxToolRounds, 1)

	messages := initialMessages(d.SystemPrompt, req.Messages)
	defs := tools.Definitions(plan.Tools)
	byName := make(map[string]tools.Executor, len(plan.Tools))
	for _, t := range plan.Tools {
		byName[t.Name()] = t
	}

	var res Result
	var text strings.Builder

	for round := 1; round <= rounds; round++ {
		res.Rounds = round

		llmReq := &llm.Request{
			Messages:    messages,
			MaxTokens:   d.MaxTokens,
			Temperature: llm.Float(d.Temperature),
		}
		if len(defs) > 0 {
			llmReq.Tools = defs
			llmReq.ToolChoice = toolChoice(d.ToolChoice, round)
			if round == rounds && rounds > 1 {
				llmReq.Messages = append(append([]llm.Message(nil), messages...),
					llm.Message{Role: llm.RoleSystem, Content: finalRoundNudge})
				llmReq.ToolChoice = llm.ToolChoiceNone
			}
		}

		turn, err := o.generate(ctx, plan.Model, llmReq, sink)
		text.WriteString(turn.Text)
		if err != nil {
			res.Text = text.String()
			res.FinishReason = FinishError
			res.Duration = time.Since(start)
			sink.Send(types.Event{Type: types.EventError, Error: userMessage(err)})
			return res, fmt.Errorf("generate round %d: %w", round, err)
		}

		res.FinishReason = FinishStop
		if len(turn.ToolCalls) == 0 {
			break
		}

		calls := assignIDs(turn.ToolCalls)
		res.ToolCalls += len(calls)
		results := o.executeTools(ctx, req.RequestID, calls, byName, sink)

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Text, ToolCalls: calls})
		messages = append(messages, results...)

		if round == rounds {
			res.FinishReason = FinishMaxRounds
		}
	}

	res.Text = text.String()
	res.Duration = time.Since(start)
	sink.Send(types.Event{
		Type: types.EventFinish,
		Finish: &types.Finish{
			Reason:     res.FinishReason,
			Rounds:     res.Rounds,
			ToolCalls:  res.ToolCalls,
			Model:      d.Model,
			DurationMs: res.Duration.Milliseconds(),
		},
	})
	return res, nil
}

// generate streams one model call to the sink and returns what it produced.
func (o *Orchestrator) generate(ctx context.Context, model llm.Model, req *llm.Request, sink Sink) (llm.Completion, error) {
	var out llm.Completion

	stream, err := model.Stream(ctx, req)
	if err != nil {
		return out, err
	}
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil {
			out.Text = text.String()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		if chunk.Reasoning != "" {
			sink.Send(types.Event{Type: types.EventReasoningDelta, Delta: chunk.Reasoning})
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			sink.Send(types.Event{Type: types.EventTextDelta, Delta: chunk.Text})
		}
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if chunk.FinishReason != "" {
			out.FinishReason = chunk.FinishReason
		}
	}
}

// executeTools announces every call, runs them concurrently and returns one
// tool message per call in call order.
func (o *Orchestrator) executeTools(ctx context.Context, reqID string, calls []llm.ToolCall, byName map[string]tools.Executor, sink Sink) []llm.Message {
	for _, call := range calls {
		sink.Send(types.Event{
			Type:       types.EventToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Arguments,
		})
	}

	out := make([]llm.Message, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			out[i] = o.invoke(ctx, reqID, call, byName[call.Name], sink)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) invoke(ctx context.Context, reqID string, call llm.ToolCall, exec tools.Executor, sink Sink) (msg llm.Message) {
	start := time.Now()
	msg = llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name}

	fail := func(err error) llm.Message {
		slog.Warn("tool call failed",
			"request_id", reqID,
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error", err,
		)
		o.metrics.RecordToolCall(call.Name, "error", msSince(start))
		sink.Send(types.Event{Type: types.EventToolResult, ToolCallID: call.ID, ToolName: call.Name, Error: err.Error()})
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		msg.Content = string(payload)
		return msg
	}

	defer func() {
		if r := recover(); r != nil {
			msg = fail(fmt.Errorf("tool panicked: %v", r))
		}
	}()

	if exec == nil {
		return fail(fmt.Errorf("%w: %s", tools.ErrToolUnavailable, call.Name))
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := exec.Execute(ctx, args)
	if err != nil {
		return fail(err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}

	o.metrics.RecordToolCall(call.Name, "success", msSince(start))
	slog.Debug("tool call completed",
		"request_id", reqID,
		"tool", call.Name,
		"has_content", result.HasContent(),
		"duration_ms", msSince(start),
	)
	sink.Send(types.Event{Type: types.EventToolResult, ToolCallID: call.ID, ToolName: call.Name, Result: result})
	msg.Content = string(payload)
	return msg
}

func initialMessages(systemPrompt string, history []types.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// toolChoice applies a required choice to the first round only so the model
// can answer once it has results.
func toolChoice(choice llm.ToolChoice, round int) llm.ToolChoice {
	if choice == llm.ToolChoiceRequired && round > 1 {
		return llm.ToolChoiceAuto
	}
	if choice == "" {
		return llm.ToolChoiceAuto
	}
	return choice
}

func assignIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

// userMessage hides transport detail from the client.
func userMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The response took too long and was stopped."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "The model failed to complete the response."
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
