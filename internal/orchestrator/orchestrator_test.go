package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/llm/llmtest"
	"github.com/af-corp/scout/internal/route"
	"github.com/af-corp/scout/internal/search"
	"github.com/af-corp/scout/internal/tools"
	"github.com/af-corp/scout/internal/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Send(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []types.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) ofType(t types.EventType) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeTool struct {
	name  string
	calls int
	mu    sync.Mutex
	fn    func(ctx context.Context, args json.RawMessage) (tools.Result, error)
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Definition() llm.Tool {
	return llm.Tool{Name: f.name, Parameters: map[string]any{"type": "object"}}
}

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, args)
}

func searchTool(name string) *fakeTool {
	return &fakeTool{name: name, fn: func(_ context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.Result{Kind: tools.KindSearch, Search: &tools.SearchResult{
			Source:     name,
			Query:      string(args),
			Results:    []search.Result{{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris"}},
			HasContent: true,
		}}, nil
	}}
}

func request(content string) *types.ChatRequest {
	return &types.ChatRequest{
		Messages:  []types.Message{{Role: types.RoleUser, Content: content}},
		RequestID: "req-1",
	}
}

func decision(rounds int, choice llm.ToolChoice) route.Decision {
	return route.Decision{
		Group:         route.GroupWeb,
		Model:         "test-model",
		SystemPrompt:  "system prompt",
		Tools:         []string{tools.WebSearch},
		MaxToolRounds: rounds,
		MaxTokens:     1024,
		ToolChoice:    choice,
	}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestRun_PlainText(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("Hel", "lo"))
	sink := &recordingSink{}

	res, err := New(nil).Run(context.Background(), request("hi"), Plan{
		Decision: route.Decision{Model: "m", SystemPrompt: "sys", MaxToolRounds: 1},
		Model:    model,
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Hello" || res.Rounds != 1 || res.FinishReason != FinishStop {
		t.Errorf("unexpected result: %+v", res)
	}

	got := sink.types()
	want := []types.EventType{types.EventTextDelta, types.EventTextDelta, types.EventFinish}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	reqs := model.Requests()
	if len(reqs[0].Tools) != 0 {
		t.Error("expected no tools offered")
	}
	if reqs[0].Messages[0].Role != llm.RoleSystem || reqs[0].Messages[0].Content != "sys" {
		t.Errorf("expected system prompt first, got %+v", reqs[0].Messages[0])
	}
	if reqs[0].Messages[1].Role != llm.RoleUser || reqs[0].Messages[1].Content != "hi" {
		t.Errorf("expected user message, got %+v", reqs[0].Messages[1])
	}
}

func TestRun_ToolRoundThenAnswer(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Calls(call("c1", tools.WebSearch, `{"queries":["capital of france"]}`)),
		llmtest.Text("Paris is the capital ", "[Source](https://en.wikipedia.org/wiki/Paris)."),
	)
	web := searchTool(tools.WebSearch)
	sink := &recordingSink{}

	res, err := New(nil).Run(context.Background(), request("What is the capital of France?"), Plan{
		Decision: decision(3, llm.ToolChoiceRequired),
		Model:    model,
		Tools:    []tools.Executor{web},
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rounds != 2 || res.ToolCalls != 1 || res.FinishReason != FinishStop {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Text, "[Source](https://") {
		t.Errorf("expected citation in text, got %q", res.Text)
	}

	got := sink.types()
	want := []types.EventType{types.EventToolCall, types.EventToolResult, types.EventTextDelta, types.EventTextDelta, types.EventFinish}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	reqs := model.Requests()
	if reqs[0].ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("expected required on first round, got %q", reqs[0].ToolChoice)
	}
	if reqs[1].ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("expected auto on second round, got %q", reqs[1].ToolChoice)
	}

	second := reqs[1].Messages
	assistant := second[len(second)-2]
	toolMsg := second[len(second)-1]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "c1" {
		t.Errorf("expected assistant tool-call message, got %+v", assistant)
	}
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "c1" || !strings.Contains(toolMsg.Content, `"kind":"search"`) {
		t.Errorf("expected tool result message, got %+v", toolMsg)
	}

	finish := sink.ofType(types.EventFinish)[0].Finish
	if finish.Rounds != 2 || finish.ToolCalls != 1 || finish.Model != "test-model" {
		t.Errorf("unexpected finish: %+v", finish)
	}
}

func TestRun_NeverExceedsRoundCeiling(t *testing.T) {
	for _, rounds := range []int{1, 2, 3} {
		model := llmtest.NewModel(llmtest.Calls(call("", tools.WebSearch, `{}`)))
		web := searchTool(tools.WebSearch)

		res, err := New(nil).Run(context.Background(), request("loop"), Plan{
			Decision: decision(rounds, llm.ToolChoiceAuto),
			Model:    model,
			Tools:    []tools.Executor{web},
		}, &recordingSink{})
		if err != nil {
			t.Fatalf("rounds=%d: unexpected error: %v", rounds, err)
		}
		if model.CallCount() != rounds {
			t.Errorf("rounds=%d: expected %d model calls, got %d", rounds, rounds, model.CallCount())
		}
		if res.FinishReason != FinishMaxRounds {
			t.Errorf("rounds=%d: expected max_rounds, got %q", rounds, res.FinishReason)
		}

		if rounds > 1 {
			last := model.Requests()[rounds-1]
			if last.ToolChoice != llm.ToolChoiceNone {
				t.Errorf("rounds=%d: expected final round tool choice none, got %q", rounds, last.ToolChoice)
			}
			nudge := last.Messages[len(last.Messages)-1]
			if nudge.Role != llm.RoleSystem || nudge.Content != finalRoundNudge {
				t.Errorf("rounds=%d: expected nudge as last message, got %+v", rounds, nudge)
			}
		}
	}
}

func TestRun_ToolErrorIsFoldedAndSiblingsContinue(t *testing.T) {
	failing := &fakeTool{name: "broken", fn: func(context.Context, json.RawMessage) (tools.Result, error) {
		return tools.Result{}, &tools.ToolError{Tool: "broken", Op: "search", Err: errors.New("upstream 502")}
	}}
	web := searchTool(tools.WebSearch)
	model := llmtest.NewModel(
		llmtest.Calls(call("a", "broken", `{}`), call("b", tools.WebSearch, `{}`)),
		llmtest.Text("partial answer"),
	)
	sink := &recordingSink{}

	res, err := New(nil).Run(context.Background(), request("q"), Plan{
		Decision: decision(2, llm.ToolChoiceAuto),
		Model:    model,
		Tools:    []tools.Executor{failing, web},
	}, sink)
	if err != nil {
		t.Fatalf("tool error must not fail the run: %v", err)
	}
	if res.Text != "partial answer" {
		t.Errorf("expected stream to continue, got %q", res.Text)
	}

	results := sink.ofType(types.EventToolResult)
	if len(results) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(results))
	}
	var sawError, sawSuccess bool
	for _, ev := range results {
		switch ev.ToolCallID {
		case "a":
			sawError = ev.Error != "" && ev.Result == nil
		case "b":
			sawSuccess = ev.Error == "" && ev.Result != nil
		}
	}
	if !sawError || !sawSuccess {
		t.Errorf("expected one error and one success result, got %+v", results)
	}

	msgs := model.Requests()[1].Messages
	toolMsgs := msgs[len(msgs)-3 : len(msgs)-1]
	if toolMsgs[0].ToolCallID != "a" || toolMsgs[1].ToolCallID != "b" {
		t.Fatalf("expected tool messages in call order, got %+v", toolMsgs)
	}
	var folded map[string]string
	if err := json.Unmarshal([]byte(toolMsgs[0].Content), &folded); err != nil {
		t.Fatalf("tool error message is not JSON: %v", err)
	}
	if !strings.Contains(folded["error"], "upstream 502") {
		t.Errorf("expected folded error, got %q", toolMsgs[0].Content)
	}
}

func TestRun_UnknownToolAndPanicAreFolded(t *testing.T) {
	panicky := &fakeTool{name: "panicky", fn: func(context.Context, json.RawMessage) (tools.Result, error) {
		panic("boom")
	}}
	model := llmtest.NewModel(
		llmtest.Calls(call("x", "made_up", `{}`), call("y", "panicky", `{}`)),
		llmtest.Text("done"),
	)
	sink := &recordingSink{}

	_, err := New(nil).Run(context.Background(), request("q"), Plan{
		Decision: decision(2, llm.ToolChoiceAuto),
		Model:    model,
		Tools:    []tools.Executor{panicky},
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ev := range sink.ofType(types.EventToolResult) {
		if ev.Error == "" {
			t.Errorf("expected error result for %s", ev.ToolCallID)
		}
	}
	if n := len(sink.ofType(types.EventToolResult)); n != 2 {
		t.Errorf("expected 2 tool results, got %d", n)
	}
}

func TestRun_ToolCallsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	blocking := func(name string) *fakeTool {
		return &fakeTool{name: name, fn: func(ctx context.Context, _ json.RawMessage) (tools.Result, error) {
			started.Done()
			select {
			case <-release:
			case <-time.After(2 * time.Second):
				return tools.Result{}, errors.New("tools ran serially")
			}
			return tools.Result{Kind: tools.KindSearch, Search: &tools.SearchResult{Source: name}}, nil
		}}
	}
	model := llmtest.NewModel(
		llmtest.Calls(call("1", "one", `{}`), call("2", "two", `{}`)),
		llmtest.Text("ok"),
	)
	sink := &recordingSink{}

	if _, err := New(nil).Run(context.Background(), request("q"), Plan{
		Decision: decision(2, llm.ToolChoiceAuto),
		Model:    model,
		Tools:    []tools.Executor{blocking("one"), blocking("two")},
	}, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ev := range sink.ofType(types.EventToolResult) {
		if ev.Error != "" {
			t.Errorf("tool %s: %s", ev.ToolName, ev.Error)
		}
	}
}

func TestRun_AssignsMissingToolCallIDs(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Calls(call("", tools.WebSearch, `{}`)),
		llmtest.Text("ok"),
	)
	sink := &recordingSink{}

	New(nil).Run(context.Background(), request("q"), Plan{
		Decision: decision(2, llm.ToolChoiceAuto),
		Model:    model,
		Tools:    []tools.Executor{searchTool(tools.WebSearch)},
	}, sink)

	calls := sink.ofType(types.EventToolCall)
	results := sink.ofType(types.EventToolResult)
	if len(calls) != 1 || !strings.HasPrefix(calls[0].ToolCallID, "call_") {
		t.Fatalf("expected generated call id, got %+v", calls)
	}
	if results[0].ToolCallID != calls[0].ToolCallID {
		t.Errorf("result id %q does not match call id %q", results[0].ToolCallID, calls[0].ToolCallID)
	}
}

func TestRun_ReasoningDeltas(t *testing.T) {
	model := llmtest.NewModel(llmtest.Turn{Chunks: []llm.Chunk{
		{Reasoning: "thinking"},
		{Text: "answer"},
		{FinishReason: "stop"},
	}})
	sink := &recordingSink{}

	New(nil).Run(context.Background(), request("q"), Plan{Decision: route.Decision{MaxToolRounds: 1}, Model: model}, sink)

	got := sink.types()
	if len(got) != 3 || got[0] != types.EventReasoningDelta || got[1] != types.EventTextDelta {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestRun_ModelFailureEmitsError(t *testing.T) {
	tests := []struct {
		name string
		turn llmtest.Turn
	}{
		{"stream open fails", llmtest.Turn{Err: errors.New("connection refused")}},
		{"stream breaks", llmtest.Turn{Chunks: []llm.Chunk{{Text: "par"}}, RecvErr: errors.New("reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			res, err := New(nil).Run(context.Background(), request("q"), Plan{
				Decision: route.Decision{MaxToolRounds: 1},
				Model:    llmtest.NewModel(tt.turn),
			}, sink)
			if err == nil {
				t.Fatal("expected error")
			}
			if res.FinishReason != FinishError {
				t.Errorf("expected error finish, got %q", res.FinishReason)
			}
			got := sink.types()
			if got[len(got)-1] != types.EventError {
				t.Errorf("expected trailing error event, got %v", got)
			}
			if len(sink.ofType(types.EventFinish)) != 0 {
				t.Error("no finish event expected on failure")
			}
			if strings.Contains(sink.ofType(types.EventError)[0].Error, "reset") {
				t.Error("transport detail leaked to client")
			}
		})
	}
}
