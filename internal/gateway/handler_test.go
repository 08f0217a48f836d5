package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/httputil"
	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/llm/llmtest"
	"github.com/af-corp/scout/internal/orchestrator"
	"github.com/af-corp/scout/internal/provider"
	"github.com/af-corp/scout/internal/search"
	"github.com/af-corp/scout/internal/store"
	"github.com/af-corp/scout/internal/synthesis"
	"github.com/af-corp/scout/internal/telemetry"
	"github.com/af-corp/scout/internal/tools"
	"github.com/af-corp/scout/internal/types"
)

type fakeModels struct {
	handles map[string]*provider.Handle
	errs    map[string]error
}

func (f *fakeModels) Resolve(id string) (*provider.Handle, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	h, ok := f.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownModel, id)
	}
	return h, nil
}

func (f *fakeModels) Models() []provider.ModelInfo {
	var out []provider.ModelInfo
	for id, h := range f.handles {
		out = append(out, provider.ModelInfo{ID: id, Provider: h.Provider, Tools: h.SupportsTools})
	}
	return out
}

func modelsWith(m llm.Model) *fakeModels {
	return &fakeModels{handles: map[string]*provider.Handle{
		"scout-default": {Model: m, ID: "scout-default", Provider: "fake", SupportsTools: true},
	}}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Dedupe.Bucket = time.Hour
	cfg.Routing.RequestTimeout = 5 * time.Second
	return cfg
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/search", h.Search)
	r.Post("/search/{group}", h.Search)
	r.Get("/models", h.ListModels)
	r.Get("/health", h.Health)
	return r
}

type frame struct {
	event types.Event
	done  bool
}

func parseSSE(t *testing.T, body string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		data, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			t.Fatalf("malformed frame %q", block)
		}
		if data == "[DONE]" {
			out = append(out, frame{done: true})
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		out = append(out, frame{event: ev})
	}
	return out
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearch_WebScenario(t *testing.T) {
	var tavilyQueries []string
	var mu sync.Mutex
	tavily := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		tavilyQueries = append(tavilyQueries, body.Query)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"query":"capital of france","results":[
			{"title":"Paris - Wikipedia","url":"https://en.wikipedia.org/wiki/Paris","content":"Paris is the capital and largest city of France.","score":0.98},
			{"title":"Paris","url":"https://www.en.wikipedia.org/wiki/Paris/","content":"duplicate","score":0.5}
		]}`)
	}))
	defer tavily.Close()

	synthModel := llmtest.NewModel(llmtest.Text(`{"narrative":"Paris is the capital of France.","keyPoints":["Paris"],"summary":"Paris."}`))
	webTool := tools.NewWebSearchTool(
		search.NewTavilyClient("test-key", tavily.URL, tavily.Client(), search.NewExecutor(0)),
		nil,
		synthesis.New(synthModel, synthesis.Options{}, nil),
	)

	chatModel := llmtest.NewModel(
		llmtest.Calls(llm.ToolCall{ID: "call_1", Name: tools.WebSearch, Arguments: json.RawMessage(`{"queries":["capital of france"]}`)}),
		llmtest.Text("The capital of France is Paris ", "[Source](https://en.wikipedia.org/wiki/Paris)."),
	)
	chats := store.NewMemoryStore()
	models := modelsWith(chatModel)
	final := orchestrator.NewFinalizer(models, chats, orchestrator.FinalizerOptions{TitleModel: "missing"}, nil)

	cfg := testConfig()
	h := NewHandler(Deps{
		Models:    models,
		Tools:     tools.NewRegistry(webTool),
		Finalizer: final,
		Config:    func() *config.Config { return cfg },
	})

	rec := post(t, newTestRouter(h), "/search/web",
		`{"id":"chat-1","messages":[{"role":"user","content":"What is the capital of France?"}]}`)
	h.Wait()
	final.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Error("expected Cache-Control: no-cache")
	}

	frames := parseSSE(t, rec.Body.String())
	if !frames[len(frames)-1].done {
		t.Fatal("expected stream to end with [DONE]")
	}

	var text strings.Builder
	var toolResult *types.Event
	var finish *types.Finish
	for i, f := range frames {
		switch f.event.Type {
		case types.EventTextDelta:
			text.WriteString(f.event.Delta)
		case types.EventToolResult:
			toolResult = &frames[i].event
		case types.EventFinish:
			finish = f.event.Finish
		case types.EventError:
			t.Fatalf("unexpected error event: %s", f.event.Error)
		}
	}

	if len(tavilyQueries) != 1 || tavilyQueries[0] != "capital of france" {
		t.Errorf("expected one tavily query, got %v", tavilyQueries)
	}
	if toolResult == nil {
		t.Fatal("expected a tool-result event")
	}
	raw, _ := json.Marshal(toolResult.Result)
	var web struct {
		Kind     string `json:"kind"`
		Searches []struct {
			Results []search.Result `json:"results"`
		} `json:"searches"`
		SynthesizedReport *synthesis.Summary `json:"synthesizedReport"`
		HasContent        bool               `json:"hasContent"`
	}
	if err := json.Unmarshal(raw, &web); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if !web.HasContent || len(web.Searches) != 1 || len(web.Searches[0].Results) != 1 {
		t.Errorf("expected one deduplicated result, got %s", raw)
	}
	if web.SynthesizedReport == nil || web.SynthesizedReport.Summary != "Paris." {
		t.Errorf("expected synthesized report, got %s", raw)
	}
	if !strings.Contains(text.String(), "[Source](https://en.wikipedia.org/wiki/Paris)") {
		t.Errorf("expected inline citation, got %q", text.String())
	}
	if finish == nil || finish.Rounds != 2 || finish.ToolCalls != 1 {
		t.Errorf("unexpected finish: %+v", finish)
	}

	first := chatModel.Requests()[0]
	if first.ToolChoice != llm.ToolChoiceRequired || len(first.Tools) != 1 || first.Tools[0].Name != tools.WebSearch {
		t.Errorf("expected web route with required web_search, got choice=%q tools=%v", first.ToolChoice, first.Tools)
	}

	chat, err := chats.GetChatByID(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("expected chat persisted after stream: %v", err)
	}
	if chat.Title != "What is the capital of France?" {
		t.Errorf("expected fallback title, got %q", chat.Title)
	}
}

func TestSearch_PathGroupOverridesBody(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("hi"))
	h := NewHandler(Deps{Models: modelsWith(model), Config: func() *config.Config { return testConfig() }})

	rec := post(t, newTestRouter(h), "/search/chat", `{"group":"web","messages":[{"role":"user","content":"hello"}]}`)
	h.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if n := len(model.Requests()[0].Tools); n != 0 {
		t.Errorf("expected chat route without tools, got %d tools", n)
	}
}

func TestSearch_ConfigurationErrorsBeforeStreaming(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("never"))
	models := modelsWith(model)
	models.errs = map[string]error{
		"no-key": fmt.Errorf("%w: provider %q", provider.ErrMissingCredentials, "openai"),
	}
	h := NewHandler(Deps{Models: models, Config: func() *config.Config { return testConfig() }})
	router := newTestRouter(h)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"invalid json", "/search", `{"messages":`, http.StatusBadRequest, "Invalid JSON"},
		{"no messages", "/search", `{"messages":[]}`, http.StatusBadRequest, "messages is required"},
		{"blank messages", "/search", `{"messages":[{"role":"user","content":"  "}]}`, http.StatusBadRequest, "messages is required"},
		{"unknown model", "/search", `{"model":"nope","messages":[{"role":"user","content":"hi"}]}`, http.StatusInternalServerError, "Model configuration error"},
		{"missing credentials", "/search", `{"model":"no-key","messages":[{"role":"user","content":"hi"}]}`, http.StatusInternalServerError, "Model configuration error"},
		{"tool not configured", "/search/web", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusInternalServerError, "Tool configuration error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON error, got %q", ct)
			}
			var body httputil.APIError
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error != tt.wantError {
				t.Errorf("expected error %q, got %q", tt.wantError, body.Error)
			}
			if tt.wantStatus == http.StatusInternalServerError && body.Details == "" {
				t.Error("expected details on configuration error")
			}
		})
	}

	if model.CallCount() != 0 {
		t.Errorf("model must not be called on configuration errors, got %d calls", model.CallCount())
	}
}

func TestSearch_ModelFailureIsInBand(t *testing.T) {
	model := llmtest.NewModel(llmtest.Turn{Err: fmt.Errorf("%w: openai", provider.ErrProviderUnavailable)})
	h := NewHandler(Deps{Models: modelsWith(model), Config: func() *config.Config { return testConfig() }})

	rec := post(t, newTestRouter(h), "/search", `{"messages":[{"role":"user","content":"hi"}]}`)
	h.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected headers already sent with 200, got %d", rec.Code)
	}
	frames := parseSSE(t, rec.Body.String())
	if len(frames) != 2 || frames[0].event.Type != types.EventError || !frames[1].done {
		t.Errorf("expected error then [DONE], got %+v", frames)
	}
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		total += m.GetCounter().GetValue()
	}
	return total
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSearch_ConcurrentIdenticalRequestsShareOneRun(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("shared ", "answer"))
	model.Gate = make(chan struct{})
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	h := NewHandler(Deps{Models: modelsWith(model), Metrics: metrics, Config: func() *config.Config { return testConfig() }})
	router := newTestRouter(h)
	body := `{"id":"c1","messages":[{"role":"user","content":"same question"}]}`

	recs := make([]*httptest.ResponseRecorder, 3)
	var wg sync.WaitGroup
	for i := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs[i] = post(t, router, "/search", body)
		}()
	}

	waitFor(t, func() bool {
		return counterValue(t, metrics.DedupeTotal.WithLabelValues("shared")) == 2
	})
	close(model.Gate)
	wg.Wait()
	h.Wait()

	if model.CallCount() != 1 {
		t.Errorf("expected one model call, got %d", model.CallCount())
	}
	for i, rec := range recs {
		if rec.Body.String() != recs[0].Body.String() {
			t.Errorf("response %d differs:\n%s\nvs\n%s", i, rec.Body.String(), recs[0].Body.String())
		}
	}
	if !strings.Contains(recs[0].Body.String(), "shared ") {
		t.Errorf("unexpected body %q", recs[0].Body.String())
	}
	if h.flights.Pending() != 0 {
		t.Errorf("expected no pending flights after settle, got %d", h.flights.Pending())
	}

	// Once settled, the same request runs again.
	post(t, router, "/search", body)
	h.Wait()
	if model.CallCount() != 2 {
		t.Errorf("expected a fresh run after settle, got %d calls", model.CallCount())
	}
}

func TestSearch_NoDedupeHeader(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("x"))
	model.Gate = make(chan struct{})
	h := NewHandler(Deps{Models: modelsWith(model), Config: func() *config.Config { return testConfig() }})
	router := newTestRouter(h)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"messages":[{"role":"user","content":"q"}]}`))
			req.Header.Set(HeaderNoDedupe, "1")
			router.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(model.Gate)
	wg.Wait()
	h.Wait()

	if model.CallCount() != 2 {
		t.Errorf("expected independent runs, got %d calls", model.CallCount())
	}
}

func TestSearch_LeaderDisconnectDoesNotCancelRun(t *testing.T) {
	model := llmtest.NewModel(llmtest.Text("finished"))
	model.Gate = make(chan struct{})
	h := NewHandler(Deps{Models: modelsWith(model), Config: func() *config.Config { return testConfig() }})
	router := newTestRouter(h)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"messages":[{"role":"user","content":"q"}]}`)).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()

	waitFor(t, func() bool { return h.flights.Pending() == 1 })
	cancel()
	<-done
	close(model.Gate)
	h.Wait()

	if model.CallCount() != 1 {
		t.Errorf("expected the run to proceed after disconnect, got %d calls", model.CallCount())
	}
}

func TestListModelsAndHealth(t *testing.T) {
	h := NewHandler(Deps{Models: modelsWith(llmtest.NewModel())})
	router := newTestRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	var list modelListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != "scout-default" {
		t.Errorf("unexpected model list: %+v", list)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}
