package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTavilySearch(t *testing.T) {
	t.Parallel()

	errCh := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			errCh <- fmt.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			return
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errCh <- fmt.Errorf("decode request: %w", err)
			return
		}
		if req.APIKey != "test-key" || req.Topic != "news" || req.MaxResults != 2 {
			errCh <- fmt.Errorf("unexpected request %+v", req)
			return
		}
		if len(req.IncludeDomains) != 1 || req.IncludeDomains[0] != "reddit.com" {
			errCh <- fmt.Errorf("unexpected include_domains %v", req.IncludeDomains)
			return
		}
		fmt.Fprint(w, `{"results":[{"title":"Example","url":"https://example.com","content":"snippet","score":0.9}],
			"images":["https://img.example.com/a.png",{"url":"https://img.example.com/b.png","description":"b"}]}`)
	}))
	defer server.Close()

	client := NewTavilyClient("test-key", server.URL, server.Client(), nil)
	resp, err := client.Search(context.Background(), "query", TavilyOptions{
		Topic:          "news",
		MaxResults:     2,
		IncludeDomains: []string{"reddit.com"},
		IncludeImages:  true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("handler error: %v", err)
	default:
	}
	if len(resp.Results) != 1 || resp.Results[0].Content != "snippet" {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
	if len(resp.Images) != 2 || resp.Images[1].Description != "b" {
		t.Fatalf("unexpected images %+v", resp.Images)
	}
}

func TestTavilyNotConfigured(t *testing.T) {
	t.Parallel()

	client := NewTavilyClient("", "", nil, nil)
	if client.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := client.Search(context.Background(), "q", TavilyOptions{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestExaSearch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "exa-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req exaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category != "research paper" || req.Contents.Summary == nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"results":[
			{"title":"Paper","url":"https://arxiv.org/abs/1","summary":"Short","text":"Long text","author":"A"},
			{"title":"No summary","url":"https://arxiv.org/abs/2","text":"Only text"}]}`)
	}))
	defer server.Close()

	client := NewExaClient("exa-key", server.URL, server.Client(), nil)
	resp, err := client.Search(context.Background(), "transformers", ExaOptions{Category: "research paper", Summary: true, MaxTextChars: 500})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Content != "Short" || resp.Results[1].Content != "Only text" {
		t.Errorf("unexpected contents %q %q", resp.Results[0].Content, resp.Results[1].Content)
	}
}

func TestExecutorRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	client := NewExaClient("k", server.URL, server.Client(), NewExecutor(2))
	if _, err := client.Search(context.Background(), "q", ExaOptions{}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestExecutorDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewTavilyClient("k", server.URL, server.Client(), NewExecutor(3))
	_, err := client.Search(context.Background(), "q", TavilyOptions{})

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestVideoMetadataLookup(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "https://www.youtube.com/watch?v=abc" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"title":"A video","author_name":"Chan","thumbnail_url":"https://i.ytimg.com/a.jpg"}`)
	}))
	defer server.Close()

	client := NewVideoMetadataClient(server.URL+"/oembed", server.Client(), nil)
	meta, err := client.Lookup(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if meta.Title != "A video" || meta.AuthorName != "Chan" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestMarketDataChart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/chart" || q.Get("symbol") != "AAPL" || q.Get("interval") != "1d" || q.Get("range") != "1mo" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"currency":"USD","candles":[{"time":1,"close":10},{"time":2,"close":11}]}`)
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "", server.Client(), nil)
	chart, err := client.Chart(context.Background(), "AAPL", "1d", "1mo")
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if chart.Symbol != "AAPL" || len(chart.Candles) != 2 || chart.Candles[1].Close != 11 {
		t.Errorf("unexpected chart %+v", chart)
	}
}
