// Package tools implements the retrieval tools a model may call mid-answer.
// Every tool validates its arguments against a JSON schema before touching
// the network and reports upstream failures as *ToolError.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/af-corp/scout/internal/llm"
)

const (
	WebSearch      = "web_search"
	AcademicSearch = "academic_search"
	RedditSearch   = "reddit_search"
	XSearch        = "x_search"
	YouTubeSearch  = "youtube_search"
	StockChart     = "stock_chart"
)

// ErrToolUnavailable means a route names a tool that is not configured.
var ErrToolUnavailable = errors.New("tool unavailable")

// Executor is one callable tool.
type Executor interface {
	Name() string
	Definition() llm.Tool
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// ArgumentError reports arguments that failed schema validation.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// ToolError reports a failed external call.
type ToolError struct {
	Tool string
	Op   string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Op, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Registry holds the configured tools by name.
type Registry struct {
	tools map[string]Executor
}

func NewRegistry(tools ...Executor) *Registry {
	r := &Registry{tools: make(map[string]Executor, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Executor) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Executor, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select returns the named tools in order, or ErrToolUnavailable naming the
// first one that is not configured.
func (r *Registry) Select(names []string) ([]Executor, error) {
	out := make([]Executor, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, n)
		}
		out = append(out, t)
	}
	return out, nil
}

// Definitions returns the model-facing definitions of tools.
func Definitions(tools []Executor) []llm.Tool {
	defs := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition())
	}
	return defs
}
