// Package synthesis condenses raw search output into a short structured
// report with one model call. It is best-effort: failures yield nil.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/search"
	"github.com/af-corp/scout/internal/telemetry"
)

const (
	DefaultMaxItems     = 12
	DefaultMaxItemChars = 600
)

// Summary is the synthesized report attached to web search results.
type Summary struct {
	Narrative string   `json:"narrative"`
	KeyPoints []string `json:"keyPoints"`
	Summary   string   `json:"summary"`
}

type Options struct {
	MaxItems     int
	MaxItemChars int
	Timeout      time.Duration
}

type Synthesizer struct {
	model   llm.Model
	opts    Options
	metrics *telemetry.Metrics
}

func New(model llm.Model, opts Options, metrics *telemetry.Metrics) *Synthesizer {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MaxItemChars <= 0 {
		opts.MaxItemChars = DefaultMaxItemChars
	}
	return &Synthesizer{model: model, opts: opts, metrics: metrics}
}

var responseSchema = &llm.ResponseSchema{
	Name: "search_synthesis",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"narrative": map[string]any{"type": "string", "description": "Two to four paragraphs weaving the findings together."},
			"keyPoints": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Three to six key findings."},
			"summary":   map[string]any{"type": "string", "description": "One or two sentence answer."},
		},
		"required":             []string{"narrative", "keyPoints", "summary"},
		"additionalProperties": false,
	},
}

// Synthesize returns nil when items is empty or the model call fails.
func (s *Synthesizer) Synthesize(ctx context.Context, items []search.Result, queries []string) *Summary {
	if s == nil || s.model == nil || len(items) == 0 {
		return nil
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	req := &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: BuildPrompt(items, queries, s.opts.MaxItems, s.opts.MaxItemChars)},
		},
		Temperature:    llm.Float(0.2),
		MaxTokens:      1200,
		ResponseSchema: responseSchema,
	}

	out, err := llm.Generate(ctx, s.model, req)
	if err != nil {
		slog.Warn("synthesis failed", "queries", len(queries), "items", len(items), "error", err)
		s.metrics.RecordSynthesis("failed")
		return nil
	}

	summary, err := parseSummary(out.Text)
	if err != nil {
		slog.Warn("synthesis returned malformed output", "error", err)
		s.metrics.RecordSynthesis("malformed")
		return nil
	}
	s.metrics.RecordSynthesis("ok")
	return summary
}

const systemPrompt = `You synthesize web search results into a concise research brief.
Use only the provided sources. Do not invent facts, URLs, or numbers.
Respond with a JSON object with fields narrative, keyPoints and summary.`

// BuildPrompt renders at most maxItems results, each truncated to maxChars.
func BuildPrompt(items []search.Result, queries []string, maxItems, maxChars int) string {
	var b strings.Builder
	b.WriteString("Queries:\n")
	for _, q := range queries {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("\nSources:\n")
	for i, item := range items {
		if i >= maxItems {
			break
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, item.Title, item.URL, Truncate(item.Content, maxChars))
	}
	return b.String()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func parseSummary(text string) (*Summary, error) {
	text = strings.TrimSpace(text)
	// some providers fence JSON even in structured mode
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var s Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &s); err != nil {
		return nil, fmt.Errorf("decode synthesis: %w", err)
	}
	if s.Narrative == "" && s.Summary == "" && len(s.KeyPoints) == 0 {
		return nil, fmt.Errorf("decode synthesis: empty report")
	}
	if s.KeyPoints == nil {
		s.KeyPoints = []string{}
	}
	return &s, nil
}
