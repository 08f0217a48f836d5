// Package route maps a routing group onto the prompt, tools and generation
// limits used to answer a request.
package route

import (
	"sort"
	"strings"
	"time"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/provider"
	"github.com/af-corp/scout/internal/tools"
)

const (
	GroupWeb       = "web"
	GroupAcademic  = "academic"
	GroupReddit    = "reddit"
	GroupX         = "x"
	GroupYouTube   = "youtube"
	GroupAnalytics = "analytics"
	GroupChat      = "chat"
)

// dateToken is replaced with the current date in every prompt.
const dateToken = "{{date}}"

// Entry is the fixed configuration of one group.
type Entry struct {
	Prompt string
	// OfflinePrompt is used instead of Prompt when the model cannot call
	// tools. Empty means Prompt is used as-is.
	OfflinePrompt string
	Tools         []string
	MaxToolRounds int
	MaxTokens     int
	Temperature   float64
	ToolChoice    llm.ToolChoice
}

// Decision is everything the orchestrator needs to answer one request.
type Decision struct {
	Group         string
	Model         string
	SystemPrompt  string
	Tools         []string
	MaxToolRounds int
	MaxTokens     int
	Temperature   float64
	ToolChoice    llm.ToolChoice
}

// Table routes groups to entries. It is built once and read concurrently.
type Table struct {
	entries  map[string]Entry
	fallback string
	now      func() time.Time
}

// NewTable builds a table; fallback must name an entry and is used for
// empty or unknown groups.
func NewTable(entries map[string]Entry, fallback string) *Table {
	if _, ok := entries[fallback]; !ok {
		panic("route: fallback group " + fallback + " has no entry")
	}
	copied := make(map[string]Entry, len(entries))
	for k, v := range entries {
		copied[strings.ToLower(k)] = v
	}
	return &Table{entries: copied, fallback: fallback, now: time.Now}
}

// DefaultTable returns the built-in groups with chat as the fallback.
func DefaultTable() *Table {
	return NewTable(DefaultEntries(), GroupChat)
}

// Route is total: every group, including "" and unknown values, yields a
// decision. A model without tool support gets no tools and a single round.
func (t *Table) Route(group string, model *provider.Handle) Decision {
	key := strings.ToLower(strings.TrimSpace(group))
	e, ok := t.entries[key]
	if !ok {
		key = t.fallback
		e = t.entries[key]
	}

	toolless := model == nil || !model.SupportsTools || len(e.Tools) == 0
	prompt := e.Prompt
	if toolless && e.OfflinePrompt != "" {
		prompt = e.OfflinePrompt
	}

	d := Decision{
		Group:         key,
		SystemPrompt:  strings.ReplaceAll(prompt, dateToken, t.now().Format("Monday, January 2, 2006")),
		Tools:         append([]string(nil), e.Tools...),
		MaxToolRounds: max(e.MaxToolRounds, 1),
		MaxTokens:     e.MaxTokens,
		Temperature:   e.Temperature,
		ToolChoice:    e.ToolChoice,
	}
	if d.ToolChoice == "" {
		d.ToolChoice = llm.ToolChoiceAuto
	}
	if model != nil {
		d.Model = model.ID
	}
	if toolless {
		d.Tools = nil
		d.MaxToolRounds = 1
		d.ToolChoice = llm.ToolChoiceAuto
	}
	return d
}

// Groups lists the configured groups in sorted order.
func (t *Table) Groups() []string {
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultEntries is the built-in routing table.
func DefaultEntries() map[string]Entry {
	return map[string]Entry{
		GroupWeb: {
			Prompt:        webPrompt,
			OfflinePrompt: webOfflinePrompt,
			Tools:         []string{tools.WebSearch},
			MaxToolRounds: 3,
			MaxTokens:     4096,
			Temperature:   0,
			ToolChoice:    llm.ToolChoiceRequired,
		},
		GroupAcademic: {
			Prompt:        academicPrompt,
			OfflinePrompt: academicOfflinePrompt,
			Tools:         []string{tools.AcademicSearch},
			MaxToolRounds: 2,
			MaxTokens:     4096,
			Temperature:   0,
			ToolChoice:    llm.ToolChoiceAuto,
		},
		GroupReddit: {
			Prompt:        redditPrompt,
			OfflinePrompt: redditOfflinePrompt,
			Tools:         []string{tools.RedditSearch},
			MaxToolRounds: 2,
			MaxTokens:     2048,
			Temperature:   0.3,
			ToolChoice:    llm.ToolChoiceAuto,
		},
		GroupX: {
			Prompt:        xPrompt,
			OfflinePrompt: xOfflinePrompt,
			Tools:         []string{tools.XSearch},
			MaxToolRounds: 2,
			MaxTokens:     2048,
			Temperature:   0.3,
			ToolChoice:    llm.ToolChoiceAuto,
		},
		GroupYouTube: {
			Prompt:        youtubePrompt,
			OfflinePrompt: youtubeOfflinePrompt,
			Tools:         []string{tools.YouTubeSearch},
			MaxToolRounds: 2,
			MaxTokens:     2048,
			Temperature:   0.3,
			ToolChoice:    llm.ToolChoiceAuto,
		},
		GroupAnalytics: {
			Prompt:        analyticsPrompt,
			OfflinePrompt: analyticsOfflinePrompt,
			Tools:         []string{tools.StockChart, tools.WebSearch},
			MaxToolRounds: 3,
			MaxTokens:     4096,
			Temperature:   0,
			ToolChoice:    llm.ToolChoiceAuto,
		},
		GroupChat: {
			Prompt:        chatPrompt,
			MaxToolRounds: 1,
			MaxTokens:     2048,
			Temperature:   0.7,
			ToolChoice:    llm.ToolChoiceAuto,
		},
	}
}
