package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/provider"
	"github.com/af-corp/scout/internal/store"
	"github.com/af-corp/scout/internal/telemetry"
	"github.com/af-corp/scout/internal/types"
)

const (
	maxTitleRunes       = 80
	defaultFinalTimeout = time.Minute
	defaultTitleTimeout = 30 * time.Second
)

const titlePrompt = `Write a short title for a conversation that starts with the user's message below.
- At most 80 characters.
- No quotes, no trailing punctuation, no markdown.
- Reply with the title only.`

// ModelResolver looks up a model at dispatch time so hot reloads apply.
type ModelResolver interface {
	Resolve(modelID string) (*provider.Handle, error)
}

// Job is the work left after a stream completes.
type Job struct {
	RequestID         string
	ChatID            string
	UserID            string
	UserTurns         int
	FirstUserMessage  string
	AssistantResponse string
}

// JobFor builds the finalizer job of a completed run.
func JobFor(req *types.ChatRequest, res Result) Job {
	return Job{
		RequestID:         req.RequestID,
		ChatID:            req.ID,
		UserID:            req.UserID,
		UserTurns:         req.UserTurns(),
		FirstUserMessage:  req.FirstUserMessage(),
		AssistantResponse: res.Text,
	}
}

// eligible is true for the first turn of an identified chat.
func (j Job) eligible() bool {
	return j.ChatID != "" && j.UserTurns == 1
}

type FinalizerOptions struct {
	TitleModel   string
	Timeout      time.Duration
	TitleTimeout time.Duration
}

// Finalizer titles and persists new chats off the request path. Its failures
// are logged and counted, never returned.
type Finalizer struct {
	models  ModelResolver
	store   store.ChatStore
	opts    FinalizerOptions
	metrics *telemetry.Metrics
	wg      sync.WaitGroup
}

func NewFinalizer(models ModelResolver, chats store.ChatStore, opts FinalizerOptions, metrics *telemetry.Metrics) *Finalizer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFinalTimeout
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = defaultTitleTimeout
	}
	return &Finalizer{models: models, store: chats, opts: opts, metrics: metrics}
}

// Dispatch runs the job in its own goroutine with its own deadline.
func (f *Finalizer) Dispatch(job Job) {
	if !job.eligible() {
		f.metrics.RecordFinalizer("dispatch", "skipped")
		return
	}
	f.wg.Add(1)
	go f.run(job)
}

// Wait blocks until every dispatched job has finished.
func (f *Finalizer) Wait() {
	f.wg.Wait()
}

func (f *Finalizer) run(job Job) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("finalizer panicked", "request_id", job.RequestID, "chat_id", job.ChatID, "panic", r)
			f.metrics.RecordFinalizer("dispatch", "panic")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), f.opts.Timeout)
	defer cancel()

	title := f.title(ctx, job)

	if f.store == nil {
		f.metrics.RecordFinalizer("persist", "skipped")
		return
	}
	created, err := f.store.CreateChatIfNotExists(ctx, store.NewChat{
		ChatID:            job.ChatID,
		UserID:            job.UserID,
		Title:             title,
		FirstUserMessage:  job.FirstUserMessage,
		AssistantResponse: job.AssistantResponse,
	})
	if err != nil {
		slog.Error("persist chat failed", "request_id", job.RequestID, "chat_id", job.ChatID, "error", err)
		f.metrics.RecordFinalizer("persist", "error")
		return
	}

	outcome := "created"
	if !created {
		outcome = "exists"
	}
	slog.Info("chat finalized", "request_id", job.RequestID, "chat_id", job.ChatID, "outcome", outcome)
	f.metrics.RecordFinalizer("persist", outcome)
}

// title asks the title model for a title and falls back to the first user
// message on any failure.
func (f *Finalizer) title(ctx context.Context, job Job) string {
	fallback := FallbackTitle(job.FirstUserMessage)

	t, err := f.generateTitle(ctx, job.FirstUserMessage)
	if err != nil {
		slog.Warn("title generation failed, using fallback",
			"request_id", job.RequestID,
			"chat_id", job.ChatID,
			"error", err,
		)
		f.metrics.RecordFinalizer("title", "fallback")
		return fallback
	}
	f.metrics.RecordFinalizer("title", "success")
	return t
}

func (f *Finalizer) generateTitle(ctx context.Context, message string) (string, error) {
	if f.models == nil || f.opts.TitleModel == "" {
		return "", fmt.Errorf("no title model configured")
	}
	model, err := f.models.Resolve(f.opts.TitleModel)
	if err != nil {
		return "", fmt.Errorf("resolve title model: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.TitleTimeout)
	defer cancel()

	out, err := llm.Generate(ctx, model, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: titlePrompt},
			{Role: llm.RoleUser, Content: message},
		},
		MaxTokens:   32,
		Temperature: llm.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	t := cleanTitle(out.Text)
	if t == "" {
		return "", fmt.Errorf("generate title: empty completion")
	}
	return t, nil
}

// FallbackTitle is the first user message on one line, cut to 80 characters.
func FallbackTitle(message string) string {
	t := strings.Join(strings.Fields(message), " ")
	if t == "" {
		return "New chat"
	}
	return truncateRunes(t, maxTitleRunes)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`*# ")
	s = strings.TrimSuffix(s, ".")
	return truncateRunes(strings.TrimSpace(s), maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
