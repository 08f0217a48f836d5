// Package llmtest provides scripted llm.Model fakes for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/af-corp/scout/internal/llm"
)

// Turn is the scripted output of one Stream call.
type Turn struct {
	Chunks []llm.Chunk
	// Err is returned from Stream instead of a stream.
	Err error
	// RecvErr is returned after Chunks are exhausted instead of io.EOF.
	RecvErr error
}

// Model replays Turns in order. Once the script is exhausted the last turn
// repeats, so a model that "keeps asking for tools" is one Turn long.
type Model struct {
	mu       sync.Mutex
	turns    []Turn
	requests []*llm.Request
	calls    int
	// Gate, when set, blocks every Stream call until it is closed.
	Gate chan struct{}
}

func NewModel(turns ...Turn) *Model {
	return &Model{turns: turns}
}

// Text is a one-turn script that streams the given pieces of text.
func Text(pieces ...string) Turn {
	chunks := make([]llm.Chunk, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, llm.Chunk{Text: p})
	}
	chunks = append(chunks, llm.Chunk{FinishReason: "stop"})
	return Turn{Chunks: chunks}
}

// Calls returns a one-turn script that requests the given tool calls.
func Calls(calls ...llm.ToolCall) Turn {
	return Turn{Chunks: []llm.Chunk{{ToolCalls: calls, FinishReason: "tool_calls"}}}
}

func (m *Model) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, cloneRequest(req))
	idx := m.calls
	m.calls++
	if len(m.turns) == 0 {
		return &stream{}, nil
	}
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	turn := m.turns[idx]
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &stream{chunks: turn.Chunks, err: turn.RecvErr}, nil
}

// CallCount returns how many times Stream was invoked.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns copies of every request received.
func (m *Model) Requests() []*llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func cloneRequest(req *llm.Request) *llm.Request {
	c := *req
	c.Messages = append([]llm.Message(nil), req.Messages...)
	c.Tools = append([]llm.Tool(nil), req.Tools...)
	return &c
}

type stream struct {
	chunks []llm.Chunk
	pos    int
	err    error
	closed bool
}

func (s *stream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return llm.Chunk{}, s.err
		}
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
