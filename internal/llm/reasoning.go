package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

const DefaultReasoningTag = "think"

type reasoningModel struct {
	next  Model
	open  string
	close string
}

// WithReasoning moves text between <tag> and </tag> out of Text and into
// Reasoning. Tags may be split across chunk boundaries.
func WithReasoning(next Model, tag string) Model {
	if tag == "" {
		tag = DefaultReasoningTag
	}
	return &reasoningModel{next: next, open: "<" + tag + ">", close: "</" + tag + ">"}
}

func (m *reasoningModel) Stream(ctx context.Context, req *Request) (Stream, error) {
	inner, err := m.next.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &reasoningStream{inner: inner, open: m.open, close: m.close}, nil
}

type reasoningStream struct {
	inner   Stream
	open    string
	close   string
	inside  bool
	pending string
	done    bool
}

func (s *reasoningStream) Close() error { return s.inner.Close() }

func (s *reasoningStream) Recv() (Chunk, error) {
	for {
		if s.done {
			return Chunk{}, io.EOF
		}
		chunk, err := s.inner.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Chunk{}, err
			}
			s.done = true
			tail := s.flush()
			if tail.empty() {
				return Chunk{}, io.EOF
			}
			return tail, nil
		}

		text, reasoning := s.split(chunk.Text)
		out := Chunk{
			Text:         text,
			Reasoning:    chunk.Reasoning + reasoning,
			ToolCalls:    chunk.ToolCalls,
			FinishReason: chunk.FinishReason,
		}
		if out.empty() {
			continue
		}
		return out, nil
	}
}

func (s *reasoningStream) flush() Chunk {
	rest := s.pending
	s.pending = ""
	if s.inside {
		return Chunk{Reasoning: rest}
	}
	return Chunk{Text: rest}
}

// split consumes input and returns the visible and reasoning text it resolves.
// A trailing partial tag is held back until the next chunk decides it.
func (s *reasoningStream) split(input string) (string, string) {
	buf := s.pending + input
	s.pending = ""

	var text, reasoning strings.Builder
	for buf != "" {
		tag := s.open
		out := &text
		if s.inside {
			tag = s.close
			out = &reasoning
		}

		if idx := strings.Index(buf, tag); idx >= 0 {
			out.WriteString(buf[:idx])
			buf = buf[idx+len(tag):]
			s.inside = !s.inside
			if s.inside {
				buf = strings.TrimLeft(buf, "\n")
			}
			continue
		}

		keep := partialSuffix(buf, tag)
		out.WriteString(buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return text.String(), reasoning.String()
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
