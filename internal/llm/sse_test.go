package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEventReader(t *testing.T) {
	input := "event: ping\n\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\n: comment\ndata: [DONE]"
	r := NewEventReader(strings.NewReader(input))

	want := []string{`{"a":1}`, "line1\nline2", "[DONE]"}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if string(got) != w {
			t.Errorf("event %d = %q, want %q", i, got, w)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
