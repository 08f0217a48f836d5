package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the coerced author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatRequest is the canonical internal representation of an inbound chat request.
// It is decoded fresh from each request body and not mutated after Normalize.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
	Group    string    `json:"group,omitempty"`
	ID       string    `json:"id,omitempty"`

	// Set by the handler, never decoded.
	RequestID  string    `json:"-"`
	ClientKey  string    `json:"-"`
	UserID     string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// Message is a single conversation turn. Content arrives as arbitrary JSON
// (a string, an array of parts, or an object) and is flattened to text.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts any role string and any content shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Parts   json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	content := raw.Content
	if len(content) == 0 || string(content) == "null" {
		content = raw.Parts
	}
	text, err := ContentText(content)
	if err != nil {
		return err
	}
	m.Role = CoerceRole(raw.Role)
	m.Content = text
	return nil
}

// CoerceRole maps any inbound role onto user, assistant or system.
func CoerceRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "system":
		return RoleSystem
	case "assistant", "tool", "function", "data":
		return RoleAssistant
	default:
		return RoleUser
	}
}

// ContentText serializes message content to the text a model sees. Strings pass
// through, arrays of {type:"text"} parts are concatenated, anything else is
// re-marshalled as compact JSON.
func ContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if t, _ := p["type"].(string); t == "text" {
				if text, ok := p["text"].(string); ok {
					if b.Len() > 0 {
						b.WriteString("\n")
					}
					b.WriteString(text)
				}
				continue
			}
			encoded, err := json.Marshal(p)
			if err != nil {
				return "", fmt.Errorf("encode content part: %w", err)
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.Write(encoded)
		}
		return b.String(), nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode message content: %w", err)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message content: %w", err)
	}
	return string(encoded), nil
}

// Normalize trims identifiers and drops empty messages.
func (r *ChatRequest) Normalize() {
	r.Model = strings.TrimSpace(r.Model)
	r.Group = strings.ToLower(strings.TrimSpace(r.Group))
	r.ID = strings.TrimSpace(r.ID)

	kept := r.Messages[:0]
	for _, m := range r.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	r.Messages = kept
}

// UserTurns counts user-authored messages.
func (r *ChatRequest) UserTurns() int {
	n := 0
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// FirstUserMessage returns the first user message content, or "".
func (r *ChatRequest) FirstUserMessage() string {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}
