package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local ChatStore used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]Chat
	messages map[string][]Message
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]Chat),
		messages: make(map[string][]Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateChatIfNotExists(_ context.Context, c NewChat) (bool, error) {
	if c.ChatID == "" {
		return false, fmt.Errorf("create chat: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[c.ChatID]; ok {
		return false, nil
	}
	now := s.now()
	s.chats[c.ChatID] = Chat{
		ID:         c.ChatID,
		UserID:     c.UserID,
		Title:      c.Title,
		Visibility: VisibilityPrivate,
		CreatedAt:  now,
	}
	s.messages[c.ChatID] = []Message{
		{ID: uuid.NewString(), ChatID: c.ChatID, Role: "user", Content: c.FirstUserMessage, CreatedAt: now},
		{ID: uuid.NewString(), ChatID: c.ChatID, Role: "assistant", Content: c.AssistantResponse, CreatedAt: now},
	}
	return true, nil
}

func (s *MemoryStore) GetChatByID(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) GetMessagesByChatID(_ context.Context, chatID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := append([]Message(nil), s.messages[chatID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *MemoryStore) CreateMessages(_ context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, ok := s.chats[m.ChatID]; !ok {
			return fmt.Errorf("create message for %s: %w", m.ChatID, ErrNotFound)
		}
	}
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	}
	return nil
}

func (s *MemoryStore) UpdateChatTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) UpdateChatVisibility(_ context.Context, id, visibility string) error {
	if !validVisibility(visibility) {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Visibility = visibility
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}
