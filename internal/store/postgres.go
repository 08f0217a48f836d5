package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresStore implements ChatStore on PostgreSQL with a Redis cache for
// chat lookups.
type PostgresStore struct {
	db    *pgxpool.Pool
	cache chatCache
}

func NewPostgresStore(db *pgxpool.Pool, rdb *redis.Client) *PostgresStore {
	return &PostgresStore{db: db, cache: chatCache{redis: rdb}}
}

func (s *PostgresStore) CreateChatIfNotExists(ctx context.Context, c NewChat) (bool, error) {
	if c.ChatID == "" {
		return false, fmt.Errorf("create chat: empty id")
	}

	created := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO chats (id, user_id, title, visibility)
			VALUES ($1, NULLIF($2, ''), $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, c.ChatID, c.UserID, c.Title, VisibilityPrivate)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO messages (id, chat_id, role, content) VALUES ($1, $2, 'user', $3)`,
			uuid.New(), c.ChatID, c.FirstUserMessage)
		batch.Queue(`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES ($1, $2, 'assistant', $3, NOW() + interval '1 millisecond')`,
			uuid.New(), c.ChatID, c.AssistantResponse)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert first messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *PostgresStore) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	if chat, ok := s.cache.get(ctx, id); ok {
		return chat, nil
	}

	var chat Chat
	var userID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, visibility, created_at
		FROM chats
		WHERE id = $1
	`, id).Scan(&chat.ID, &userID, &chat.Title, &chat.Visibility, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	if userID != nil {
		chat.UserID = *userID
	}

	s.cache.set(ctx, &chat)
	return &chat, nil
}

func (s *PostgresStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var id uuid.UUID
		if err := rows.Scan(&id, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = id.String()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) CreateMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			id = uuid.New()
		}
		batch.Queue(`INSERT INTO messages (id, chat_id, role, content) VALUES ($1, $2, $3, $4)`,
			id, m.ChatID, m.Role, m.Content)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	return s.update(ctx, id, `UPDATE chats SET title = $2, updated_at = NOW() WHERE id = $1`, title)
}

func (s *PostgresStore) UpdateChatVisibility(ctx context.Context, id, visibility string) error {
	if !validVisibility(visibility) {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	return s.update(ctx, id, `UPDATE chats SET visibility = $2, updated_at = NOW() WHERE id = $1`, visibility)
}

func (s *PostgresStore) DeleteChat(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM chats WHERE id = $1`)
}

func (s *PostgresStore) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update chat %s: %w", id, err)
	}
	s.cache.invalidate(ctx, id)
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
