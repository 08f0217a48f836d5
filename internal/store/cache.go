package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	chatCacheTTL    = 5 * time.Minute
	chatCachePrefix = "scout:chat:"
)

// chatCache is a best-effort Redis read-through cache for chat rows. A nil
// client disables it and Redis errors are treated as misses.
type chatCache struct {
	redis *redis.Client
}

func (c chatCache) get(ctx context.Context, id string) (*Chat, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, chatCachePrefix+id).Bytes()
	if err != nil {
		return nil, false
	}
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, false
	}
	return &chat, true
}

func (c chatCache) set(ctx context.Context, chat *Chat) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(chat)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, chatCachePrefix+chat.ID, data, chatCacheTTL).Err(); err != nil {
		slog.Debug("chat cache set failed", "chat_id", chat.ID, "error", err)
	}
}

func (c chatCache) invalidate(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, chatCachePrefix+id).Err(); err != nil {
		slog.Warn("chat cache invalidate failed", "chat_id", id, "error", err)
	}
}
