package store

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKeyPrefix = "chat:"
	recentKeySuffix = ":recent"
	recentMaxLen    = 50
	recentTTL       = 1 * time.Hour
)

// RecentCache keeps the last messages of each chat in Redis so clients get
// fast initial history without hitting Mongo. Strictly best-effort.
type RecentCache struct {
	client *redis.Client
}

func NewRecentCache(client *redis.Client) *RecentCache {
	return &RecentCache{client: client}
}

func recentKey(chatID string) string {
	return recentKeyPrefix + chatID + recentKeySuffix
}

// Push adds a message to the chat's recent list (newest at head).
// LPUSH + LTRIM keeps the last 50.
func (c *RecentCache) Push(msg *Message) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	key := recentKey(msg.ChatID)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, recentMaxLen-1)
	pipe.Expire(ctx, key, recentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("recent cache: push failed for chat %s: %v", msg.ChatID, err)
	}
}

// Recent returns the cached messages for a chat, oldest-first. Returns
// (nil, false) on miss or error.
func (c *RecentCache) Recent(ctx context.Context, chatID string) ([]Message, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.LRange(ctx, recentKey(chatID), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	var msgs []Message
	for i := len(raw) - 1; i >= 0; i-- {
		var m Message
		if json.Unmarshal([]byte(raw[i]), &m) != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}
