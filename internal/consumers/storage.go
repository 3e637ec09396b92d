package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/store"
)

// Storage is the durability guarantee of the pipeline: a message is never
// lost even if the real-time push path fails entirely. Persistence is
// idempotent on the envelope's message id, so broker redelivery and
// concurrent instances collapse to a single stored record.
type Storage struct {
	messages      MessageStore
	conversations ConversationStore
	cache         *store.RecentCache // optional, best-effort
}

func NewStorage(messages MessageStore, conversations ConversationStore, cache *store.RecentCache) *Storage {
	return &Storage{messages: messages, conversations: conversations, cache: cache}
}

func (c *Storage) Handle(ctx context.Context, d amqp.Delivery) broker.Result {
	var env events.MessageEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Printf("storage: bad envelope: %v", err)
		return broker.RetryableFailure
	}

	// Duplicate delivery: the record was already created, possibly inline in
	// the originating request path or by another instance.
	_, err := c.messages.FindByMessageID(ctx, env.MessageID)
	if err == nil {
		log.Printf("storage: message %s already stored, skipping", env.MessageID)
		return broker.Processed
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("storage: lookup for message %s: %v", env.MessageID, err)
		return broker.RetryableFailure
	}

	participants := env.Participants
	if len(participants) == 0 {
		conv, convErr := c.conversations.FindByChatID(ctx, env.ChatID)
		if convErr != nil && !errors.Is(convErr, store.ErrNotFound) {
			log.Printf("storage: conversation lookup for chat %s: %v", env.ChatID, convErr)
			return broker.RetryableFailure
		}
		if conv != nil {
			participants = conv.Participants
		}
	}

	now := time.Now().UTC()
	createdAt := env.Timestamp
	if createdAt.IsZero() {
		createdAt = now
	}
	msg := &store.Message{
		MessageID:   env.MessageID,
		ChatID:      env.ChatID,
		SenderID:    env.SenderID,
		Content:     env.Content,
		Type:        env.Type,
		FileURL:     env.FileURL,
		FileName:    env.FileName,
		FileSize:    env.FileSize,
		ReplyTo:     env.ReplyTo,
		ReadBy:      []store.ReadEntry{},
		DeliveredAt: now,
		CreatedAt:   createdAt,
	}

	if err := c.messages.Insert(ctx, msg); err != nil {
		if store.IsDuplicate(err) {
			// Another instance won the race; its write is the record.
			return broker.Processed
		}
		log.Printf("storage: insert message %s: %v", env.MessageID, err)
		return broker.RetryableFailure
	}

	if err := c.conversations.ApplyMessage(ctx, env.ChatID, participants, msg); err != nil {
		log.Printf("storage: update conversation %s: %v", env.ChatID, err)
		return broker.RetryableFailure
	}

	// Analytics log and recent cache are best-effort; a failure here never
	// fails the message.
	if err := c.messages.InsertLog(ctx, msg); err != nil {
		log.Printf("storage: message log for %s: %v", env.MessageID, err)
	}
	c.cache.Push(msg)

	return broker.Processed
}
