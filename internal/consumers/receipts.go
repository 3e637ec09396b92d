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
	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/store"
)

// ReadReceipts applies read-receipt envelopes to a message's read-set and
// notifies the sender and the chat room. Receipts themselves are never
// persisted.
type ReadReceipts struct {
	messages MessageStore
	gateway  gateway.Provider
}

func NewReadReceipts(messages MessageStore, gw gateway.Provider) *ReadReceipts {
	return &ReadReceipts{messages: messages, gateway: gw}
}

func (c *ReadReceipts) Handle(ctx context.Context, d amqp.Delivery) broker.Result {
	var env events.ReadReceiptEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Printf("receipts: bad envelope: %v", err)
		return broker.RetryableFailure
	}
	if env.ReadAt.IsZero() {
		env.ReadAt = time.Now().UTC()
	}

	msg, err := c.messages.FindByMessageID(ctx, env.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		// Message may have been deleted; retrying will never help.
		return broker.Processed
	}
	if err != nil {
		log.Printf("receipts: lookup for message %s: %v", env.MessageID, err)
		return broker.RetryableFailure
	}

	added, err := c.messages.AppendReadBy(ctx, env.MessageID, store.ReadEntry{
		UserID: env.UserID,
		ReadAt: env.ReadAt,
	})
	if errors.Is(err, store.ErrNotFound) {
		return broker.Processed
	}
	if err != nil {
		log.Printf("receipts: append read for message %s: %v", env.MessageID, err)
		return broker.RetryableFailure
	}
	if !added {
		// User already read this message; nothing to announce.
		return broker.Processed
	}

	if gw := c.gateway(); gw != nil {
		payload := events.MessageReadPayload{
			MessageID: env.MessageID,
			ChatID:    env.ChatID,
			ReadBy:    env.UserID,
			ReadAt:    env.ReadAt,
		}
		if err := gw.EmitToUser(msg.SenderID, events.EventMessageRead, payload); err != nil && !errors.Is(err, gateway.ErrNotReady) {
			log.Printf("receipts: emit to sender %s: %v", msg.SenderID, err)
		}
		if err := gw.EmitToRoom(gateway.RoomChat, env.ChatID, events.EventMessageRead, payload); err != nil && !errors.Is(err, gateway.ErrNotReady) {
			log.Printf("receipts: emit to chat %s: %v", env.ChatID, err)
		}
	}

	return broker.Processed
}
