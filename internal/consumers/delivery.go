package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/store"
)

// PresenceChecker answers whether a user is connected to this process.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Delivery pushes new messages to connected clients. It performs no
// persistence and is safe to duplicate-run; durability belongs to the
// storage consumer.
type Delivery struct {
	conversations ConversationStore
	presence      PresenceChecker
	gateway       gateway.Provider
}

func NewDelivery(conversations ConversationStore, presence PresenceChecker, gw gateway.Provider) *Delivery {
	return &Delivery{conversations: conversations, presence: presence, gateway: gw}
}

func (c *Delivery) Handle(ctx context.Context, d amqp.Delivery) broker.Result {
	gw := c.gateway()
	if gw == nil {
		// No transport attached to this process: delivery already happened
		// inline where the message was produced. Expected topology, not a
		// fault.
		return broker.Processed
	}

	// The delivery queue dead-letters back onto the messages exchange so
	// TTL-expired messages re-enter the routing path. A message that was
	// rejected out of this queue has already exhausted its attempts; push
	// duty ends here or it would cycle forever.
	if rejectedFromDelivery(d.Headers) {
		log.Printf("delivery: dropping message after exhausted retries (chat %v)", d.Headers[events.HeaderChatID])
		return broker.Processed
	}

	var env events.MessageEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Printf("delivery: bad envelope: %v", err)
		return broker.RetryableFailure
	}

	participants := env.Participants
	if len(participants) == 0 {
		conv, err := c.conversations.FindByChatID(ctx, env.ChatID)
		if errors.Is(err, store.ErrNotFound) {
			// Chat was deleted between publish and delivery; nothing to push.
			return broker.Processed
		}
		if err != nil {
			log.Printf("delivery: conversation lookup for chat %s: %v", env.ChatID, err)
			return broker.RetryableFailure
		}
		participants = conv.Participants
	}

	payload := events.MessageNewPayload{Message: env, ChatID: env.ChatID}

	for _, p := range participants {
		if p == "" || p == env.SenderID {
			continue
		}
		if !c.presence.IsOnline(p) {
			continue
		}
		if err := gw.EmitToUser(p, events.EventMessageNew, payload); err != nil {
			if errors.Is(err, gateway.ErrNotReady) {
				return broker.Processed
			}
			log.Printf("delivery: emit to user %s: %v", p, err)
			return broker.RetryableFailure
		}
	}

	// Always push to the chat room as well: covers users who are online but
	// haven't joined their private room yet, and is the guaranteed-delivery
	// fallback.
	if err := gw.EmitToRoom(gateway.RoomChat, env.ChatID, events.EventReceiveMessage, payload); err != nil {
		if errors.Is(err, gateway.ErrNotReady) {
			return broker.Processed
		}
		log.Printf("delivery: emit to chat %s: %v", env.ChatID, err)
		return broker.RetryableFailure
	}

	return broker.Processed
}

// rejectedFromDelivery inspects the broker's x-death header for a prior
// rejection out of the delivery queue. TTL expiries record reason "expired"
// and are processed normally.
func rejectedFromDelivery(headers amqp.Table) bool {
	deaths, _ := headers["x-death"].([]interface{})
	for _, d := range deaths {
		var t amqp.Table
		switch v := d.(type) {
		case amqp.Table:
			t = v
		case map[string]interface{}:
			t = amqp.Table(v)
		default:
			continue
		}
		reason, _ := t["reason"].(string)
		queue, _ := t["queue"].(string)
		if reason == "rejected" && queue == broker.QueueDelivery {
			return true
		}
	}
	return false
}
