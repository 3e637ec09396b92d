package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/gateway"
)

// OnlineRegistry mutates the process-local online set.
type OnlineRegistry interface {
	SetOnline(userID string)
	SetOffline(userID string)
}

// Presence keeps the online registry and the persisted device sessions in
// step with presence envelopes and broadcasts the change to all clients.
//
// Failures here are never requeued: redelivering a stale presence update
// could flap a user online/offline out of order. Anything that fails goes
// straight to the DLQ.
type Presence struct {
	registry OnlineRegistry
	sessions SessionStore
	gateway  gateway.Provider
}

func NewPresence(registry OnlineRegistry, sessions SessionStore, gw gateway.Provider) *Presence {
	return &Presence{registry: registry, sessions: sessions, gateway: gw}
}

func (c *Presence) Handle(ctx context.Context, d amqp.Delivery) broker.Result {
	var env events.PresenceEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Printf("presence: bad envelope: %v", err)
		return broker.PermanentFailure
	}

	status := strings.ToLower(strings.TrimSpace(env.Status))
	if env.UserID == "" || (status != events.StatusOnline && status != events.StatusOffline) {
		log.Printf("presence: invalid update for user %q status %q", env.UserID, env.Status)
		return broker.PermanentFailure
	}

	online := status == events.StatusOnline
	if online {
		c.registry.SetOnline(env.UserID)
	} else {
		c.registry.SetOffline(env.UserID)
	}

	// Device session persistence is best-effort: logged, never retried.
	if err := c.sessions.Upsert(ctx, env.UserID, env.DeviceID, online); err != nil {
		log.Printf("presence: session upsert for user %s: %v", env.UserID, err)
	}

	if gw := c.gateway(); gw != nil {
		ts := env.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		err := gw.Broadcast(events.EventUserPresence, events.PresencePayload{
			UserID:    env.UserID,
			Status:    status,
			Timestamp: ts,
		})
		if err != nil && !errors.Is(err, gateway.ErrNotReady) {
			log.Printf("presence: broadcast for user %s: %v", env.UserID, err)
		}
	}

	return broker.Processed
}
