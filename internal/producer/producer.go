// Package producer publishes message, read-receipt and presence events onto
// their exchanges. Publishing is synchronous from the caller's point of
// view: a nil return means the broker accepted the event into its buffer,
// not that any consumer has processed it.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/metrics"
)

type Producer struct {
	broker *broker.Manager

	// Bounded wait while the broker has paused channel flow. Busy-wait by
	// design: flow pauses are short and the caller expects a synchronous
	// publish, not a queue.
	flowInterval time.Duration
	flowRetries  int
}

func New(m *broker.Manager) *Producer {
	return &Producer{
		broker:       m,
		flowInterval: 100 * time.Millisecond,
		flowRetries:  50,
	}
}

// PublishMessage publishes a new-message envelope onto the messages
// exchange. Assigns a message id if the caller did not.
func (p *Producer) PublishMessage(ctx context.Context, env events.MessageEnvelope) error {
	env.MessageID = strings.TrimSpace(env.MessageID)
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	env.ChatID = strings.TrimSpace(env.ChatID)
	env.SenderID = strings.TrimSpace(env.SenderID)
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	headers := amqp.Table{
		events.HeaderChatID:   env.ChatID,
		events.HeaderSenderID: env.SenderID,
	}
	if err := p.publish(ctx, broker.ExchangeMessages, broker.KeyMessageNew, headers, env); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues("message").Inc()
	return nil
}

// PublishReadReceipt publishes a read-receipt envelope onto the
// read_receipts exchange.
func (p *Producer) PublishReadReceipt(ctx context.Context, env events.ReadReceiptEnvelope) error {
	env.MessageID = strings.TrimSpace(env.MessageID)
	env.ChatID = strings.TrimSpace(env.ChatID)
	env.UserID = strings.TrimSpace(env.UserID)
	if env.ReadAt.IsZero() {
		env.ReadAt = time.Now().UTC()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if err := p.publish(ctx, broker.ExchangeReadReceipts, broker.KeyMessageRead, nil, env); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues("read_receipt").Inc()
	return nil
}

// PublishPresenceUpdate publishes a presence envelope onto the presence
// exchange, routed by status.
func (p *Producer) PublishPresenceUpdate(ctx context.Context, env events.PresenceEnvelope) error {
	env.UserID = strings.TrimSpace(env.UserID)
	env.Status = strings.ToLower(strings.TrimSpace(env.Status))
	if env.Status != events.StatusOnline && env.Status != events.StatusOffline {
		return fmt.Errorf("producer: invalid presence status %q", env.Status)
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	key := broker.KeyUserOnline
	if env.Status == events.StatusOffline {
		key = broker.KeyUserOffline
	}
	if err := p.publish(ctx, broker.ExchangePresence, key, nil, env); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues("presence").Inc()
	return nil
}

func (p *Producer) publish(ctx context.Context, exchange, key string, headers amqp.Table, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("producer: marshal %s/%s: %w", exchange, key, err)
	}

	// If the server has paused flow, wait it out briefly before publishing.
	for i := 0; p.broker.FlowPaused() && i < p.flowRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.flowInterval):
		}
	}

	ch, err := p.broker.Channel(ctx)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return &broker.Error{Kind: broker.KindOther, Err: fmt.Errorf("publish %s/%s: %w", exchange, key, err)}
	}
	return nil
}
