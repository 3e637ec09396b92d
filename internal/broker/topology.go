package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names are shared with every other service that talks to
// this broker; changing them breaks interoperability.
const (
	ExchangeMessages     = "messages"
	ExchangeReadReceipts = "read_receipts"
	ExchangePresence     = "presence"

	QueueDelivery     = "message.delivery"
	QueueStorage      = "message.storage"
	QueueReadReceipts = "read.receipts"
	QueuePresence     = "presence.updates"
	QueueDeadLetter   = "message.dlq"

	KeyMessageNew  = "message.new"
	KeyMessageRead = "message.read"
	KeyUserOnline  = "user.online"
	KeyUserOffline = "user.offline"
)

// deliveryQueueTTL is how long an undelivered message sits in the delivery
// queue before it is dead-lettered back onto the messages exchange and
// re-enters the message.new routing path.
const deliveryQueueTTL = 3600000 // 1h, in ms

func deliveryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             int32(deliveryQueueTTL),
		"x-dead-letter-exchange":    ExchangeMessages,
		"x-dead-letter-routing-key": KeyMessageNew,
	}
}

// deadLetterArgs routes rejected messages to the DLQ through the default
// exchange, which delivers directly to the queue named by the routing key.
func deadLetterArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": QueueDeadLetter,
	}
}

// EnsureTopology declares all exchanges, queues and bindings. Declarations
// are idempotent, so this is safe to run on every process start.
func (m *Manager) EnsureTopology(ctx context.Context) error {
	ch, err := m.Channel(ctx)
	if err != nil {
		return err
	}

	for _, exchange := range []string{ExchangeMessages, ExchangeReadReceipts, ExchangePresence} {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return &Error{Kind: KindOther, Err: err}
		}
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{QueueDelivery, deliveryQueueArgs()},
		{QueueStorage, deadLetterArgs()},
		{QueueReadReceipts, deadLetterArgs()},
		{QueuePresence, deadLetterArgs()},
		{QueueDeadLetter, nil},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return &Error{Kind: KindOther, Err: err}
		}
	}

	// message.new fans out to both the delivery and storage queues: the same
	// event is independently consumed for real-time push and for durable
	// persistence, each with its own retry semantics.
	bindings := []struct {
		queue, key, exchange string
	}{
		{QueueDelivery, KeyMessageNew, ExchangeMessages},
		{QueueStorage, KeyMessageNew, ExchangeMessages},
		{QueueReadReceipts, KeyMessageRead, ExchangeReadReceipts},
		{QueuePresence, KeyUserOnline, ExchangePresence},
		{QueuePresence, KeyUserOffline, ExchangePresence},
	}
	for _, b := range bindings {
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return &Error{Kind: KindOther, Err: err}
		}
	}

	return nil
}
