package broker

import (
	"context"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kapilverma1997/ichat/internal/metrics"
)

// HeaderRetryCount tracks how many times consumers have attempted a message.
// It lives in the transport headers, not the body, so it survives
// redelivery and dead-lettering.
const HeaderRetryCount = "x-retry-count"

// Result is a handler's verdict on a single message. The subscribe adapter
// translates it into ack/nack calls so retry policy stays testable without a
// live broker.
type Result int

const (
	Processed        Result = iota // done, ack
	RetryableFailure               // transient, re-enter the queue up to the attempt cap
	PermanentFailure               // do not retry, dead-letter
)

// Handler processes one delivery. It must never panic its way out; every
// message resolves to exactly one Result.
type Handler func(ctx context.Context, d amqp.Delivery) Result

type Subscription struct {
	Queue       string
	Name        string // consumer tag, shows up in broker admin UIs
	MaxAttempts int    // attempts before dead-lettering; 0 means 3

	// OnPanic is the result recorded when the handler panics. The zero
	// value means RetryableFailure; queues whose failures must never
	// re-enter the queue set PermanentFailure.
	OnPanic Result

	Handle Handler
}

func (s Subscription) panicResult() Result {
	if s.OnPanic == PermanentFailure {
		return PermanentFailure
	}
	return RetryableFailure
}

// Subscribe starts a consumer loop for the subscription. The loop survives
// channel loss by reconnecting through the manager; it stops when ctx is
// cancelled.
func (m *Manager) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.MaxAttempts <= 0 {
		sub.MaxAttempts = 3
	}
	deliveries, err := m.consume(ctx, sub)
	if err != nil {
		return err
	}
	go m.run(ctx, sub, deliveries)
	return nil
}

func (m *Manager) consume(ctx context.Context, sub Subscription) (<-chan amqp.Delivery, error) {
	ch, err := m.Channel(ctx)
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(sub.Queue, sub.Name, false, false, false, false, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: err}
	}
	return deliveries, nil
}

func (m *Manager) run(ctx context.Context, sub Subscription, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				// Channel lost; re-establish the consumer.
				deliveries = m.reconsume(ctx, sub)
				if deliveries == nil {
					return
				}
				continue
			}
			m.handleOne(ctx, sub, d)
		}
	}
}

func (m *Manager) reconsume(ctx context.Context, sub Subscription) <-chan amqp.Delivery {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		deliveries, err := m.consume(ctx, sub)
		if err == nil {
			log.Printf("broker: consumer %q resubscribed to %s", sub.Name, sub.Queue)
			return deliveries
		}
		log.Printf("broker: consumer %q resubscribe failed: %v", sub.Name, err)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (m *Manager) handleOne(ctx context.Context, sub Subscription, d amqp.Delivery) {
	res := func() (res Result) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("broker: consumer %q panicked on %s: %v", sub.Name, sub.Queue, r)
				res = sub.panicResult()
			}
		}()
		return sub.Handle(ctx, d)
	}()

	settle(d, res, sub.MaxAttempts, sub.Queue, func(attempt int) error {
		return m.redeliver(ctx, sub.Queue, d, attempt)
	})
}

// settle translates a handler result into broker acknowledgment.
//
// A plain nack-with-requeue redelivers the message with its headers
// untouched, which would make the retry counter useless; retryable failures
// below the cap are instead republished to the same queue with the counter
// bumped, and the original delivery is acked. At the cap the message is
// nacked without requeue and dead-letters.
func settle(d amqp.Delivery, res Result, maxAttempts int, queue string, redeliver func(attempt int) error) {
	switch res {
	case Processed:
		if err := d.Ack(false); err != nil {
			log.Printf("broker: ack failed on %s: %v", queue, err)
		}
		metrics.MessagesConsumed.WithLabelValues(queue, "processed").Inc()
	case PermanentFailure:
		if err := d.Nack(false, false); err != nil {
			log.Printf("broker: nack failed on %s: %v", queue, err)
		}
		metrics.MessagesConsumed.WithLabelValues(queue, "dead_lettered").Inc()
	case RetryableFailure:
		next := RetryCount(d.Headers) + 1
		if next < maxAttempts {
			if err := redeliver(next); err != nil {
				// Could not republish with the bumped counter; fall back to a
				// plain requeue so the message is not lost.
				log.Printf("broker: redeliver on %s failed, requeueing: %v", queue, err)
				_ = d.Nack(false, true)
				metrics.MessagesConsumed.WithLabelValues(queue, "requeued").Inc()
				return
			}
			if err := d.Ack(false); err != nil {
				log.Printf("broker: ack after redeliver failed on %s: %v", queue, err)
			}
			metrics.MessagesConsumed.WithLabelValues(queue, "retried").Inc()
		} else {
			if err := d.Nack(false, false); err != nil {
				log.Printf("broker: nack failed on %s: %v", queue, err)
			}
			metrics.MessagesConsumed.WithLabelValues(queue, "dead_lettered").Inc()
		}
	}
}

func (m *Manager) redeliver(ctx context.Context, queue string, d amqp.Delivery, attempt int) error {
	ch, err := m.Channel(ctx)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt)

	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now(),
		Body:         d.Body,
	})
}

// RetryCount reads the retry counter from message headers. The AMQP codec
// may hand back any integer width.
func RetryCount(headers amqp.Table) int {
	v, ok := headers[HeaderRetryCount]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
