package broker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Manager owns the single shared connection and channel for this process.
// The first Channel call dials lazily; concurrent callers during connection
// establishment share one in-flight attempt. On connection or channel close
// the cached state is cleared so the next call reconnects.
type Manager struct {
	url string

	mu         sync.Mutex
	conn       io.Closer // the live *amqp.Connection, retained for teardown
	ch         *amqp.Channel
	connecting chan struct{} // non-nil while a dial is in flight
	dialErr    error
	closed     bool

	flowPaused atomic.Bool
}

func NewManager(url string) *Manager {
	return &Manager{url: url}
}

// Channel returns the shared channel, dialing the broker on first use.
// The channel is configured with prefetch=1 so each consumer processes one
// unacknowledged message at a time.
func (m *Manager) Channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, &Error{Kind: KindOther, Err: amqp.ErrClosed}
		}
		if m.ch != nil && !m.ch.IsClosed() {
			ch := m.ch
			m.mu.Unlock()
			return ch, nil
		}
		if m.connecting == nil {
			m.connecting = make(chan struct{})
			go m.dial(m.connecting)
		}
		wait := m.connecting
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}

		m.mu.Lock()
		err := m.dialErr
		ch := m.ch
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if ch != nil && !ch.IsClosed() {
			return ch, nil
		}
		// Channel died between dial completing and us observing it; loop
		// and trigger a fresh attempt.
	}
}

func (m *Manager) dial(done chan struct{}) {
	defer close(done)

	conn, err := amqp.Dial(m.url)
	if err != nil {
		m.finishDial(nil, nil, classifyDial(err))
		return
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		m.finishDial(nil, nil, &Error{Kind: KindOther, Err: err})
		return
	}

	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		m.finishDial(nil, nil, &Error{Kind: KindOther, Err: err})
		return
	}

	go m.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)), "connection")
	go m.watchClose(ch.NotifyClose(make(chan *amqp.Error, 1)), "channel")
	go m.watchFlow(ch.NotifyFlow(make(chan bool, 1)))

	m.finishDial(conn, ch, nil)
}

func (m *Manager) finishDial(conn *amqp.Connection, ch *amqp.Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = nil
	if conn != nil {
		m.conn = conn
	}
	m.ch = ch
	m.dialErr = err
	m.connecting = nil
	if m.closed && conn != nil {
		// Shutdown raced the dial; don't leak the connection.
		m.conn = nil
		m.ch = nil
		conn.Close()
	}
}

func (m *Manager) watchClose(errs <-chan *amqp.Error, what string) {
	err, ok := <-errs
	if ok && err != nil {
		log.Printf("broker: %s closed: %v", what, err)
	}
	m.reset()
}

func (m *Manager) watchFlow(flow <-chan bool) {
	for active := range flow {
		m.flowPaused.Store(!active)
		if !active {
			log.Println("broker: flow paused by server")
		}
	}
	m.flowPaused.Store(false)
}

// FlowPaused reports whether the broker has paused publishing on the shared
// channel. The producer uses this for its bounded wait-and-retry.
func (m *Manager) FlowPaused() bool {
	return m.flowPaused.Load()
}

// reset tears down cached state so the next Channel call reconnects. The
// connection is closed even when only the channel died: a channel-level
// protocol error leaves the connection and its heartbeat goroutines alive,
// and the next dial would otherwise stack a second connection on top.
func (m *Manager) reset() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.ch = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// WaitReady dials with bounded exponential backoff, for process start.
// Handshake failures (bad credentials) abort immediately; infrastructure
// failures are retried up to maxAttempts.
func (m *Manager) WaitReady(ctx context.Context, maxAttempts int) error {
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := m.Channel(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		var be *Error
		if errors.As(err, &be) && !be.Retryable() {
			return err
		}
		log.Printf("broker: connect attempt %d/%d failed: %v", attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return lastErr
}

// Shutdown closes the channel and connection cleanly. In-flight
// unacknowledged messages are redelivered by the broker to the next
// consumer instance.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ch := m.ch
	conn := m.conn
	m.ch = nil
	m.conn = nil
	m.closed = true
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
