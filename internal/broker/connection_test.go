package broker

import (
	"context"
	"testing"
)

type recordingConn struct {
	closes int
}

func (c *recordingConn) Close() error {
	c.closes++
	return nil
}

// A channel-level close must tear down the cached connection too, or every
// channel failure leaks a live connection and its heartbeat goroutines.
func TestResetClosesStaleConnection(t *testing.T) {
	m := NewManager("amqp://unused")
	conn := &recordingConn{}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.reset()

	if conn.closes != 1 {
		t.Errorf("connection closes = %d, want 1", conn.closes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil || m.ch != nil {
		t.Error("cached connection state must clear on reset")
	}
}

func TestResetWithoutConnectionIsNoop(t *testing.T) {
	m := NewManager("amqp://unused")
	m.reset()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil || m.ch != nil {
		t.Error("reset on a fresh manager must leave state empty")
	}
}

func TestChannelAfterShutdownFails(t *testing.T) {
	m := NewManager("amqp://unused")
	conn := &recordingConn{}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.Shutdown()

	if conn.closes != 1 {
		t.Errorf("shutdown should close the connection once, got %d", conn.closes)
	}
	if _, err := m.Channel(context.Background()); err == nil {
		t.Error("Channel after Shutdown must fail")
	}
}
