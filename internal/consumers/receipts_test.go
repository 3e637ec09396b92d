package consumers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/store"
)

func receiptEnvelope() events.ReadReceiptEnvelope {
	return events.ReadReceiptEnvelope{
		MessageID: "m1",
		ChatID:    "c1",
		UserID:    "u2",
		ReadAt:    time.Now().UTC(),
	}
}

func storedMessage() *store.Message {
	return &store.Message{
		MessageID: "m1",
		ChatID:    "c1",
		SenderID:  "u1",
		ReadBy:    []store.ReadEntry{},
	}
}

func TestReadReceiptAppendsAndNotifies(t *testing.T) {
	messages := newFakeMessages()
	messages.byID["m1"] = storedMessage()
	emitter := &fakeEmitter{}
	c := NewReadReceipts(messages, withGateway(emitter))

	res := c.Handle(context.Background(), mustDelivery(t, receiptEnvelope()))
	if res != broker.Processed {
		t.Fatalf("result = %v, want Processed", res)
	}

	msg := messages.byID["m1"]
	if len(msg.ReadBy) != 1 || msg.ReadBy[0].UserID != "u2" {
		t.Errorf("readBy = %v, want single entry for u2", msg.ReadBy)
	}

	targets := emitter.targets()
	if !contains(targets, "user:u1") {
		t.Errorf("sender was not notified: %v", targets)
	}
	if !contains(targets, "chat:c1") {
		t.Errorf("chat room was not notified: %v", targets)
	}
}

func TestReadReceiptIsIdempotent(t *testing.T) {
	messages := newFakeMessages()
	messages.byID["m1"] = storedMessage()
	emitter := &fakeEmitter{}
	c := NewReadReceipts(messages, withGateway(emitter))

	d := mustDelivery(t, receiptEnvelope())
	if res := c.Handle(context.Background(), d); res != broker.Processed {
		t.Fatalf("first receipt: %v", res)
	}
	if res := c.Handle(context.Background(), d); res != broker.Processed {
		t.Fatalf("duplicate receipt must ack, got %v", res)
	}

	if n := len(messages.byID["m1"].ReadBy); n != 1 {
		t.Errorf("readBy has %d entries for u2, want exactly 1", n)
	}
	// Only the first application announces anything.
	if n := len(emitter.targets()); n != 2 {
		t.Errorf("expected 2 emits total, got %d", n)
	}
}

func TestReadReceiptDropsWhenMessageDeleted(t *testing.T) {
	c := NewReadReceipts(newFakeMessages(), withGateway(&fakeEmitter{}))
	if res := c.Handle(context.Background(), mustDelivery(t, receiptEnvelope())); res != broker.Processed {
		t.Errorf("missing message must ack-and-drop, got %v", res)
	}
}

func TestReadReceiptRetriesOnStoreError(t *testing.T) {
	messages := newFakeMessages()
	messages.findErr = errors.New("mongo timeout")
	c := NewReadReceipts(messages, withGateway(&fakeEmitter{}))
	if res := c.Handle(context.Background(), mustDelivery(t, receiptEnvelope())); res != broker.RetryableFailure {
		t.Errorf("store error should be retryable, got %v", res)
	}
}

func TestReadReceiptWorksWithoutGateway(t *testing.T) {
	messages := newFakeMessages()
	messages.byID["m1"] = storedMessage()
	c := NewReadReceipts(messages, noGateway)

	if res := c.Handle(context.Background(), mustDelivery(t, receiptEnvelope())); res != broker.Processed {
		t.Fatalf("result = %v, want Processed", res)
	}
	if len(messages.byID["m1"].ReadBy) != 1 {
		t.Error("read-set must be updated even when no transport is attached")
	}
}
