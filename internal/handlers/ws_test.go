package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/store"
)

type fakePublisher struct {
	receipts []events.ReadReceiptEnvelope
	presence []events.PresenceEnvelope
	err      error
}

func (f *fakePublisher) PublishReadReceipt(ctx context.Context, env events.ReadReceiptEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.receipts = append(f.receipts, env)
	return nil
}

func (f *fakePublisher) PublishPresenceUpdate(ctx context.Context, env events.PresenceEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.presence = append(f.presence, env)
	return nil
}

type markCall struct {
	chatID, userID string
}

type fakeConversationStore struct {
	marks []markCall
	err   error
}

func (f *fakeConversationStore) MarkRead(ctx context.Context, chatID, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.marks = append(f.marks, markCall{chatID, userID})
	return nil
}

type fakeHistory struct {
	msgs []store.Message
}

func (f *fakeHistory) Recent(ctx context.Context, chatID string) ([]store.Message, bool) {
	if len(f.msgs) == 0 {
		return nil, false
	}
	return f.msgs, true
}

type fakeConn struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt, ok := v.(gateway.Event); ok {
		c.events = append(c.events, evt)
	}
	return nil
}

func (c *fakeConn) Close() error { return nil }

// A read frame publishes the receipt and resets the reader's unread counter
// for that conversation.
func TestHandleReadPublishesReceiptAndClearsUnread(t *testing.T) {
	pub := &fakePublisher{}
	convs := &fakeConversationStore{}
	h := &WS{Producer: pub, Conversations: convs}

	h.handleRead("U2", clientFrame{Type: "read", ChatID: "C1", MessageID: "M1"})

	if len(pub.receipts) != 1 {
		t.Fatalf("receipts published = %d, want 1", len(pub.receipts))
	}
	r := pub.receipts[0]
	if r.MessageID != "M1" || r.ChatID != "C1" || r.UserID != "U2" {
		t.Errorf("receipt = %+v", r)
	}
	if r.ReadAt.IsZero() {
		t.Error("receipt must carry a read timestamp")
	}
	if len(convs.marks) != 1 || convs.marks[0] != (markCall{"C1", "U2"}) {
		t.Errorf("mark-read calls = %v, want [{C1 U2}]", convs.marks)
	}
}

func TestHandleReadSkipsUnreadResetWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	convs := &fakeConversationStore{}
	h := &WS{Producer: pub, Conversations: convs}

	h.handleRead("U2", clientFrame{Type: "read", ChatID: "C1", MessageID: "M1"})

	if len(convs.marks) != 0 {
		t.Error("unread counter must not reset when the receipt was not published")
	}
}

func TestHandleReadWithoutChatLeavesCounters(t *testing.T) {
	pub := &fakePublisher{}
	convs := &fakeConversationStore{}
	h := &WS{Producer: pub, Conversations: convs}

	h.handleRead("U2", clientFrame{Type: "read", MessageID: "M1"})

	if len(pub.receipts) != 1 {
		t.Fatalf("receipts published = %d, want 1", len(pub.receipts))
	}
	if len(convs.marks) != 0 {
		t.Error("no chat id, nothing to mark read")
	}
}

func TestHandleReadIgnoresEmptyMessageID(t *testing.T) {
	pub := &fakePublisher{}
	convs := &fakeConversationStore{}
	h := &WS{Producer: pub, Conversations: convs}

	h.handleRead("U2", clientFrame{Type: "read", ChatID: "C1"})

	if len(pub.receipts) != 0 || len(convs.marks) != 0 {
		t.Error("frame without a message id must be a no-op")
	}
}

func TestSendRecentReplaysHistoryInOrder(t *testing.T) {
	conn := &fakeConn{}
	gw := gateway.New()
	client := gw.Register("u1", conn)

	hist := &fakeHistory{msgs: []store.Message{
		{MessageID: "m1", ChatID: "c1"},
		{MessageID: "m2", ChatID: "c1"},
	}}
	h := &WS{Gateway: gw, Cache: hist}

	h.sendRecent(client, "c1")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.events) != 2 {
		t.Fatalf("events written = %d, want 2", len(conn.events))
	}
	for i, want := range []string{"m1", "m2"} {
		evt := conn.events[i]
		if evt.Event != events.EventReceiveMessage {
			t.Errorf("event %d = %q, want %q", i, evt.Event, events.EventReceiveMessage)
		}
		msg, ok := evt.Payload.(*store.Message)
		if !ok || msg.MessageID != want {
			t.Errorf("event %d payload = %+v, want message %s", i, evt.Payload, want)
		}
	}
}

func TestSendRecentSkipsCacheMiss(t *testing.T) {
	conn := &fakeConn{}
	gw := gateway.New()
	client := gw.Register("u1", conn)
	h := &WS{Gateway: gw, Cache: &fakeHistory{}}

	h.sendRecent(client, "c1")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.events) != 0 {
		t.Errorf("cache miss must write nothing, got %d events", len(conn.events))
	}
}
