package consumers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/store"
)

// --- fakes shared by the consumer tests ---

type fakeMessages struct {
	mu      sync.Mutex
	byID    map[string]*store.Message
	logs    int
	findErr error
	logErr  error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: map[string]*store.Message{}}
}

func (f *fakeMessages) FindByMessageID(ctx context.Context, id string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	msg, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMessages) Insert(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byID[msg.MessageID]; exists {
		// Same shape the driver produces on a unique-index violation.
		return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
	}
	cp := *msg
	f.byID[msg.MessageID] = &cp
	return nil
}

func (f *fakeMessages) AppendReadBy(ctx context.Context, id string, entry store.ReadEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	for _, e := range msg.ReadBy {
		if e.UserID == entry.UserID {
			return false, nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, entry)
	return true, nil
}

func (f *fakeMessages) InsertLog(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.logs++
	return nil
}

type fakeConversations struct {
	mu       sync.Mutex
	byChat   map[string]*store.Conversation
	findErr  error
	applyErr error
	applies  int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{byChat: map[string]*store.Conversation{}}
}

func (f *fakeConversations) FindByChatID(ctx context.Context, chatID string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	conv, ok := f.byChat[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (f *fakeConversations) ApplyMessage(ctx context.Context, chatID string, participants []string, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applies++
	conv, ok := f.byChat[chatID]
	if !ok {
		conv = &store.Conversation{ChatID: chatID, Participants: participants, UnreadCount: map[string]int64{}}
		f.byChat[chatID] = conv
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int64{}
	}
	found := false
	for _, id := range conv.MessageIDs {
		if id == msg.MessageID {
			found = true
		}
	}
	if !found {
		conv.MessageIDs = append(conv.MessageIDs, msg.MessageID)
	}
	conv.LastMessageID = msg.MessageID
	conv.LastMessageAt = msg.DeliveredAt
	for _, p := range participants {
		if p == "" || p == msg.SenderID {
			continue
		}
		conv.UnreadCount[p]++
	}
	return nil
}

type sessionUpsert struct {
	userID, deviceID string
	online           bool
}

type fakeSessions struct {
	mu      sync.Mutex
	upserts []sessionUpsert
	err     error
}

func (f *fakeSessions) Upsert(ctx context.Context, userID, deviceID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, sessionUpsert{userID, deviceID, online})
	return nil
}

type fakeRegistry struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{online: map[string]bool{}}
}

func (f *fakeRegistry) SetOnline(userID string) {
	f.mu.Lock()
	f.online[userID] = true
	f.mu.Unlock()
}

func (f *fakeRegistry) SetOffline(userID string) {
	f.mu.Lock()
	delete(f.online, userID)
	f.mu.Unlock()
}

func (f *fakeRegistry) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

type emitRecord struct {
	target  string // "user:<id>", "<kind>:<id>" or "broadcast"
	event   string
	payload interface{}
}

type fakeEmitter struct {
	mu    sync.Mutex
	emits []emitRecord
	err   error
}

func (f *fakeEmitter) EmitToUser(userID, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, emitRecord{"user:" + userID, event, payload})
	return nil
}

func (f *fakeEmitter) EmitToRoom(kind, id, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, emitRecord{kind + ":" + id, event, payload})
	return nil
}

func (f *fakeEmitter) Broadcast(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, emitRecord{"broadcast", event, payload})
	return nil
}

func (f *fakeEmitter) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.emits {
		out = append(out, e.target)
	}
	return out
}

func withGateway(e gateway.Emitter) gateway.Provider {
	return func() gateway.Emitter { return e }
}

func noGateway() gateway.Emitter { return nil }

func mustDelivery(t *testing.T, payload interface{}) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Body: body, Headers: amqp.Table{}}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
