// Package consumers holds the four independent queue consumers: delivery,
// storage, read-receipts and presence. Each is a struct with injected
// repositories whose Handle method returns a broker.Result; the broker's
// subscribe adapter turns that into ack/nack calls.
package consumers

import (
	"context"

	"github.com/kapilverma1997/ichat/internal/store"
)

// MessageStore is the slice of the message repository the consumers need.
type MessageStore interface {
	FindByMessageID(ctx context.Context, messageID string) (*store.Message, error)
	Insert(ctx context.Context, msg *store.Message) error
	AppendReadBy(ctx context.Context, messageID string, entry store.ReadEntry) (bool, error)
	InsertLog(ctx context.Context, msg *store.Message) error
}

// ConversationStore is the slice of the conversation repository the
// consumers need.
type ConversationStore interface {
	FindByChatID(ctx context.Context, chatID string) (*store.Conversation, error)
	ApplyMessage(ctx context.Context, chatID string, participants []string, msg *store.Message) error
}

// SessionStore persists per-device presence records.
type SessionStore interface {
	Upsert(ctx context.Context, userID, deviceID string, online bool) error
}
