package store

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: not found")

// ReadEntry records that one user read a message. A message's read-set has
// at most one entry per user.
type ReadEntry struct {
	UserID string    `bson:"user_id" json:"userId"`
	ReadAt time.Time `bson:"read_at" json:"readAt"`
}

// Message is the persisted message document, owned by the storage consumer.
// We use a flat collection (one document per message) for scalability and
// pagination; message_id carries the producer-assigned id and is uniquely
// indexed, which is what makes duplicate deliveries collapse to one record.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MessageID string             `bson:"message_id" json:"messageId"`
	ChatID    string             `bson:"chat_id" json:"chatId"`
	SenderID  string             `bson:"sender_id" json:"senderId"`
	Content   string             `bson:"content" json:"content"`
	Type      string             `bson:"type" json:"type"`
	FileURL   string             `bson:"file_url,omitempty" json:"fileUrl,omitempty"`
	FileName  string             `bson:"file_name,omitempty" json:"fileName,omitempty"`
	FileSize  int64              `bson:"file_size,omitempty" json:"fileSize,omitempty"`
	ReplyTo   string             `bson:"reply_to,omitempty" json:"replyTo,omitempty"`

	ReadBy      []ReadEntry `bson:"read_by" json:"readBy"`
	DeliveredAt time.Time   `bson:"delivered_at" json:"deliveredAt"`
	CreatedAt   time.Time   `bson:"created_at" json:"createdAt"`
}

// Conversation is the chat aggregate the storage consumer maintains.
// Unread counts never include the sender and are reset only when that
// participant marks the conversation read.
type Conversation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID        string             `bson:"chat_id" json:"chatId"`
	Participants  []string           `bson:"participants" json:"participants"`
	MessageIDs    []string           `bson:"message_ids,omitempty" json:"messageIds,omitempty"`
	LastMessageID string             `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time          `bson:"last_message_at,omitempty" json:"lastMessageAt,omitempty"`
	UnreadCount   map[string]int64   `bson:"unread_count,omitempty" json:"unreadCount,omitempty"`
	CreatedAt     time.Time          `bson:"created_at,omitempty" json:"createdAt,omitempty"`
}

// DeviceSession is the persisted per-device presence record. It outlives the
// in-memory online set and gives other instances durable last-seen state.
type DeviceSession struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"userId"`
	DeviceID     string             `bson:"device_id" json:"deviceId"`
	Online       bool               `bson:"online" json:"online"`
	LastActivity time.Time          `bson:"last_activity" json:"lastActivity"`
	LastSeen     time.Time          `bson:"last_seen" json:"lastSeen"`
}

// MessageLog is the best-effort analytics record written alongside each
// stored message. Losing one is acceptable; losing a Message is not.
type MessageLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	MessageID string             `bson:"message_id"`
	ChatID    string             `bson:"chat_id"`
	SenderID  string             `bson:"sender_id"`
	Type      string             `bson:"type"`
	LoggedAt  time.Time          `bson:"logged_at"`
}
