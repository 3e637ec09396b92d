// Package events defines the wire envelopes that travel through the broker
// and the realtime event names pushed to connected clients. Envelopes are
// immutable once published and carry enough data for a consumer to persist
// without re-querying the sender or chat.
package events

import "time"

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Realtime event names emitted to clients.
const (
	EventMessageNew     = "message:new"
	EventReceiveMessage = "receiveMessage" // legacy alias used by chat rooms
	EventMessageRead    = "message:read"
	EventUserPresence   = "user:presence"
)

// Custom publish headers. Retry bookkeeping lives in the broker package.
const (
	HeaderChatID   = "x-chat-id"
	HeaderSenderID = "x-sender-id"
)

// MessageEnvelope is the new-message wire format, not the persisted entity.
type MessageEnvelope struct {
	MessageID     string                 `json:"messageId"`
	ChatID        string                 `json:"chatId"`
	SenderID      string                 `json:"senderId"`
	Content       string                 `json:"content"`
	Type          string                 `json:"type"`
	FileURL       string                 `json:"fileUrl,omitempty"`
	FileName      string                 `json:"fileName,omitempty"`
	FileSize      int64                  `json:"fileSize,omitempty"`
	ReplyTo       string                 `json:"replyTo,omitempty"`
	QuotedMessage string                 `json:"quotedMessage,omitempty"`
	Priority      string                 `json:"priority,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Participants  []string               `json:"participants,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// ReadReceiptEnvelope is ephemeral: it is never persisted itself, only
// applied to the target message's read-set.
type ReadReceiptEnvelope struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceEnvelope struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"` // "online" or "offline"
	DeviceID  string    `json:"deviceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageNewPayload is pushed to user and chat rooms for a new message.
type MessageNewPayload struct {
	Message MessageEnvelope `json:"message"`
	ChatID  string          `json:"chatId"`
}

// MessageReadPayload is pushed when a message's read-set grows.
type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

// PresencePayload is broadcast on presence changes.
type PresencePayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
