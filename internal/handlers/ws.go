package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kapilverma1997/ichat/internal/events"
	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/store"
)

// Publisher is the slice of the event producer the endpoint needs.
type Publisher interface {
	PublishReadReceipt(ctx context.Context, env events.ReadReceiptEnvelope) error
	PublishPresenceUpdate(ctx context.Context, env events.PresenceEnvelope) error
}

// ConversationStore clears a reader's unread counter.
type ConversationStore interface {
	MarkRead(ctx context.Context, chatID, userID string) error
}

// History serves the cached recent messages of a chat.
type History interface {
	Recent(ctx context.Context, chatID string) ([]store.Message, bool)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// WS serves the realtime WebSocket endpoint. Authentication happens on the
// API surface in front of this service; here the session is identified by
// the user_id query parameter.
type WS struct {
	Gateway       *gateway.Gateway
	Producer      Publisher
	Conversations ConversationStore
	Cache         History
}

// clientFrame represents messages coming from the frontend over WebSocket.
type clientFrame struct {
	Type      string `json:"type"` // "join", "leave", "read", "ping"
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func (h *WS) Handle(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := h.Gateway.Register(userID, conn)
	defer h.Gateway.Unregister(client)
	if chatID != "" {
		h.Gateway.Join(client, gateway.RoomChat, chatID)
		h.sendRecent(client, chatID)
	}

	h.publishPresence(userID, deviceID, events.StatusOnline)
	defer h.publishPresence(userID, deviceID, events.StatusOffline)

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "join":
			if frame.ChatID != "" {
				h.Gateway.Join(client, gateway.RoomChat, frame.ChatID)
				h.sendRecent(client, frame.ChatID)
			}
		case "leave":
			if frame.ChatID != "" {
				h.Gateway.Leave(client, gateway.RoomChat, frame.ChatID)
			}
		case "read":
			h.handleRead(userID, frame)
		case "ping":
			// read deadline already extended above
		}
	}
}

func (h *WS) handleRead(userID string, frame clientFrame) {
	if frame.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.Producer.PublishReadReceipt(ctx, events.ReadReceiptEnvelope{
		MessageID: frame.MessageID,
		ChatID:    frame.ChatID,
		UserID:    userID,
		ReadAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("ws: publish read receipt for message %s: %v", frame.MessageID, err)
		return
	}

	// The reader has seen the conversation; clear their unread counter.
	if frame.ChatID != "" && h.Conversations != nil {
		if err := h.Conversations.MarkRead(ctx, frame.ChatID, userID); err != nil {
			log.Printf("ws: mark conversation %s read: %v", frame.ChatID, err)
		}
	}
}

// sendRecent replays the chat's cached recent messages (oldest first) to a
// client that just joined, so the UI has history before live traffic lands.
func (h *WS) sendRecent(client *gateway.Client, chatID string) {
	if h.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, ok := h.Cache.Recent(ctx, chatID)
	if !ok {
		return
	}
	for i := range msgs {
		client.Send(events.EventReceiveMessage, &msgs[i])
	}
}

func (h *WS) publishPresence(userID, deviceID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.Producer.PublishPresenceUpdate(ctx, events.PresenceEnvelope{
		UserID:    userID,
		Status:    status,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("ws: publish presence %s for user %s: %v", status, userID, err)
	}
}
