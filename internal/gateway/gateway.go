// Package gateway is the room-addressed fan-out layer that pushes realtime
// events to connected clients. Rooms are addressed by convention:
// user:<id>, chat:<id>, group:<id>. Joining and leaving rooms is driven by
// client session events at the transport edge; consumers only emit.
package gateway

import (
	"errors"
	"log"
	"sync"

	"github.com/kapilverma1997/ichat/internal/metrics"
)

// Room kinds.
const (
	RoomUser  = "user"
	RoomChat  = "chat"
	RoomGroup = "group"
)

// ErrNotReady is returned when the gateway is queried before the transport
// layer has initialized it. Consumers may legitimately start first in some
// deployment topologies.
var ErrNotReady = errors.New("gateway: not ready")

// Conn is the minimal interface the WebSocket implementation must satisfy.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Event is the frame written to clients.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Emitter is the consumer-facing surface of the gateway.
type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) error
	EmitToRoom(kind, id, event string, payload interface{}) error
	Broadcast(event string, payload interface{}) error
}

// Provider returns the process-wide gateway, or nil when no transport is
// attached (e.g. a process dedicated purely to consuming).
type Provider func() Emitter

// Client is one connected user.
type Client struct {
	userID string
	conn   Conn
	mu     sync.Mutex // serializes writes to conn
}

// Send writes one event to this client, serialized with concurrent gateway
// emits. Synchronous, so ordered sequences (history replay) stay ordered.
func (c *Client) Send(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(Event{Event: event, Payload: payload}); err != nil {
		log.Printf("gateway: write to user %s failed: %v", c.userID, err)
	}
}

func (c *Client) write(evt Event) {
	// Best-effort, off the caller's path. A failed write means the reader
	// loop will notice the dead connection and unregister.
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.conn.WriteJSON(evt); err != nil {
			log.Printf("gateway: write to user %s failed: %v", c.userID, err)
		}
	}()
}

// Gateway is a registry of connections grouped into rooms.
type Gateway struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func New() *Gateway {
	return &Gateway{rooms: make(map[string]map[*Client]struct{})}
}

func roomKey(kind, id string) string {
	return kind + ":" + id
}

// Register adds a connection and joins it to the user's private room.
func (g *Gateway) Register(userID string, conn Conn) *Client {
	c := &Client{userID: userID, conn: conn}
	g.join(c, roomKey(RoomUser, userID))
	return c
}

// Unregister removes the client from every room.
func (g *Gateway) Unregister(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for room, members := range g.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
}

// Join subscribes the client to a room.
func (g *Gateway) Join(c *Client, kind, id string) {
	g.join(c, roomKey(kind, id))
}

// Leave unsubscribes the client from a room.
func (g *Gateway) Leave(c *Client, kind, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := roomKey(kind, id)
	if members, ok := g.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
}

func (g *Gateway) join(c *Client, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		g.rooms[room] = members
	}
	members[c] = struct{}{}
}

// EmitToUser pushes an event to the user's private room.
func (g *Gateway) EmitToUser(userID, event string, payload interface{}) error {
	if g == nil {
		return ErrNotReady
	}
	return g.emit(roomKey(RoomUser, userID), event, payload)
}

// EmitToRoom pushes an event to every member of a room.
func (g *Gateway) EmitToRoom(kind, id, event string, payload interface{}) error {
	if g == nil {
		return ErrNotReady
	}
	return g.emit(roomKey(kind, id), event, payload)
}

// Broadcast pushes an event to every connected client.
func (g *Gateway) Broadcast(event string, payload interface{}) error {
	if g == nil {
		return ErrNotReady
	}
	evt := Event{Event: event, Payload: payload}

	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[*Client]struct{})
	for _, members := range g.rooms {
		for c := range members {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			c.write(evt)
		}
	}
	metrics.GatewayEmits.WithLabelValues(event).Inc()
	return nil
}

func (g *Gateway) emit(room, event string, payload interface{}) error {
	evt := Event{Event: event, Payload: payload}

	g.mu.RLock()
	members := g.rooms[room]
	for c := range members {
		c.write(evt)
	}
	g.mu.RUnlock()

	metrics.GatewayEmits.WithLabelValues(event).Inc()
	return nil
}

// RoomSize returns the current number of members in a room.
func (g *Gateway) RoomSize(kind, id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[roomKey(kind, id)])
}
