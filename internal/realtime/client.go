package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"dealroom/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 64
)

var dropNotice = []byte(`{"type":"events_dropped","payload":{"reason":"buffer_full"}}`)

// Command is what a websocket peer may send: follow or unfollow a
// conversation's event stream.
type Command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub *Hub

	// Conn is nil for clients registered without a socket, such as in tests.
	Conn *websocket.Conn

	// Send is the buffered queue of outbound frames.
	Send chan []byte

	UserID string

	mu        sync.Mutex
	following map[string]struct{}
	closed    bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:       hub,
		Conn:      conn,
		UserID:    userID,
		Send:      make(chan []byte, sendBuffer),
		following: make(map[string]struct{}),
	}
}

// Follow adds a conversation to the client's stream.
func (c *Client) Follow(conversationID string) {
	c.mu.Lock()
	c.following[conversationID] = struct{}{}
	c.mu.Unlock()
}

// Unfollow removes a conversation from the client's stream.
func (c *Client) Unfollow(conversationID string) {
	c.mu.Lock()
	delete(c.following, conversationID)
	c.mu.Unlock()
}

// Follows reports whether the client receives a conversation's events.
func (c *Client) Follows(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.following[conversationID]
	return ok
}

// HandleCommand applies one inbound frame. allow decides whether the user
// may follow a conversation.
func (c *Client) HandleCommand(raw []byte, allow func(userID, conversationID string) bool) error {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return err
	}
	switch cmd.Type {
	case "follow":
		if cmd.ConversationID == "" || (allow != nil && !allow(c.UserID, cmd.ConversationID)) {
			return errors.New("follow not allowed")
		}
		c.Follow(cmd.ConversationID)
	case "unfollow":
		c.Unfollow(cmd.ConversationID)
	default:
		return errors.New("unknown command " + cmd.Type)
	}
	return nil
}

// ReadPump pumps commands from the websocket connection until it fails.
func (c *Client) ReadPump(allow func(userID, conversationID string) bool) {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.LogError(context.Background(), c.UserID, err, "read")
			}
			return
		}
		if err := c.HandleCommand(message, allow); err != nil {
			c.hub.log.LogError(context.Background(), c.UserID, err, "command")
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. A full buffer drops the frame and
// queues a notice so the peer can re-fetch.
func (c *Client) TrySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "closed").Inc()
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "full").Inc()
		select {
		case c.Send <- dropNotice:
		default:
		}
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
