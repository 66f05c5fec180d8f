package realtime

import (
	"context"
	"errors"
	"sync"

	"dealroom/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser = 8
	maxTotalConns   = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrHubClosed       = errors.New("hub is shut down")
)

// Hub maps user id to the websocket clients of that user.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool

	log *observability.WSLogger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Client]struct{}),
		log:   observability.NewWSLogger("events"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "events" }

// Register adds a connection for userID. conn may be nil in tests.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerConnLimit
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserConnLimit
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), userID)
	return client, nil
}

// UnregisterClient removes a client and closes its send queue.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()
	client.close()
	h.log.LogDisconnect(context.Background(), client.UserID, "unregistered")
}

// SendToUser queues message on every connection of userID and returns how
// many accepted it.
func (h *Hub) SendToUser(userID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.conns[userID] {
		if c.TrySend(message) {
			n++
		}
	}
	return n
}

// SendToConversation queues message on the connections of userID that
// follow the conversation. Other users following the same deal see their
// own engine's events only.
func (h *Hub) SendToConversation(userID, conversationID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.conns[userID] {
		if c.Follows(conversationID) && c.TrySend(message) {
			n++
		}
	}
	return n
}

// Connections counts the open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Route delivers a message received on a redis channel to local clients.
func (h *Hub) Route(channel, payload string) {
	kind, userID, conversationID, ok := ParseChannel(channel)
	if !ok {
		h.log.LogError(context.Background(), "", errors.New("invalid channel "+channel), "route")
		return
	}
	switch kind {
	case "conversation":
		h.SendToConversation(userID, conversationID, []byte(payload))
	case "user":
		h.SendToUser(userID, []byte(payload))
	}
}

// StartWiring connects the Notifier to this hub: redis messages published by
// any instance reach the matching local connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, h.Route)
}

// Shutdown closes every connection with a going-away frame.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	for userID, clients := range h.conns {
		for client := range clients {
			client.close()
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")); err != nil {
				h.log.LogError(context.Background(), userID, err, "shutdown")
			}
			_ = client.Conn.Close()
		}
		observability.WebSocketConnectionsTotal.Sub(float64(len(clients)))
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}

// LocalPublisher delivers events straight to this process's hub. It is used
// when no redis is configured.
type LocalPublisher struct {
	Hub *Hub
}

// PublishConversation sends an event to local connections of userID that
// follow the conversation.
func (p LocalPublisher) PublishConversation(_ context.Context, userID, conversationID, eventType string, payload any) error {
	body, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	p.Hub.SendToConversation(userID, conversationID, body)
	return nil
}

// PublishUser sends an event to local connections of userID.
func (p LocalPublisher) PublishUser(_ context.Context, userID, eventType string, payload any) error {
	body, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	p.Hub.SendToUser(userID, body)
	return nil
}
