package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dealroom/internal/engine"
	"dealroom/internal/models"
	"dealroom/internal/realtime"
	"dealroom/internal/server"

	"github.com/gorilla/websocket"
)

// Client talks to one deal room server as one participant.
type Client struct {
	host  string
	http  *http.Client
	token string
}

// NewClient creates a client for host ("localhost:8375").
func NewClient(host string) *Client {
	return &Client{host: host, http: &http.Client{Timeout: 10 * time.Second}}
}

// Login opens a session and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, userID string) (server.SessionResponse, error) {
	var resp server.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", server.LoginRequest{UserID: userID}, &resp, http.StatusCreated); err != nil {
		return server.SessionResponse{}, fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return resp, nil
}

// OpenChat opens the deal's chat and returns its transcript.
func (c *Client) OpenChat(ctx context.Context, dealID string) (engine.ChatView, error) {
	var view engine.ChatView
	err := c.do(ctx, http.MethodGet, "/api/deals/"+url.PathEscape(dealID)+"/chat", nil, &view, http.StatusOK)
	return view, err
}

// Send posts one message to an open chat.
func (c *Client) Send(ctx context.Context, dealID, content string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/api/deals/"+url.PathEscape(dealID)+"/messages",
		server.SendMessageRequest{Content: content}, &msg, http.StatusCreated)
	return msg, err
}

// Notifications returns the header dropdown.
func (c *Client) Notifications(ctx context.Context) (server.NotificationsResponse, error) {
	var resp server.NotificationsResponse
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &resp, http.StatusOK)
	return resp, err
}

// Watch streams websocket events, following dealID when it is set, until ctx
// is done or the connection fails.
func (c *Client) Watch(ctx context.Context, dealID string, fn func(realtime.Envelope)) error {
	u := url.URL{Scheme: "ws", Host: c.host, Path: "/ws", RawQuery: "token=" + url.QueryEscape(c.token)}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	if dealID != "" {
		cmd := realtime.Command{Type: "follow", ConversationID: dealID}
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("follow %s: %w", dealID, err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var env realtime.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		fn(env)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.host+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var apiErr models.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
