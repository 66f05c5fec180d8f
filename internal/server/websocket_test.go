package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"dealroom/internal/conversation"
	"dealroom/internal/models"
	"dealroom/internal/realtime"
	"dealroom/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen serves the test app on a free local port.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	return ln.Addr().String()
}

// wsPeer records the events one websocket connection receives.
type wsPeer struct {
	conn *websocket.Conn

	mu     sync.Mutex
	events []realtime.Envelope
}

func dialEvents(t *testing.T, host, token string) *wsPeer {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	p := &wsPeer{conn: conn}
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env realtime.Envelope
			if json.Unmarshal(raw, &env) != nil {
				continue
			}
			p.mu.Lock()
			p.events = append(p.events, env)
			p.mu.Unlock()
		}
	}()
	return p
}

func (p *wsPeer) follow(t *testing.T, dealID string) {
	t.Helper()
	require.NoError(t, p.conn.WriteJSON(realtime.Command{Type: "follow", ConversationID: dealID}))
}

// appended returns the messages carried by message_appended events.
func (p *wsPeer) appended() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Message
	for _, env := range p.events {
		if env.Type != string(conversation.MessageAppended) {
			continue
		}
		var ev conversation.Event
		if json.Unmarshal(env.Payload, &ev) == nil && ev.Message != nil {
			out = append(out, *ev.Message)
		}
	}
	return out
}

func (p *wsPeer) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, env := range p.events {
		if env.Type == eventType {
			return true
		}
	}
	return false
}

func TestWebsocket_DealFollowersOnlySeeTheirOwnSession(t *testing.T) {
	env := newTestServer(t)
	host := env.listen(t)

	buyerToken := env.login(t, testutil.Buyer)
	sellerToken := env.login(t, testutil.Seller)
	buyer := dialEvents(t, host, buyerToken)
	seller := dialEvents(t, host, sellerToken)

	// both sides follow the same deal
	buyer.follow(t, "D1")
	seller.follow(t, "D1")
	ready, err := realtime.NewEnvelope("ready", nil)
	require.NoError(t, err)
	for _, id := range []string{testutil.Buyer.ID, testutil.Seller.ID} {
		assert.Eventually(t, func() bool {
			return env.srv.Hub().SendToConversation(id, "D1", ready) == 1
		}, testEventuallyTimeout, testPollInterval, id)
	}
	assert.Eventually(t, func() bool {
		return buyer.has("connected") && buyer.has("ready") && seller.has("connected") && seller.has("ready")
	}, testEventuallyTimeout, testPollInterval)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/deals/D1/chat", buyerToken, nil, nil))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/deals/D1/chat", sellerToken, nil, nil))

	var sent models.Message
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/deals/D1/messages", buyerToken,
		SendMessageRequest{Content: "Can you do 12k?"}, &sent))
	env.clock.Add(3 * time.Second)

	// the buyer's socket carries the message and the reply from its own session
	assert.Eventually(t, func() bool {
		msgs := buyer.appended()
		return len(msgs) == 2 && msgs[0].ID == sent.ID && msgs[1].SenderID == testutil.Seller.ID
	}, testEventuallyTimeout, testPollInterval)

	// the seller's socket follows D1 too, but its session never saw those messages
	assert.Never(t, func() bool {
		return len(seller.appended()) > 0
	}, 200*time.Millisecond, testPollInterval)
}
