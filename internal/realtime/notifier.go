// Package realtime fans conversation and notification events out over redis
// pub/sub and websockets, and implements the redis-backed reply transport.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"dealroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	conversationPrefix = "conversation:"
	userPrefix         = "notifications:user:"
)

// Envelope is the wire format of every published event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload under type t.
func NewEnvelope(t string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Notifier publishes events into redis channels. A Notifier without a redis
// client is a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events actually leave the process.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishConversation sends an event of userID's view of a conversation to
// that user's connections following it.
func (n *Notifier) PublishConversation(ctx context.Context, userID, conversationID, eventType string, payload any) error {
	return n.publish(ctx, ConversationChannel(userID, conversationID), eventType, payload)
}

// PublishUser sends an event to all connections of one user.
func (n *Notifier) PublishUser(ctx context.Context, userID, eventType string, payload any) error {
	return n.publish(ctx, UserChannel(userID), eventType, payload)
}

func (n *Notifier) publish(ctx context.Context, channel, eventType string, payload any) error {
	if !n.Enabled() {
		return nil
	}
	body, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, channel, body).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// StartPatternSubscriber subscribes to every conversation and user channel
// and calls onMessage for each incoming message until ctx is done.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, conversationPrefix+"*", userPrefix+"*")
	go consume(ctx, sub, "pattern_subscriber", onMessage)
	return nil
}

// consume forwards messages from sub until ctx is done or the subscription
// closes. A panicking handler is logged and does not stop the loop.
func consume(ctx context.Context, sub *redis.PubSub, name string, onMessage func(channel, payload string)) {
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						observability.GlobalLogger.ErrorContext(ctx, "panic in redis subscriber",
							slog.String("subscriber", name),
							slog.Any("panic", r),
							slog.String("stack", string(debug.Stack())),
						)
					}
				}()
				onMessage(msg.Channel, msg.Payload)
			}()
		}
	}
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return userPrefix + userID
}

// ConversationChannel derives the Redis channel name of one user's view of a
// conversation. Every engine holds its own copy of a deal's thread, so
// events never cross from one user to another.
func ConversationChannel(userID, conversationID string) string {
	return conversationPrefix + userID + ":" + conversationID
}

// ParseChannel splits a channel into its kind ("conversation" or "user"),
// the owning user and, for conversations, the conversation id.
func ParseChannel(channel string) (kind, userID, conversationID string, ok bool) {
	if rest, found := strings.CutPrefix(channel, conversationPrefix); found {
		userID, conversationID, _ = strings.Cut(rest, ":")
		if userID == "" || conversationID == "" {
			return "", "", "", false
		}
		return "conversation", userID, conversationID, true
	}
	if id, found := strings.CutPrefix(channel, userPrefix); found && id != "" {
		return "user", id, "", true
	}
	return "", "", "", false
}
