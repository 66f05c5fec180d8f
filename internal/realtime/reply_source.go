package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"dealroom/internal/conversation"
	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	requestPrefix = "replies:request:"
	replyPrefix   = "replies:conv:"
)

// RequestChannel carries reply requests for a conversation.
func RequestChannel(conversationID string) string { return requestPrefix + conversationID }

// ReplyChannel carries counterparty answers for a conversation.
func ReplyChannel(conversationID string) string { return replyPrefix + conversationID }

// ReplyMessage is an answer published on a reply channel.
type ReplyMessage struct {
	TriggerID string             `json:"trigger_id"`
	From      string             `json:"from"`
	Content   string             `json:"content"`
	Kind      models.MessageKind `json:"kind,omitempty"`
}

// RedisReplySource asks whoever listens on the request channel for the
// counterparty's answer and waits for it on the reply channel.
type RedisReplySource struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisReplySource gives up on a request after timeout; zero waits until
// cancelled.
func NewRedisReplySource(rdb *redis.Client, timeout time.Duration) *RedisReplySource {
	return &RedisReplySource{rdb: rdb, timeout: timeout}
}

// Await subscribes for the answer, publishes the request and returns at once.
func (s *RedisReplySource) Await(ctx context.Context, req conversation.ReplyRequest, deliver func(conversation.Reply)) func() {
	ctx, cancel := context.WithCancel(ctx)
	if s.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.timeout)
		inner := cancel
		cancel = func() {
			cancelTimeout()
			inner()
		}
	}
	go s.await(ctx, req, deliver)
	return cancel
}

func (s *RedisReplySource) await(ctx context.Context, req conversation.ReplyRequest, deliver func(conversation.Reply)) {
	sub := s.rdb.Subscribe(ctx, ReplyChannel(req.ConversationID))
	defer func() { _ = sub.Close() }()

	// Wait for the subscription before publishing so a fast answer is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		s.fail(ctx, req, "subscribe", err)
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		s.fail(ctx, req, "marshal", err)
		return
	}
	if err := s.rdb.Publish(ctx, RequestChannel(req.ConversationID), body).Err(); err != nil {
		s.fail(ctx, req, "publish", err)
		return
	}
	observability.LogAsyncOperationStart(ctx, "await_reply", map[string]interface{}{
		"conversation_id": req.ConversationID,
		"trigger_id":      req.Trigger.ID,
	})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.fail(ctx, req, "await", ctx.Err())
			}
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var r ReplyMessage
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				continue
			}
			if r.TriggerID != req.Trigger.ID || r.From != req.From {
				continue
			}
			deliver(conversation.Reply{Content: r.Content, Kind: r.Kind})
			return
		}
	}
}

func (s *RedisReplySource) fail(ctx context.Context, req conversation.ReplyRequest, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	observability.RedisErrorRate.WithLabelValues("reply_" + op).Inc()
	observability.LogAsyncOperationError(ctx, "await_reply", err, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"step":            op,
	})
}

// Answerer produces the counterparty's reply to a request. ok false means
// no answer.
type Answerer func(ctx context.Context, req conversation.ReplyRequest) (conversation.Reply, bool)

// CyclingAnswerer answers with the pool lines in turn.
func CyclingAnswerer(pool []string) Answerer {
	if len(pool) == 0 {
		pool = conversation.DefaultReplyPool
	}
	var next atomic.Uint64
	return func(_ context.Context, _ conversation.ReplyRequest) (conversation.Reply, bool) {
		i := next.Add(1) - 1
		return conversation.Reply{Content: pool[i%uint64(len(pool))], Kind: models.MessageKindText}, true
	}
}

// Responder serves reply requests from every conversation. It stands in for
// the other side of the deal when that side is a separate process.
type Responder struct {
	rdb    *redis.Client
	answer Answerer
}

// NewResponder creates a responder that answers with fn.
func NewResponder(rdb *redis.Client, fn Answerer) *Responder {
	return &Responder{rdb: rdb, answer: fn}
}

// Start subscribes and answers in the background until ctx is done.
func (r *Responder) Start(ctx context.Context) error {
	if r.rdb == nil {
		return nil
	}
	sub := r.rdb.PSubscribe(ctx, requestPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe reply requests: %w", err)
	}
	go consume(ctx, sub, "reply_responder", func(channel, payload string) {
		r.handle(ctx, channel, payload)
	})
	return nil
}

func (r *Responder) handle(ctx context.Context, channel, payload string) {
	var req conversation.ReplyRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "malformed reply request",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = strings.TrimPrefix(channel, requestPrefix)
	}
	reply, ok := r.answer(ctx, req)
	if !ok {
		return
	}
	body, err := json.Marshal(ReplyMessage{
		TriggerID: req.Trigger.ID,
		From:      req.From,
		Content:   reply.Content,
		Kind:      reply.Kind,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, ReplyChannel(req.ConversationID), body).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("reply_publish").Inc()
	}
}
