package conversation

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/benbjohnson/clock"
)

// DefaultReplyPool holds the canned answers of the synthetic counterparty.
var DefaultReplyPool = []string{
	"Thanks for the update, let me review this with my team.",
	"That works for us. Can you confirm the delivery timeline?",
	"Could we revisit the unit price before we move forward?",
	"Sounds good. I'll send over the revised terms shortly.",
	"Let me check availability and get back to you today.",
	"Agreed on quantity. What payment terms do you propose?",
	"Can we schedule a quick call to go over the details?",
}

// ReplyRequest asks a ReplySource for the counterparty's answer to Trigger.
type ReplyRequest struct {
	ConversationID string         `json:"conversation_id"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Trigger        models.Message `json:"trigger"`
}

// Reply is the counterparty's answer.
type Reply struct {
	Content string             `json:"content"`
	Kind    models.MessageKind `json:"kind,omitempty"`
}

// ReplySource produces the counterparty's asynchronous answer. Await must not
// block: it arranges for deliver to be called at most once and returns a func
// that prevents delivery when called first. ctx is cancelled together with the
// returned func.
type ReplySource interface {
	Await(ctx context.Context, req ReplyRequest, deliver func(Reply)) (cancel func())
}

// SyntheticReplySource answers after a random delay with a line drawn from a
// fixed pool. It models counterparty behaviour when no transport exists.
type SyntheticReplySource struct {
	clock    clock.Clock
	min, max time.Duration
	pool     []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticReplySource waits a uniformly drawn delay in [min, max].
func NewSyntheticReplySource(clk clock.Clock, rng *rand.Rand, min, max time.Duration, pool []string) *SyntheticReplySource {
	if len(pool) == 0 {
		pool = DefaultReplyPool
	}
	if max < min {
		max = min
	}
	return &SyntheticReplySource{clock: clk, min: min, max: max, pool: pool, rng: rng}
}

func (s *SyntheticReplySource) draw() (time.Duration, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.min
	if span := s.max - s.min; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	return delay, s.pool[s.rng.IntN(len(s.pool))]
}

// Await schedules the reply on the source's clock.
func (s *SyntheticReplySource) Await(_ context.Context, _ ReplyRequest, deliver func(Reply)) func() {
	delay, content := s.draw()
	timer := s.clock.AfterFunc(delay, func() {
		deliver(Reply{Content: content, Kind: models.MessageKindText})
	})
	return func() { timer.Stop() }
}

// ScheduleCounterpartyReply arranges an answer from the other participant to
// trigger, which must have been sent by the signed-in user in an open view.
// While waiting the counterparty is shown as typing. On delivery the
// counterparty first reads everything the user sent, then answers.
func (m *Manager) ScheduleCounterpartyReply(conversationID string, trigger models.Message) bool {
	userID := m.UserID()
	t := m.thread(conversationID)
	if t == nil || trigger.SenderID != userID {
		return false
	}

	t.mu.Lock()
	counterparty := t.deal.Counterparty(userID)
	if t.dead || !t.open || counterparty == "" {
		t.mu.Unlock()
		return false
	}
	t.nextReply++
	id := t.nextReply
	ctx, cancelCtx := context.WithCancel(context.Background())
	t.replies[id] = pendingReply{cancel: cancelCtx}
	m.setTypingLocked(t, counterparty)
	t.mu.Unlock()

	req := ReplyRequest{
		ConversationID: conversationID,
		From:           counterparty,
		To:             userID,
		Trigger:        trigger.Clone(),
	}
	// Await runs unlocked so a source may deliver from any goroutine.
	cancelSrc := m.replies.Await(ctx, req, func(r Reply) {
		m.deliverReply(t, id, counterparty, r)
	})

	t.mu.Lock()
	_, pending := t.replies[id]
	if pending {
		t.replies[id] = pendingReply{cancel: func() {
			cancelSrc()
			cancelCtx()
		}}
	}
	t.mu.Unlock()
	if !pending {
		// Delivered or cancelled while Await was running.
		cancelSrc()
	}

	observability.RepliesScheduled.WithLabelValues(sourceLabel(m.replies)).Inc()
	return true
}

func (m *Manager) deliverReply(t *thread, id uint64, from string, r Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending, ok := t.replies[id]
	if !ok || t.dead {
		return
	}
	delete(t.replies, id)
	pending.cancel()

	if r.Content == "" {
		return
	}
	kind := r.Kind
	if kind == "" {
		kind = models.MessageKindText
	}
	for i := range t.messages {
		if t.messages[i].SenderID != from {
			m.markReadLocked(t, i, from)
		}
	}
	m.appendLocked(t, from, r.Content, kind)
	observability.RepliesDelivered.Inc()
}

// PendingReplies reports how many replies are scheduled for a conversation.
func (m *Manager) PendingReplies(conversationID string) int {
	t := m.thread(conversationID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replies)
}

func sourceLabel(src ReplySource) string {
	if _, ok := src.(*SyntheticReplySource); ok {
		return "synthetic"
	}
	return "transport"
}
