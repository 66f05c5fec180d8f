package conversation

import (
	"slices"
	"sort"
	"sync"
	"time"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/benbjohnson/clock"
)

// EventKind names what changed in a conversation.
type EventKind string

const (
	MessageAppended    EventKind = "message_appended"
	TypingChanged      EventKind = "typing_changed"
	ReadReceiptUpdated EventKind = "read_receipt_updated"
)

// Event is delivered to subscribers after a change was applied.
type Event struct {
	Kind           EventKind       `json:"kind"`
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message,omitempty"`
	ParticipantID  string          `json:"participant_id,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
}

type typingEntry struct {
	expiresAt time.Time
	timer     *clock.Timer
	gen       uint64
}

type pendingReply struct {
	cancel func()
}

// thread is the state of one deal conversation. All fields are guarded by mu.
type thread struct {
	mu sync.Mutex

	deal     models.Deal
	messages []models.Message
	nextSeq  uint64

	typing    map[string]*typingEntry
	typingGen uint64

	replies   map[uint64]pendingReply
	nextReply uint64

	simStop chan struct{}

	open bool
	dead bool
}

func newThread(deal models.Deal) *thread {
	return &thread{
		deal:    deal,
		typing:  make(map[string]*typingEntry),
		replies: make(map[uint64]pendingReply),
	}
}

// insertLocked places msg after every message that sorts before or equal to
// it, so equal timestamps keep insertion order.
func (t *thread) insertLocked(msg models.Message) {
	i := sort.Search(len(t.messages), func(i int) bool {
		return msg.Before(t.messages[i])
	})
	t.messages = slices.Insert(t.messages, i, msg)
}

func (t *thread) findLocked(messageID string) int {
	return slices.IndexFunc(t.messages, func(m models.Message) bool {
		return m.ID == messageID
	})
}

func (t *thread) typingLocked(now time.Time) []string {
	var out []string
	for id, e := range t.typing {
		if now.Before(e.expiresAt) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// closeLocked marks the view closed and cancels everything scheduled for it.
func (t *thread) closeLocked(reason string) {
	if t.open {
		t.open = false
		observability.ActiveConversations.Dec()
	}
	for id, e := range t.typing {
		if e.timer.Stop() {
			observability.TimersCancelled.WithLabelValues("typing", reason).Inc()
		}
		delete(t.typing, id)
	}
	for id, r := range t.replies {
		r.cancel()
		observability.TimersCancelled.WithLabelValues("reply", reason).Inc()
		delete(t.replies, id)
	}
	if t.simStop != nil {
		close(t.simStop)
		t.simStop = nil
		observability.TimersCancelled.WithLabelValues("typing_simulation", reason).Inc()
	}
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
