package conversation

import (
	"context"
	"strings"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/google/uuid"
)

// SystemSenderID is the sender of system messages.
const SystemSenderID = "system"

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// AppendMessage appends a text message from senderID. Blank content, an
// unknown conversation, a sender outside the deal, or an inactive session
// make it a no-op reported by the second return value.
func (m *Manager) AppendMessage(conversationID, senderID, content string) (models.Message, bool) {
	return m.appendKind(conversationID, senderID, content, models.MessageKindText)
}

// AppendFile appends a file message whose content is the file name.
func (m *Manager) AppendFile(conversationID, senderID, fileName string) (models.Message, bool) {
	return m.appendKind(conversationID, senderID, fileName, models.MessageKindFile)
}

// AppendSystem appends a message authored by the platform itself, such as a
// deal status change.
func (m *Manager) AppendSystem(conversationID, content string) (models.Message, bool) {
	return m.appendKind(conversationID, SystemSenderID, content, models.MessageKindSystem)
}

func (m *Manager) appendKind(conversationID, senderID, content string, kind models.MessageKind) (models.Message, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		observability.MessagesRejected.WithLabelValues("empty").Inc()
		return models.Message{}, false
	}
	t := m.thread(conversationID)
	if t == nil {
		observability.MessagesRejected.WithLabelValues("unknown_conversation").Inc()
		m.log.LogRejected(context.Background(), "append", "unknown conversation", map[string]interface{}{
			"conversation_id": conversationID,
		})
		return models.Message{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return models.Message{}, false
	}
	if kind != models.MessageKindSystem && !t.deal.HasParticipant(senderID) {
		observability.MessagesRejected.WithLabelValues("not_participant").Inc()
		return models.Message{}, false
	}
	return m.appendLocked(t, senderID, content, kind), true
}

// appendLocked stores a message and clears the sender's typing flag.
func (m *Manager) appendLocked(t *thread, senderID, content string, kind models.MessageKind) models.Message {
	t.nextSeq++
	msg := models.Message{
		ID:             newMessageID(),
		ConversationID: t.deal.ID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      m.clock.Now(),
		Seq:            t.nextSeq,
		ReadBy:         []string{senderID},
	}
	t.insertLocked(msg)
	observability.MessagesAppended.WithLabelValues(string(kind)).Inc()

	if e, ok := t.typing[senderID]; ok {
		e.timer.Stop()
		delete(t.typing, senderID)
		observability.TypingTransitions.WithLabelValues("idle", "message_sent").Inc()
		m.emit(Event{Kind: TypingChanged, ConversationID: t.deal.ID, ParticipantID: senderID, Typing: false})
	}

	out := msg.Clone()
	m.emit(Event{Kind: MessageAppended, ConversationID: t.deal.ID, Message: &out})
	return msg.Clone()
}

// MarkRead adds readerID to the message's read receipts. It reports whether
// the set grew; repeated calls are no-ops.
func (m *Manager) MarkRead(conversationID, messageID, readerID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead || !t.deal.HasParticipant(readerID) {
		return false
	}
	i := t.findLocked(messageID)
	if i < 0 {
		return false
	}
	return m.markReadLocked(t, i, readerID)
}

// MarkConversationRead marks every message of the conversation as read by
// readerID and returns how many receipts were added.
func (m *Manager) MarkConversationRead(conversationID, readerID string) int {
	t := m.thread(conversationID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead || !t.deal.HasParticipant(readerID) {
		return 0
	}
	n := 0
	for i := range t.messages {
		if m.markReadLocked(t, i, readerID) {
			n++
		}
	}
	return n
}

func (m *Manager) markReadLocked(t *thread, i int, readerID string) bool {
	msg := &t.messages[i]
	if msg.IsReadBy(readerID) {
		return false
	}
	msg.ReadBy = append(msg.ReadBy, readerID)
	observability.ReadReceipts.Inc()

	out := msg.Clone()
	m.emit(Event{
		Kind:           ReadReceiptUpdated,
		ConversationID: t.deal.ID,
		Message:        &out,
		MessageID:      msg.ID,
		ParticipantID:  readerID,
	})
	return true
}

// Messages returns the ordered log of a conversation.
func (m *Manager) Messages(conversationID string) []models.Message {
	t := m.thread(conversationID)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMessages(t.messages)
}

// TranscriptEntry is a message framed for one viewer.
type TranscriptEntry struct {
	Message models.Message `json:"message"`
	// Own is true for messages the viewer sent.
	Own bool `json:"own"`
	// ShowAvatar is true when the sender differs from the previous entry.
	ShowAvatar bool `json:"show_avatar"`
	// ReadByCounterparty drives the double check on the viewer's own messages.
	ReadByCounterparty bool `json:"read_by_counterparty"`
}

// Transcript frames the conversation for viewerID.
func (m *Manager) Transcript(conversationID, viewerID string) []TranscriptEntry {
	t := m.thread(conversationID)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	counterparty := t.deal.Counterparty(viewerID)
	out := make([]TranscriptEntry, len(t.messages))
	for i, msg := range t.messages {
		own := msg.SenderID == viewerID
		out[i] = TranscriptEntry{
			Message:            msg.Clone(),
			Own:                own,
			ShowAvatar:         i == 0 || t.messages[i-1].SenderID != msg.SenderID,
			ReadByCounterparty: own && counterparty != "" && msg.IsReadBy(counterparty),
		}
	}
	return out
}
