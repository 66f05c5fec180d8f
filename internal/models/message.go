package models

import (
	"slices"
	"time"
)

// MessageKind distinguishes payload variants.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Message is one entry of a deal conversation. Seq is the insertion ordinal
// within its conversation and breaks createdAt ties.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
	Seq            uint64      `json:"seq"`
	ReadBy         []string    `json:"read_by"`
}

// IsReadBy reports whether participantID acknowledged the message.
func (m Message) IsReadBy(participantID string) bool {
	return slices.Contains(m.ReadBy, participantID)
}

// Before reports whether m sorts ahead of other in a conversation log.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	return m
}
