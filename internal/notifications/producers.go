package notifications

import (
	"fmt"
	"net/url"

	"dealroom/internal/models"
)

// DealURL is where deal lifecycle notifications link to.
func DealURL(dealID string) string {
	return "/deals/" + url.PathEscape(dealID)
}

// ChatURL opens the deal's conversation.
func ChatURL(dealID string) string {
	return "/chat?deal=" + url.QueryEscape(dealID)
}

// DealCreated tells the counterparty a deal was opened with them.
func DealCreated(deal models.Deal, recipientID string) models.Notification {
	return models.Notification{
		UserID:    recipientID,
		Title:     "New deal proposal",
		Message:   fmt.Sprintf("%q was created and is awaiting your response.", deal.Title),
		Type:      models.NotificationInfo,
		ActionURL: DealURL(deal.ID),
	}
}

// DealAccepted announces an accepted deal.
func DealAccepted(deal models.Deal, recipientID string) models.Notification {
	return models.Notification{
		UserID:    recipientID,
		Title:     "Deal accepted",
		Message:   fmt.Sprintf("%q has been accepted.", deal.Title),
		Type:      models.NotificationSuccess,
		ActionURL: DealURL(deal.ID),
	}
}

// DealRejected announces a rejected deal.
func DealRejected(deal models.Deal, recipientID string) models.Notification {
	return models.Notification{
		UserID:    recipientID,
		Title:     "Deal rejected",
		Message:   fmt.Sprintf("%q has been rejected.", deal.Title),
		Type:      models.NotificationWarning,
		ActionURL: DealURL(deal.ID),
	}
}

// NewMessage announces an incoming chat message. The notification id is
// derived from the message id so a redelivered message is not counted twice.
func NewMessage(deal models.Deal, msg models.Message, senderName, recipientID string) models.Notification {
	if senderName == "" {
		senderName = "Your counterparty"
	}
	return models.Notification{
		ID:        "msg-" + msg.ID,
		UserID:    recipientID,
		Title:     fmt.Sprintf("New message from %s", senderName),
		Message:   preview(msg.Content, 80),
		Type:      models.NotificationInfo,
		CreatedAt: msg.CreatedAt,
		ActionURL: ChatURL(deal.ID),
	}
}

// ForDealStatus picks the producer matching a status change. ok is false
// for statuses that do not notify.
func ForDealStatus(deal models.Deal, recipientID string) (models.Notification, bool) {
	switch deal.Status {
	case models.DealStatusPending:
		return DealCreated(deal, recipientID), true
	case models.DealStatusAccepted:
		return DealAccepted(deal, recipientID), true
	case models.DealStatusRejected:
		return DealRejected(deal, recipientID), true
	}
	return models.Notification{}, false
}

func preview(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
