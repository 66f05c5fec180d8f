package models

import "time"

// DealStatus tracks where a negotiation stands.
type DealStatus string

const (
	DealStatusPending     DealStatus = "pending"
	DealStatusNegotiating DealStatus = "negotiating"
	DealStatusAccepted    DealStatus = "accepted"
	DealStatusRejected    DealStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusPending, DealStatusNegotiating, DealStatusAccepted, DealStatusRejected:
		return true
	}
	return false
}

// Deal is a negotiation between one buyer and one seller. Its ID doubles as
// the conversation ID of the deal's chat thread.
type Deal struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	Title     string     `gorm:"not null" json:"title"`
	BuyerID   string     `gorm:"size:64;not null;index" json:"buyer_id"`
	SellerID  string     `gorm:"size:64;not null;index" json:"seller_id"`
	Status    DealStatus `gorm:"size:16;default:'pending'" json:"status"`
	Value     float64    `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
}

// Participants returns the buyer and seller ids in that order.
func (d Deal) Participants() [2]string {
	return [2]string{d.BuyerID, d.SellerID}
}

// HasParticipant reports whether id is the buyer or the seller.
func (d Deal) HasParticipant(id string) bool {
	return id != "" && (id == d.BuyerID || id == d.SellerID)
}

// Counterparty returns the other participant of the deal, or "" when id
// does not take part in it.
func (d Deal) Counterparty(id string) string {
	switch id {
	case "":
		return ""
	case d.BuyerID:
		return d.SellerID
	case d.SellerID:
		return d.BuyerID
	}
	return ""
}
