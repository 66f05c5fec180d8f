// Package gating derives what a session may see: which stores are live and
// which navigation entries are reachable.
package gating

import (
	"slices"

	"dealroom/internal/models"
)

// Capability is a permission granted through a role.
type Capability string

const (
	ViewDashboard        Capability = "view_dashboard"
	ManageDeals          Capability = "manage_deals"
	CreateDeals          Capability = "create_deals"
	UseChat              Capability = "use_chat"
	UseVideo             Capability = "use_video"
	ViewAnalytics        Capability = "view_analytics"
	ManageUsers          Capability = "manage_users"
	ReceiveNotifications Capability = "receive_notifications"
)

var roleCapabilities = map[models.Role][]Capability{
	models.RoleBuyer: {
		ViewDashboard, ManageDeals, CreateDeals, UseChat, UseVideo, ReceiveNotifications,
	},
	models.RoleSeller: {
		ViewDashboard, ManageDeals, CreateDeals, UseChat, UseVideo, ReceiveNotifications,
	},
	models.RoleAdmin: {
		ViewDashboard, ViewAnalytics, ManageUsers, ReceiveNotifications,
	},
}

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

// RoleCapabilities returns the capabilities of role. Unknown or empty roles
// have none.
func RoleCapabilities(role models.Role) CapabilitySet {
	caps := roleCapabilities[role]
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAll reports whether every capability in required is in the set.
func (s CapabilitySet) HasAll(required []Capability) bool {
	for _, c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Sorted lists the set in a stable order.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
