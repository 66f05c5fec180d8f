// Package models contains data structures for the deal room domain.
package models

import (
	"fmt"
	"strings"
)

// Role is the platform role a user acts under.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

// User is the authenticated identity held by the session.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role"`
}

// Participant is the directory view of a user taking part in deals.
type Participant struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	Name   string `gorm:"not null" json:"name"`
	Avatar string `json:"avatar"`
	Role   Role   `gorm:"size:16;not null" json:"role"`
}

// AsUser converts a directory participant into a session identity.
func (p Participant) AsUser() User {
	return User{ID: p.ID, Name: p.Name, Avatar: p.Avatar, Role: p.Role}
}
