package models

import (
	"fmt"
	"strings"
)

// ThemeMode is the effective display theme.
type ThemeMode string

const (
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

// Valid reports whether m is light or dark.
func (m ThemeMode) Valid() bool {
	return m == ThemeLight || m == ThemeDark
}

// Opposite returns the other mode.
func (m ThemeMode) Opposite() ThemeMode {
	if m == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// ParseThemeMode accepts "light" or "dark" in any case.
func ParseThemeMode(s string) (ThemeMode, error) {
	m := ThemeMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown theme mode %q", s))
	}
	return m, nil
}
