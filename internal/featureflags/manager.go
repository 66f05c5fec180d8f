// Package featureflags evaluates rollout flags configured as a key=value list.
package featureflags

import (
	"hash/fnv"
	"maps"
	"slices"
	"strconv"
	"strings"

	"dealroom/internal/models"
)

// Flags the service consults.
const (
	// VideoCalls shows the Video Calls navigation entry.
	VideoCalls = "video_calls"
	// TypingSimulation runs the periodic counterparty typing pulse.
	TypingSimulation = "typing_simulation"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "video_calls=seller|admin,typing_simulation=off,analytics=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return &Manager{flags: out}
}

// Defined reports whether the flag appears in the configuration at all.
func (m *Manager) Defined(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.flags[normalize(name)]
	return ok
}

// Enabled returns whether a flag is on for a user of role. Supported values:
//   - on/true/1 and off/false/0
//   - N% deterministic per-user rollout, e.g. 25%
//   - a role list such as seller|admin
func (m *Manager) Enabled(name, userID string, role models.Role) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	if pctRaw, isPct := strings.CutSuffix(value, "%"); isPct {
		pct, err := strconv.Atoi(pctRaw)
		switch {
		case err != nil || pct <= 0:
			return false
		case pct >= 100:
			return true
		case userID == "":
			return false
		}
		return rolloutBucket(name, userID) < pct
	}

	roles := strings.Split(value, "|")
	return role != "" && slices.Contains(roles, string(role))
}

// Snapshot returns the evaluated state of every configured flag for one user.
func (m *Manager) Snapshot(userID string, role models.Role) map[string]bool {
	out := make(map[string]bool)
	if m == nil {
		return out
	}
	for name := range maps.Keys(m.flags) {
		out[name] = m.Enabled(name, userID, role)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
