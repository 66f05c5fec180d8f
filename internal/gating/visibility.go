package gating

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"dealroom/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed navigation.yaml
var navigationYAML []byte

// NavItem is one navigation entry.
type NavItem struct {
	Name     string       `yaml:"name" json:"name"`
	Href     string       `yaml:"href" json:"href"`
	Icon     string       `yaml:"icon" json:"icon,omitempty"`
	Requires []Capability `yaml:"requires" json:"requires,omitempty"`
	Flag     string       `yaml:"flag" json:"flag,omitempty"`
}

// Public reports whether the entry needs no capability.
func (n NavItem) Public() bool {
	return len(n.Requires) == 0
}

// Catalog is the ordered list of all navigation entries.
type Catalog struct {
	Items []NavItem `yaml:"items"`
}

// ParseCatalog decodes a YAML catalog and checks it.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse navigation catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Items))
	for i, item := range c.Items {
		if item.Name == "" || !strings.HasPrefix(item.Href, "/") {
			return Catalog{}, fmt.Errorf("navigation item %d: name and absolute href required", i)
		}
		if seen[item.Href] {
			return Catalog{}, fmt.Errorf("navigation item %q: duplicate href %s", item.Name, item.Href)
		}
		seen[item.Href] = true
	}
	return c, nil
}

var defaultCatalog = sync.OnceValue(func() Catalog {
	c, err := ParseCatalog(navigationYAML)
	if err != nil {
		panic(err)
	}
	return c
})

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	return defaultCatalog()
}

// SessionView is the part of the session gating depends on.
type SessionView struct {
	Authenticated bool
	UserID        string
	Role          models.Role
}

// FlagChecker is satisfied by *featureflags.Manager.
type FlagChecker interface {
	Defined(name string) bool
	Enabled(name, userID string, role models.Role) bool
}

// Visibility is what a session may see.
type Visibility struct {
	Authenticated       bool         `json:"authenticated"`
	Role                models.Role  `json:"role,omitempty"`
	Capabilities        []Capability `json:"capabilities"`
	Nav                 []NavItem    `json:"nav"`
	ConversationsActive bool         `json:"conversations_active"`
	NotificationsActive bool         `json:"notifications_active"`

	catalog []NavItem
}

// Derive computes visibility from the embedded catalog.
func Derive(s SessionView, flags FlagChecker) Visibility {
	return DefaultCatalog().Derive(s, flags)
}

// Derive filters the catalog for s. Without authentication the role is
// ignored and only public entries remain. Entries whose flag is configured
// and off for the user are hidden even when the role allows them.
func (c Catalog) Derive(s SessionView, flags FlagChecker) Visibility {
	caps := CapabilitySet{}
	if s.Authenticated {
		caps = RoleCapabilities(s.Role)
	}

	v := Visibility{
		Authenticated: s.Authenticated,
		Capabilities:  caps.Sorted(),
		Nav:           []NavItem{},
		catalog:       c.Items,
	}
	if s.Authenticated {
		v.Role = s.Role
		v.ConversationsActive = caps.Has(UseChat)
		v.NotificationsActive = caps.Has(ReceiveNotifications)
	}

	for _, item := range c.Items {
		if !caps.HasAll(item.Requires) {
			continue
		}
		if item.Flag != "" && flags != nil && flags.Defined(item.Flag) && !flags.Enabled(item.Flag, s.UserID, s.Role) {
			continue
		}
		v.Nav = append(v.Nav, item)
	}
	return v
}

// CanReach reports whether path falls under a visible entry. The most
// specific catalog entry decides, so hiding /deals/create does not leak
// through /deals.
func (v Visibility) CanReach(path string) bool {
	best := -1
	for i, item := range v.catalog {
		if !matches(item.Href, path) {
			continue
		}
		if best < 0 || len(item.Href) > len(v.catalog[best].Href) {
			best = i
		}
	}
	if best < 0 {
		return false
	}
	href := v.catalog[best].Href
	return slices.ContainsFunc(v.Nav, func(item NavItem) bool { return item.Href == href })
}

// Has reports whether the session holds capability c.
func (v Visibility) Has(c Capability) bool {
	return slices.Contains(v.Capabilities, c)
}

func matches(href, path string) bool {
	if href == "/" {
		return path == "/"
	}
	return path == href || strings.HasPrefix(path, href+"/")
}
