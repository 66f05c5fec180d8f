// Package notifications holds the signed-in user's notification list with
// unread accounting, dismissal and the badge and banner projections.
package notifications

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Config sizes the projections.
type Config struct {
	// BadgeCap is the largest count the badge displays before switching to
	// "<cap>+".
	BadgeCap int
	// BannerSize is how many unread notifications the banner shows.
	BannerSize int
}

// DefaultConfig matches the header dropdown and banner of the web client.
func DefaultConfig() Config {
	return Config{BadgeCap: 9, BannerSize: 3}
}

// EventKind names a change to the list.
type EventKind string

const (
	Added   EventKind = "notification_added"
	Updated EventKind = "notification_updated"
	Read    EventKind = "notification_read"
	Removed EventKind = "notification_removed"
	Cleared EventKind = "notifications_cleared"
	AllRead EventKind = "notifications_all_read"
)

// Event is delivered to subscribers after a change was applied.
type Event struct {
	Kind         EventKind            `json:"kind"`
	UserID       string               `json:"user_id"`
	Notification *models.Notification `json:"notification,omitempty"`
	IDs          []string             `json:"ids,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
}

// Badge is the unread indicator next to the bell icon.
type Badge struct {
	Count   int    `json:"count"`
	Label   string `json:"label"`
	Visible bool   `json:"visible"`
}

// Center is the notification list of one signed-in user. Mutations are
// serialized by a single mutex; the list is kept most recent first.
type Center struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	active  bool
	userID  string
	items   []models.Notification
	removed map[string]struct{}

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int

	log *observability.StoreLogger
}

// NewCenter returns an inactive center.
func NewCenter(cfg Config, clk clock.Clock) *Center {
	d := DefaultConfig()
	if cfg.BadgeCap <= 0 {
		cfg.BadgeCap = d.BadgeCap
	}
	if cfg.BannerSize <= 0 {
		cfg.BannerSize = d.BannerSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Center{
		cfg:       cfg,
		clock:     clk,
		removed:   make(map[string]struct{}),
		listeners: make(map[int]func(Event)),
		log:       observability.NewStoreLogger("notifications"),
	}
}

// Activate binds the center to userID. Switching users drops the list.
func (c *Center) Activate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.userID == userID {
		return
	}
	c.items = nil
	c.active = userID != ""
	c.userID = userID
}

// Deactivate drops the list. Removed ids stay removed for the lifetime of
// the center.
func (c *Center) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.active = false
	c.userID = ""
}

// Active reports whether a user is bound.
func (c *Center) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Add inserts n at the head of the list. A missing id, user or timestamp is
// filled in. An id that is already listed is replaced in place and keeps its
// read flag once set. Removed ids, other recipients, unknown types and an
// inactive session are rejected.
func (c *Center) Add(n models.Notification) (models.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return models.Notification{}, false
	}
	if n.UserID == "" {
		n.UserID = c.userID
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	if n.UserID != c.userID || !n.Type.Valid() {
		c.log.LogRejected(context.Background(), "add", "invalid notification", map[string]interface{}{
			"notification_id": n.ID,
			"type":            string(n.Type),
		})
		return models.Notification{}, false
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Message) == "" {
		return models.Notification{}, false
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, gone := c.removed[n.ID]; gone {
		return models.Notification{}, false
	}

	if i := c.indexLocked(n.ID); i >= 0 {
		prev := c.items[i]
		n.Read = n.Read || prev.Read
		if n.CreatedAt.IsZero() {
			n.CreatedAt = prev.CreatedAt
		}
		c.items[i] = n
		c.emitLocked(Updated, &n, nil)
		return n, true
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.clock.Now()
	}
	c.items = append([]models.Notification{n}, c.items...)
	observability.NotificationsAdded.WithLabelValues(string(n.Type)).Inc()
	c.emitLocked(Added, &n, nil)
	return n, true
}

// MarkRead flips one notification to read. It reports whether anything
// changed.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if !c.active || i < 0 || c.items[i].Read {
		return false
	}
	c.items[i].Read = true
	n := c.items[i]
	c.emitLocked(Read, &n, []string{id})
	return true
}

// MarkAllRead flips every unread notification and returns how many changed.
func (c *Center) MarkAllRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0
	}
	var ids []string
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			ids = append(ids, c.items[i].ID)
		}
	}
	if len(ids) > 0 {
		c.emitLocked(AllRead, nil, ids)
	}
	return len(ids)
}

// Remove dismisses a notification permanently.
func (c *Center) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if !c.active || i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.removed[id] = struct{}{}
	observability.NotificationsRemoved.WithLabelValues("remove").Inc()
	c.emitLocked(Removed, nil, []string{id})
	return true
}

// ClearAll dismisses every notification permanently and returns how many
// were dropped.
func (c *Center) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || len(c.items) == 0 {
		return 0
	}
	ids := make([]string, len(c.items))
	for i, n := range c.items {
		ids[i] = n.ID
		c.removed[n.ID] = struct{}{}
	}
	c.items = nil
	observability.NotificationsRemoved.WithLabelValues("clear_all").Add(float64(len(ids)))
	c.emitLocked(Cleared, nil, ids)
	return len(ids)
}

// List returns the notifications, most recent first. It is empty while no
// user is signed in.
func (c *Center) List() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	out := make([]models.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Get looks up one notification.
func (c *Center) Get(id string) (models.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if !c.active || i < 0 {
		return models.Notification{}, false
	}
	return c.items[i], true
}

// UnreadCount is the true number of unread notifications.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadLocked()
}

// Badge projects the unread count for display, capped at BadgeCap.
func (c *Center) Badge() Badge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return badgeFor(c.unreadLocked(), c.cfg.BadgeCap)
}

func badgeFor(unread, limit int) Badge {
	b := Badge{Count: min(unread, limit), Visible: unread > 0}
	switch {
	case unread > limit:
		b.Label = strconv.Itoa(limit) + "+"
	case unread > 0:
		b.Label = strconv.Itoa(unread)
	}
	return b
}

// BannerQueue returns the most recent unread notifications, most recent
// first, up to BannerSize.
func (c *Center) BannerQueue() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	out := make([]models.Notification, 0, c.cfg.BannerSize)
	for _, n := range c.items {
		if len(out) == c.cfg.BannerSize {
			break
		}
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

// Subscribe registers fn for list changes and returns its cancel func. fn
// runs while the center is locked and must not call back into it.
func (c *Center) Subscribe(fn func(Event)) func() {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Center) unreadLocked() int {
	if !c.active {
		return 0
	}
	n := 0
	for _, item := range c.items {
		if !item.Read {
			n++
		}
	}
	return n
}

func (c *Center) indexLocked(id string) int {
	for i, n := range c.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (c *Center) emitLocked(kind EventKind, n *models.Notification, ids []string) {
	e := Event{Kind: kind, UserID: c.userID, IDs: ids, UnreadCount: c.unreadLocked()}
	if n != nil {
		cp := *n
		e.Notification = &cp
	}

	c.lmu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
