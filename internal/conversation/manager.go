// Package conversation keeps one ordered message log per deal together with
// the read receipts, typing presence and pending counterparty replies layered
// on top of it.
//
// All state is owned by a Manager bound to one signed-in user. Every
// conversation is guarded by its own mutex, so appends and read receipts on
// a conversation apply in call order while different conversations proceed
// independently. Timers are owned by the conversation they belong to and are
// cancelled when its view closes or the session ends.
package conversation

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"dealroom/internal/directory"
	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/benbjohnson/clock"
)

var (
	// ErrSessionInactive is returned when the manager is used without a
	// signed-in user.
	ErrSessionInactive = errors.New("conversation: session inactive")

	// ErrNotParticipant is returned when the viewer is not the buyer or the
	// seller of the deal.
	ErrNotParticipant = models.NewForbiddenError("not a participant of this deal")
)

// Config tunes timers and the synthetic reply behaviour.
type Config struct {
	TypingTimeout     time.Duration
	ReplyDelayMin     time.Duration
	ReplyDelayMax     time.Duration
	TypingSimInterval time.Duration
	ReplyPool         []string
}

// DefaultConfig mirrors the timings users see in the web client.
func DefaultConfig() Config {
	return Config{
		TypingTimeout: 2000 * time.Millisecond,
		ReplyDelayMin: 2000 * time.Millisecond,
		ReplyDelayMax: 3000 * time.Millisecond,
		ReplyPool:     DefaultReplyPool,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.ReplyDelayMin <= 0 && c.ReplyDelayMax <= 0 {
		c.ReplyDelayMin, c.ReplyDelayMax = d.ReplyDelayMin, d.ReplyDelayMax
	}
	if c.ReplyDelayMax < c.ReplyDelayMin {
		c.ReplyDelayMax = c.ReplyDelayMin
	}
	if len(c.ReplyPool) == 0 {
		c.ReplyPool = d.ReplyPool
	}
	return c
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, typically with clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithReplySource replaces the synthetic reply source.
func WithReplySource(src ReplySource) Option {
	return func(m *Manager) { m.replies = src }
}

// WithRand seeds the synthetic reply source.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// Manager owns the conversations of one signed-in user.
type Manager struct {
	cfg     Config
	clock   clock.Clock
	dir     directory.Directory
	replies ReplySource
	rng     *rand.Rand

	mu      sync.RWMutex
	active  bool
	userID  string
	threads map[string]*thread

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int

	log *observability.StoreLogger
}

// NewManager creates an inactive manager. Call Activate after login.
func NewManager(cfg Config, dir directory.Directory, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		clock:     clock.New(),
		dir:       dir,
		threads:   make(map[string]*thread),
		listeners: make(map[int]func(Event)),
		log:       observability.NewStoreLogger("conversation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(uint64(m.clock.Now().UnixNano()), 0x5eed))
	}
	if m.replies == nil {
		m.replies = NewSyntheticReplySource(m.clock, m.rng, m.cfg.ReplyDelayMin, m.cfg.ReplyDelayMax, m.cfg.ReplyPool)
	}
	return m
}

// Clock exposes the manager's time source.
func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// Activate binds the manager to a signed-in user. Activating a different
// user tears down everything that belonged to the previous one.
func (m *Manager) Activate(userID string) {
	m.mu.Lock()
	if m.active && m.userID == userID {
		m.mu.Unlock()
		return
	}
	dropped := m.resetLocked()
	m.active = userID != ""
	m.userID = userID
	m.mu.Unlock()

	teardown(dropped, "session_switch")
}

// Deactivate cancels every timer and drops all conversations. Used on logout.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	dropped := m.resetLocked()
	m.active = false
	m.userID = ""
	m.mu.Unlock()

	teardown(dropped, "logout")
}

func (m *Manager) resetLocked() []*thread {
	dropped := make([]*thread, 0, len(m.threads))
	for _, t := range m.threads {
		dropped = append(dropped, t)
	}
	m.threads = make(map[string]*thread)
	return dropped
}

func teardown(threads []*thread, reason string) {
	for _, t := range threads {
		t.mu.Lock()
		t.dead = true
		t.closeLocked(reason)
		t.mu.Unlock()
	}
}

// Active reports whether a user is bound.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// UserID returns the bound user, or "".
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// View is what the chat screen needs right after opening a deal thread.
type View struct {
	Deal           models.Deal      `json:"deal"`
	ViewerID       string           `json:"viewer_id"`
	CounterpartyID string           `json:"counterparty_id"`
	Messages       []models.Message `json:"messages"`
}

// Open returns the conversation for dealID, creating it on first access.
// Unknown deals yield a not-found error; deals the user is not part of yield
// ErrNotParticipant.
func (m *Manager) Open(ctx context.Context, dealID string) (View, error) {
	ctx, span := observability.StartOperation(ctx, "conversation", "open")
	var err error
	defer func() { observability.EndOperation(span, err) }()

	m.mu.RLock()
	active, userID := m.active, m.userID
	m.mu.RUnlock()
	if !active {
		err = ErrSessionInactive
		return View{}, err
	}

	deal, err := m.dir.GetDeal(ctx, dealID)
	if err != nil {
		return View{}, err
	}
	if !deal.HasParticipant(userID) {
		err = ErrNotParticipant
		return View{}, err
	}

	m.mu.Lock()
	if !m.active || m.userID != userID {
		m.mu.Unlock()
		err = ErrSessionInactive
		return View{}, err
	}
	t, ok := m.threads[dealID]
	if !ok {
		t = newThread(deal)
		m.threads[dealID] = t
	}
	m.mu.Unlock()

	t.mu.Lock()
	t.deal = deal
	if !t.open {
		t.open = true
		observability.ActiveConversations.Inc()
	}
	v := View{
		Deal:           deal,
		ViewerID:       userID,
		CounterpartyID: deal.Counterparty(userID),
		Messages:       cloneMessages(t.messages),
	}
	t.mu.Unlock()

	if !ok {
		m.log.LogTransition(ctx, "create", map[string]interface{}{"conversation_id": dealID})
	}
	return v, nil
}

// Close cancels the typing and reply timers of a conversation whose view is
// no longer displayed. Messages are kept. It reports whether a view was open.
func (m *Manager) Close(conversationID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return false
	}
	t.closeLocked("view_closed")
	return true
}

// IsOpen reports whether the conversation's view is open.
func (m *Manager) IsOpen(conversationID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// thread returns the live conversation or nil when the manager is inactive
// or the conversation was never opened.
func (m *Manager) thread(conversationID string) *thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return nil
	}
	return m.threads[conversationID]
}

// Subscribe registers fn for conversation events and returns its cancel
// func. Events of one conversation are delivered in the order the changes
// were applied, while that conversation is locked: fn must not call back
// into the Manager.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lmu.Unlock()

	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

func (m *Manager) emit(e Event) {
	m.lmu.Lock()
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Snapshot is an immutable copy of one conversation.
type Snapshot struct {
	ConversationID string           `json:"conversation_id"`
	Participants   [2]string        `json:"participants"`
	Messages       []models.Message `json:"messages"`
	Typing         []string         `json:"typing"`
	Open           bool             `json:"open"`
}

// Snapshot copies the conversation state.
func (m *Manager) Snapshot(conversationID string) (Snapshot, bool) {
	t := m.thread(conversationID)
	if t == nil {
		return Snapshot{}, false
	}
	now := m.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ConversationID: conversationID,
		Participants:   t.deal.Participants(),
		Messages:       cloneMessages(t.messages),
		Typing:         t.typingLocked(now),
		Open:           t.open,
	}, true
}

// Summary is the conversation list entry shown for one deal.
type Summary struct {
	ConversationID string          `json:"conversation_id"`
	DealTitle      string          `json:"deal_title"`
	LastMessage    *models.Message `json:"last_message,omitempty"`
	UnreadCount    int             `json:"unread_count"`
	Typing         []string        `json:"typing"`
}

// Summaries lists every known conversation for the bound user, most recent
// activity first.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	if !m.active {
		m.mu.RUnlock()
		return nil
	}
	userID := m.userID
	threads := make([]*thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	m.mu.RUnlock()

	now := m.clock.Now()
	out := make([]Summary, 0, len(threads))
	for _, t := range threads {
		t.mu.Lock()
		s := Summary{
			ConversationID: t.deal.ID,
			DealTitle:      t.deal.Title,
			Typing:         t.typingLocked(now),
		}
		if n := len(t.messages); n > 0 {
			last := t.messages[n-1].Clone()
			s.LastMessage = &last
		}
		for _, msg := range t.messages {
			if msg.SenderID != userID && !msg.IsReadBy(userID) {
				s.UnreadCount++
			}
		}
		t.mu.Unlock()
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if c := lastActivity(b).Compare(lastActivity(a)); c != 0 {
			return c
		}
		return strings.Compare(a.ConversationID, b.ConversationID)
	})
	return out
}

func lastActivity(s Summary) time.Time {
	if s.LastMessage == nil {
		return time.Time{}
	}
	return s.LastMessage.CreatedAt
}
