// Package engine composes the stores of one client session: session,
// preferences, conversations and notifications, plus the persistence and
// event fan-out around them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dealroom/internal/conversation"
	"dealroom/internal/directory"
	"dealroom/internal/gating"
	"dealroom/internal/models"
	"dealroom/internal/notifications"
	"dealroom/internal/observability"
	"dealroom/internal/persist"
	"dealroom/internal/preferences"
	"dealroom/internal/session"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultRootKey is the storage key of the persisted root document.
const DefaultRootKey = "persist:root"

const defaultEventBuffer = 256

// Publisher fans events out to connected clients. Conversation events are
// addressed to the user whose engine produced them. *realtime.Notifier and
// realtime.LocalPublisher implement it.
type Publisher interface {
	PublishConversation(ctx context.Context, userID, conversationID, eventType string, payload any) error
	PublishUser(ctx context.Context, userID, eventType string, payload any) error
}

// TokenAuth resolves a stored session token. *session.TokenProvider
// implements it.
type TokenAuth interface {
	ForToken(token string) session.AuthProvider
}

// Deps are the collaborators of an Engine. Directory and Storage are
// required.
type Deps struct {
	Directory     directory.Directory
	Storage       persist.Storage
	RootKey       string
	Flags         gating.FlagChecker
	Publisher     Publisher
	Clock         clock.Clock
	ReplySource   conversation.ReplySource
	SystemTheme   preferences.SystemSignal
	Conversation  conversation.Config
	Notifications notifications.Config

	// Auth revalidates a restored session token; nil keeps whatever was
	// persisted.
	Auth TokenAuth
	// SimulateTyping decides per opened chat whether the counterparty typing
	// pulse runs for user; nil means always.
	SimulateTyping func(user models.User) bool
	// EventBuffer bounds the queue of events awaiting publication.
	EventBuffer int
}

// ChatView is what the chat screen renders for one deal.
type ChatView struct {
	Found        bool                           `json:"found"`
	Deal         models.Deal                    `json:"deal"`
	Counterparty models.Participant             `json:"counterparty"`
	Transcript   []conversation.TranscriptEntry `json:"transcript"`
	Typing       []string                       `json:"typing"`
}

// Engine is the state of one client session.
type Engine struct {
	deps Deps

	session   *session.Store
	theme     *preferences.Store
	conv      *conversation.Manager
	notes     *notifications.Center
	persistor *persist.Persistor

	queue   chan job
	qmu     sync.RWMutex
	stopped bool
	done    chan struct{}
	cancels []func()

	// chats caches what an opened chat needs to announce incoming messages
	// without a directory round trip.
	cmu   sync.Mutex
	chats map[string]chatInfo

	log *observability.StoreLogger
}

type chatInfo struct {
	deal             models.Deal
	counterpartyName string
}

type job struct {
	userID string
	conv   *conversation.Event
	note   *notifications.Event
	theme  *preferences.State
}

// New wires the stores together and starts the event pump.
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.RootKey == "" {
		deps.RootKey = DefaultRootKey
	}
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = defaultEventBuffer
	}

	opts := []conversation.Option{conversation.WithClock(deps.Clock)}
	if deps.ReplySource != nil {
		opts = append(opts, conversation.WithReplySource(deps.ReplySource))
	}

	e := &Engine{
		deps:      deps,
		session:   session.NewStore(),
		theme:     preferences.NewStore(deps.Storage, deps.SystemTheme),
		conv:      conversation.NewManager(deps.Conversation, deps.Directory, opts...),
		notes:     notifications.NewCenter(deps.Notifications, deps.Clock),
		persistor: persist.NewPersistor(deps.Storage, deps.RootKey, session.SliceKey, preferences.SliceKey),
		queue:     make(chan job, deps.EventBuffer),
		done:      make(chan struct{}),
		chats:     make(map[string]chatInfo),
		log:       observability.NewStoreLogger("engine"),
	}
	e.persistor.Register(e.session.Slice())
	e.persistor.Register(e.theme.Slice())

	e.cancels = append(e.cancels,
		e.session.Subscribe(e.onTransition),
		e.conv.Subscribe(func(ev conversation.Event) {
			e.enqueue(job{conv: &ev})
			e.announce(ev)
		}),
		e.notes.Subscribe(func(ev notifications.Event) { e.enqueue(job{note: &ev}) }),
		e.theme.Subscribe(func(st preferences.State) { e.enqueue(job{theme: &st}) }),
	)

	go e.pump()
	return e
}

// Session exposes the session store.
func (e *Engine) Session() *session.Store { return e.session }

// Theme exposes the preference store.
func (e *Engine) Theme() *preferences.Store { return e.theme }

// Conversations exposes the conversation manager.
func (e *Engine) Conversations() *conversation.Manager { return e.conv }

// Notifications exposes the notification center.
func (e *Engine) Notifications() *notifications.Center { return e.notes }

// Persistor exposes the persistence layer.
func (e *Engine) Persistor() *persist.Persistor { return e.persistor }

// onTransition gates the conversation manager and the notification center.
// It runs synchronously inside session transitions, including rehydration,
// so it must not flush.
func (e *Engine) onTransition(t session.Transition) {
	if t.Kind == session.LoggedOut || t.Current == nil {
		e.conv.Deactivate()
		e.notes.Deactivate()
		e.cmu.Lock()
		clear(e.chats)
		e.cmu.Unlock()
		return
	}
	v := gating.Derive(gating.SessionView{Authenticated: true, UserID: t.Current.ID, Role: t.Current.Role}, e.deps.Flags)
	if v.ConversationsActive {
		e.conv.Activate(t.Current.ID)
	} else {
		e.conv.Deactivate()
	}
	if v.NotificationsActive {
		e.notes.Activate(t.Current.ID)
	} else {
		e.notes.Deactivate()
	}
}

// Restore rehydrates the persisted slices and then resolves the theme, so a
// plain theme key overrides what the root document held. A corrupt root
// document is purged. With Deps.Auth set, a restored session whose token no
// longer verifies is logged out.
func (e *Engine) Restore(ctx context.Context) error {
	rerr := e.persistor.Rehydrate(ctx)
	if rerr != nil {
		e.log.LogError(ctx, rerr, "rehydrate")
	}
	if errors.Is(rerr, persist.ErrCorruptRoot) {
		if err := e.persistor.Purge(ctx); err != nil {
			rerr = errors.Join(rerr, err)
		}
	}
	if e.deps.Auth != nil && e.session.IsAuthenticated() {
		if err := e.session.Sync(ctx, e.deps.Auth.ForToken(e.session.Token())); err != nil {
			e.log.LogError(ctx, err, "revalidate session")
		}
		rerr = errors.Join(rerr, e.flush(ctx))
	}
	return errors.Join(rerr, e.theme.Initialize(ctx))
}

// Login signs user in and persists the session.
func (e *Engine) Login(ctx context.Context, user models.User, token string) error {
	if err := e.session.Login(user, token); err != nil {
		return err
	}
	return e.flush(ctx)
}

// Logout signs out, which cancels every timer and drops conversations and
// notifications, then persists the empty session.
func (e *Engine) Logout(ctx context.Context) error {
	if !e.session.Logout() {
		return nil
	}
	return e.flush(ctx)
}

// Forget logs out and removes everything persisted for this session,
// including the theme.
func (e *Engine) Forget(ctx context.Context) error {
	e.session.Logout()
	err := errors.Join(
		e.persistor.Purge(ctx),
		e.deps.Storage.RemoveItem(ctx, preferences.ThemeKey),
	)
	if err != nil {
		e.log.LogError(ctx, err, "purge")
	}
	return err
}

func (e *Engine) flush(ctx context.Context) error {
	if err := e.persistor.Flush(ctx); err != nil {
		e.log.LogError(ctx, err, "flush")
		return err
	}
	return nil
}

// Visibility derives what the current session may see.
func (e *Engine) Visibility() gating.Visibility {
	user, ok := e.session.CurrentUser()
	return gating.Derive(gating.SessionView{Authenticated: ok, UserID: user.ID, Role: user.Role}, e.deps.Flags)
}

// OpenChat opens the conversation of dealID for the signed-in user. An
// unknown deal yields a view with Found false and no error.
func (e *Engine) OpenChat(ctx context.Context, dealID string) (ChatView, error) {
	ctx, span := observability.StartOperation(ctx, "engine", "open_chat", attribute.String("deal_id", dealID))
	var err error
	defer func() { observability.EndOperation(span, err) }()

	view, err := e.conv.Open(ctx, dealID)
	if models.IsNotFound(err) {
		err = nil
		return ChatView{}, nil
	}
	if err != nil {
		return ChatView{}, err
	}

	out := ChatView{
		Found: true,
		Deal:  view.Deal,
	}
	out.Counterparty, err = e.deps.Directory.GetParticipant(ctx, view.CounterpartyID)
	if models.IsNotFound(err) {
		out.Counterparty = models.Participant{ID: view.CounterpartyID}
		err = nil
	}
	if err != nil {
		return ChatView{}, err
	}
	e.cmu.Lock()
	e.chats[dealID] = chatInfo{deal: view.Deal, counterpartyName: out.Counterparty.Name}
	e.cmu.Unlock()

	e.conv.MarkConversationRead(dealID, view.ViewerID)
	if user, ok := e.session.CurrentUser(); ok && (e.deps.SimulateTyping == nil || e.deps.SimulateTyping(user)) {
		e.conv.StartTypingSimulation(dealID)
	}
	out.Transcript = e.conv.Transcript(dealID, view.ViewerID)
	out.Typing = e.conv.TypingParticipants(dealID)
	return out, nil
}

// CloseChat cancels the conversation's timers.
func (e *Engine) CloseChat(dealID string) bool {
	return e.conv.Close(dealID)
}

// SendMessage appends the user's message and schedules the counterparty's
// answer. ok is false for blank content or a conversation that is not open.
func (e *Engine) SendMessage(ctx context.Context, dealID, content string) (models.Message, bool) {
	return e.send(ctx, "send_message", dealID, func(userID string) (models.Message, bool) {
		return e.conv.AppendMessage(dealID, userID, content)
	})
}

// SendFile shares a file by name in the deal's chat. The counterparty
// answers it like a text message.
func (e *Engine) SendFile(ctx context.Context, dealID, fileName string) (models.Message, bool) {
	return e.send(ctx, "send_file", dealID, func(userID string) (models.Message, bool) {
		return e.conv.AppendFile(dealID, userID, fileName)
	})
}

func (e *Engine) send(ctx context.Context, op, dealID string, appendFn func(userID string) (models.Message, bool)) (models.Message, bool) {
	_, span := observability.StartOperation(ctx, "engine", op, attribute.String("deal_id", dealID))
	defer observability.EndOperation(span, nil)

	user, authed := e.session.CurrentUser()
	if !authed {
		return models.Message{}, false
	}
	msg, ok := appendFn(user.ID)
	if !ok {
		return models.Message{}, false
	}
	e.conv.ScheduleCounterpartyReply(dealID, msg)
	return msg, true
}

// DealStatusChanged records a status change made by actorID: a system line
// in the deal's chat when it is loaded, and a notification unless the
// signed-in user made the change.
func (e *Engine) DealStatusChanged(deal models.Deal, actorID string) {
	user, ok := e.session.CurrentUser()
	if !ok || !deal.HasParticipant(user.ID) {
		return
	}
	e.conv.AppendSystem(deal.ID, fmt.Sprintf("Deal status changed to %s.", deal.Status))
	if user.ID == actorID {
		return
	}
	if n, ok := notifications.ForDealStatus(deal, user.ID); ok {
		e.notes.Add(n)
	}
}

// Typing reports keyboard activity of the signed-in user.
func (e *Engine) Typing(dealID string) bool {
	user, ok := e.session.CurrentUser()
	return ok && e.conv.SetTyping(dealID, user.ID)
}

// MarkRead records that the signed-in user read a message.
func (e *Engine) MarkRead(dealID, messageID string) bool {
	user, ok := e.session.CurrentUser()
	return ok && e.conv.MarkRead(dealID, messageID, user.ID)
}

// SetTheme stores an explicit theme choice.
func (e *Engine) SetTheme(ctx context.Context, mode models.ThemeMode) error {
	if err := e.theme.SetExplicit(ctx, mode); err != nil {
		return err
	}
	return e.flush(ctx)
}

// ToggleTheme flips the theme as an explicit choice.
func (e *Engine) ToggleTheme(ctx context.Context) (models.ThemeMode, error) {
	mode, err := e.theme.Toggle(ctx)
	if err != nil {
		return mode, err
	}
	return mode, e.flush(ctx)
}

// SystemThemeChanged forwards an operating system theme change.
func (e *Engine) SystemThemeChanged(ctx context.Context, pref models.ThemeMode) (bool, error) {
	if !pref.Valid() {
		return false, models.NewValidationError("unknown theme mode " + string(pref))
	}
	changed := e.theme.OnSystemPreferenceChanged(pref)
	return changed, e.flush(ctx)
}

// Shutdown ends the session state without persisting a logout, stops the
// event pump and waits for queued events until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.conv.Deactivate()
	e.notes.Deactivate()

	e.qmu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.queue)
	}
	e.qmu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs inside store callbacks and never blocks.
func (e *Engine) enqueue(j job) {
	user, _ := e.session.CurrentUser()
	j.userID = user.ID

	e.qmu.RLock()
	defer e.qmu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.queue <- j:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues("engine", "queue_full").Inc()
	}
}

// pump processes events in the order the stores emitted them.
func (e *Engine) pump() {
	defer close(e.done)
	ctx := context.Background()
	for j := range e.queue {
		switch {
		case j.conv != nil:
			e.handleConversation(ctx, j.userID, *j.conv)
		case j.note != nil:
			e.publishUser(ctx, j.userID, string(j.note.Kind), notificationPayload{Event: *j.note, Badge: e.notes.Badge()})
		case j.theme != nil:
			e.publishUser(ctx, j.userID, "theme_changed", j.theme)
		}
	}
}

type notificationPayload struct {
	notifications.Event
	Badge notifications.Badge `json:"badge"`
}

// handleConversation publishes the event to the connections of the user
// who owns this engine.
func (e *Engine) handleConversation(ctx context.Context, userID string, ev conversation.Event) {
	if e.deps.Publisher == nil || userID == "" {
		return
	}
	if err := e.deps.Publisher.PublishConversation(ctx, userID, ev.ConversationID, string(ev.Kind), ev); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "publish conversation event failed",
			slog.String("conversation_id", ev.ConversationID),
			slog.String("error", err.Error()),
		)
	}
}

// announce raises a notification for a message the counterparty sent. It
// runs inside the conversation callback, so the badge counts the message
// even when its publication is dropped.
func (e *Engine) announce(ev conversation.Event) {
	if ev.Kind != conversation.MessageAppended || ev.Message == nil {
		return
	}
	user, ok := e.session.CurrentUser()
	msg := *ev.Message
	if !ok || msg.SenderID == user.ID || msg.SenderID == conversation.SystemSenderID {
		return
	}
	e.cmu.Lock()
	info, known := e.chats[ev.ConversationID]
	e.cmu.Unlock()
	if !known {
		info.deal = models.Deal{ID: ev.ConversationID}
	}
	e.notes.Add(notifications.NewMessage(info.deal, msg, info.counterpartyName, user.ID))
}

func (e *Engine) publishUser(ctx context.Context, userID, eventType string, payload any) {
	if e.deps.Publisher == nil || userID == "" {
		return
	}
	if err := e.deps.Publisher.PublishUser(ctx, userID, eventType, payload); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "publish user event failed",
			slog.String("user_id", userID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}
