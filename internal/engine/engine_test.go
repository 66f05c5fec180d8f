package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"dealroom/internal/conversation"
	"dealroom/internal/directory"
	"dealroom/internal/featureflags"
	"dealroom/internal/models"
	"dealroom/internal/persist"
	"dealroom/internal/preferences"
	"dealroom/internal/realtime"
	"dealroom/internal/session"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

var (
	buyer  = models.User{ID: "buyer-A", Name: "Ava", Role: models.RoleBuyer}
	seller = models.User{ID: "seller-B", Name: "Ben", Role: models.RoleSeller}
	admin  = models.User{ID: "admin-C", Name: "Cy", Role: models.RoleAdmin}
)

func testDirectory() *directory.MemoryDirectory {
	dir := directory.NewMemoryDirectory()
	for _, u := range []models.User{buyer, seller, admin} {
		dir.PutParticipant(models.Participant{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	dir.PutDeal(models.Deal{ID: "D1", Title: "Steel coils", BuyerID: buyer.ID, SellerID: seller.ID})
	return dir
}

type recordingPublisher struct {
	mu   sync.Mutex
	conv []string
	user []string
}

func (p *recordingPublisher) PublishConversation(_ context.Context, userID, conversationID, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv = append(p.conv, userID+"/"+conversationID+"/"+eventType)
	return nil
}

func (p *recordingPublisher) PublishUser(_ context.Context, userID, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = append(p.user, userID+"/"+eventType)
	return nil
}

func (p *recordingPublisher) userEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.user...)
}

func (p *recordingPublisher) convEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.conv...)
}

type fixture struct {
	engine  *Engine
	clock   *clock.Mock
	storage *persist.MemoryStorage
	pub     *recordingPublisher
	deps    Deps
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	mock := clock.NewMock()
	storage := persist.NewMemoryStorage()
	pub := &recordingPublisher{}
	deps := Deps{
		Directory:   testDirectory(),
		Storage:     storage,
		Publisher:   pub,
		Clock:       mock,
		SystemTheme: preferences.StaticSignal(models.ThemeLight),
		Conversation: conversation.Config{
			ReplyDelayMin: 2500 * time.Millisecond,
			ReplyDelayMax: 2500 * time.Millisecond,
		},
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	e := New(deps)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return &fixture{engine: e, clock: mock, storage: storage, pub: pub, deps: deps}
}

func TestScenario_ReplyRaisesBadgeOnce(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	ctx := context.Background()
	require.NoError(t, e.Login(ctx, buyer, "tok"))

	view, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)
	require.True(t, view.Found)
	assert.Equal(t, seller.ID, view.Counterparty.ID)
	assert.Equal(t, "Ben", view.Counterparty.Name)

	msg1, ok := e.SendMessage(ctx, "D1", "hello")
	require.True(t, ok)
	assert.Equal(t, 0, e.Notifications().UnreadCount())

	f.clock.Add(2500 * time.Millisecond)
	assert.Eventually(t, func() bool { return e.Notifications().UnreadCount() == 1 }, testEventuallyTimeout, testPollInterval)

	msgs := e.Conversations().Messages("D1")
	require.Len(t, msgs, 2)
	assert.Equal(t, seller.ID, msgs[1].SenderID)

	e.Conversations().MarkRead("D1", msg1.ID, seller.ID)
	assert.ElementsMatch(t, []string{buyer.ID, seller.ID}, e.Conversations().Messages("D1")[0].ReadBy)

	n := e.Notifications().List()[0]
	assert.Equal(t, "/chat?deal=D1", n.ActionURL)
	assert.Equal(t, "New message from Ben", n.Title)

	// The badge grows by exactly one per reply.
	assert.Never(t, func() bool { return e.Notifications().UnreadCount() > 1 }, 100*time.Millisecond, testPollInterval)

	e.Notifications().MarkAllRead()
	assert.Equal(t, 0, e.Notifications().Badge().Count)
	assert.False(t, e.Notifications().Badge().Visible)
}

func TestGating_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	ctx := context.Background()

	_, err := e.OpenChat(ctx, "D1")
	assert.ErrorIs(t, err, conversation.ErrSessionInactive)
	assert.False(t, e.Typing("D1"))

	_, ok := e.Notifications().Add(models.Notification{Title: "x"})
	assert.False(t, ok)
	assert.Empty(t, e.Notifications().List())

	v := e.Visibility()
	assert.False(t, v.Authenticated)
	assert.False(t, v.ConversationsActive)
	assert.Len(t, v.Nav, 1)
}

func TestLogout_CancelsTimersAndClearsState(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	ctx := context.Background()
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)
	e.SendMessage(ctx, "D1", "hello")
	e.Notifications().Add(models.Notification{Title: "pending"})

	require.NoError(t, e.Logout(ctx))
	assert.False(t, e.Conversations().Active())
	assert.Empty(t, e.Notifications().List())

	f.clock.Add(5 * time.Second)
	assert.Never(t, func() bool { return e.Notifications().UnreadCount() > 0 }, 100*time.Millisecond, testPollInterval)

	raw, err := f.storage.GetItem(ctx, DefaultRootKey)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.JSONEq(t, `{"user":null,"is_authenticated":false}`, string(doc["auth"]))
}

func TestPersistence_RestoresSessionAndTheme(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Login(ctx, buyer, "tok"))
	require.NoError(t, f.engine.SetTheme(ctx, models.ThemeDark))

	stored, err := f.storage.GetItem(ctx, preferences.ThemeKey)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored)

	deps := f.deps
	deps.SystemTheme = preferences.StaticSignal(models.ThemeLight)
	restored := New(deps)
	defer func() { _ = restored.Shutdown(ctx) }()
	require.NoError(t, restored.Restore(ctx))

	user, ok := restored.Session().CurrentUser()
	require.True(t, ok)
	assert.Equal(t, buyer, user)
	assert.Equal(t, "tok", restored.Session().Token())
	assert.Equal(t, models.ThemeDark, restored.Theme().Mode())
	assert.True(t, restored.Conversations().Active(), "restored login activates the stores")

	changed, err := restored.SystemThemeChanged(ctx, models.ThemeLight)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ThemeDark, restored.Theme().Mode())
}

func TestTheme_SystemSignalWithoutExplicitChoice(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.SystemTheme = preferences.StaticSignal(models.ThemeDark) })
	ctx := context.Background()
	require.NoError(t, f.engine.Restore(ctx))
	assert.Equal(t, models.ThemeDark, f.engine.Theme().Mode())

	changed, err := f.engine.SystemThemeChanged(ctx, models.ThemeLight)
	require.NoError(t, err)
	assert.True(t, changed)

	mode, err := f.engine.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeDark, mode)
	assert.True(t, f.engine.Theme().Snapshot().Explicit)

	_, err = f.engine.SystemThemeChanged(ctx, "sepia")
	assert.Error(t, err)
}

func TestAdmin_NoConversationsButNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Login(ctx, admin, "tok"))

	assert.False(t, f.engine.Conversations().Active())
	assert.True(t, f.engine.Notifications().Active())
	assert.False(t, f.engine.Visibility().CanReach("/chat"))
	assert.True(t, f.engine.Visibility().CanReach("/users"))
}

func TestVisibility_FeatureFlags(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Flags = featureflags.NewManager("video_calls=off") })
	require.NoError(t, f.engine.Login(context.Background(), buyer, "tok"))
	assert.False(t, f.engine.Visibility().CanReach("/video"))
	assert.True(t, f.engine.Visibility().CanReach("/chat"))
}

func TestOpenChat_UnknownDeal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Login(context.Background(), buyer, "tok"))

	view, err := f.engine.OpenChat(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, view.Found)
}

func TestOpenChat_MarksCounterpartyMessagesRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)
	e.Conversations().AppendMessage("D1", seller.ID, "quote attached")
	require.True(t, e.CloseChat("D1"))

	view, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, view.Transcript, 1)
	assert.True(t, view.Transcript[0].Message.IsReadBy(buyer.ID))
	assert.False(t, view.Transcript[0].Own)
}

func TestEventsArePublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)

	require.True(t, e.Typing("D1"))
	e.SendMessage(ctx, "D1", "hello")
	f.clock.Add(2500 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return slices.Contains(f.pub.userEvents(), "buyer-A/notification_added")
	}, testEventuallyTimeout, testPollInterval)
	conv := f.pub.convEvents()
	assert.Contains(t, conv, "buyer-A/D1/typing_changed")
	assert.Contains(t, conv, "buyer-A/D1/message_appended")
	assert.Contains(t, conv, "buyer-A/D1/read_receipt_updated")
}

func TestShutdown_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Shutdown(context.Background()))
	require.NoError(t, f.engine.Shutdown(context.Background()))
	// Store callbacks after shutdown are dropped.
	f.engine.enqueue(job{})
}

func TestConversationEvents_ReachOnlyTheOwningUser(t *testing.T) {
	hub := realtime.NewHub()
	pub := realtime.LocalPublisher{Hub: hub}
	mock := clock.NewMock()
	dir := testDirectory()
	newEngine := func() *Engine {
		e := New(Deps{
			Directory: dir,
			Storage:   persist.NewMemoryStorage(),
			Publisher: pub,
			Clock:     mock,
			Conversation: conversation.Config{
				ReplyDelayMin: 2500 * time.Millisecond,
				ReplyDelayMax: 2500 * time.Millisecond,
			},
		})
		t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
		return e
	}
	ctx := context.Background()
	buyerEngine, sellerEngine := newEngine(), newEngine()
	require.NoError(t, buyerEngine.Login(ctx, buyer, "t1"))
	require.NoError(t, sellerEngine.Login(ctx, seller, "t2"))
	_, err := buyerEngine.OpenChat(ctx, "D1")
	require.NoError(t, err)
	_, err = sellerEngine.OpenChat(ctx, "D1")
	require.NoError(t, err)

	buyerSocket, err := hub.Register(buyer.ID, nil)
	require.NoError(t, err)
	sellerSocket, err := hub.Register(seller.ID, nil)
	require.NoError(t, err)
	buyerSocket.Follow("D1")
	sellerSocket.Follow("D1")

	_, ok := buyerEngine.SendMessage(ctx, "D1", "hello")
	require.True(t, ok)
	mock.Add(2500 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(buyerEngine.Conversations().Messages("D1")) == 2 && len(buyerSocket.Send) >= 4
	}, testEventuallyTimeout, testPollInterval)
	assert.Never(t, func() bool { return len(sellerSocket.Send) > 0 }, 100*time.Millisecond, testPollInterval)
	assert.Empty(t, sellerEngine.Conversations().Messages("D1"))
}

type blockingPublisher struct {
	release chan struct{}
}

func (p blockingPublisher) PublishConversation(context.Context, string, string, string, any) error {
	<-p.release
	return nil
}

func (p blockingPublisher) PublishUser(context.Context, string, string, any) error {
	<-p.release
	return nil
}

func TestCounterpartyReply_CountsWhenEventQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(d *Deps) {
		d.Publisher = blockingPublisher{release: release}
		d.EventBuffer = 1
	})
	t.Cleanup(func() { close(release) })
	e := f.engine
	ctx := context.Background()
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)

	_, ok := e.SendMessage(ctx, "D1", "hello")
	require.True(t, ok)
	f.clock.Add(2500 * time.Millisecond)

	assert.Eventually(t, func() bool { return len(e.Conversations().Messages("D1")) == 2 }, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, 1, e.Notifications().UnreadCount())
	assert.Equal(t, "New message from Ben", e.Notifications().List()[0].Title)
}

func TestSendFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)

	msg, ok := e.SendFile(ctx, "D1", "quote.pdf")
	require.True(t, ok)
	assert.Equal(t, models.MessageKindFile, msg.Kind)
	assert.Equal(t, "quote.pdf", msg.Content)

	_, ok = e.SendFile(ctx, "D1", "  ")
	assert.False(t, ok)

	f.clock.Add(2500 * time.Millisecond)
	assert.Eventually(t, func() bool { return len(e.Conversations().Messages("D1")) == 2 }, testEventuallyTimeout, testPollInterval,
		"the counterparty answers a file too")
}

func TestDealStatusChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)

	deal := models.Deal{ID: "D1", Title: "Steel coils", BuyerID: buyer.ID, SellerID: seller.ID, Status: models.DealStatusAccepted}
	e.DealStatusChanged(deal, seller.ID)

	msgs := e.Conversations().Messages("D1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageKindSystem, msgs[0].Kind)
	assert.Equal(t, "Deal status changed to accepted.", msgs[0].Content)

	require.Equal(t, 1, e.Notifications().UnreadCount(), "system lines do not notify, the status change does")
	n := e.Notifications().List()[0]
	assert.Equal(t, "Deal accepted", n.Title)
	assert.Equal(t, "/deals/D1", n.ActionURL)

	deal.Status = models.DealStatusRejected
	e.DealStatusChanged(deal, buyer.ID)
	assert.Equal(t, 1, e.Notifications().UnreadCount(), "the actor is not notified of their own change")
	assert.Len(t, e.Conversations().Messages("D1"), 2)
}

func TestOpenChat_TypingSimulationFollowsPredicate(t *testing.T) {
	var asked []models.Role
	f := newFixture(t, func(d *Deps) {
		d.Conversation.TypingSimInterval = time.Second
		d.SimulateTyping = func(u models.User) bool {
			asked = append(asked, u.Role)
			return u.Role == models.RoleSeller
		}
	})
	ctx := context.Background()
	e := f.engine
	require.NoError(t, e.Login(ctx, buyer, "tok"))
	_, err := e.OpenChat(ctx, "D1")
	require.NoError(t, err)

	f.clock.Add(3 * time.Second)
	assert.Empty(t, e.Conversations().TypingParticipants("D1"))
	assert.Equal(t, []models.Role{models.RoleBuyer}, asked)
}

type stubAuth struct {
	valid map[string]models.User
}

func (a stubAuth) ForToken(token string) session.AuthProvider { return stubProvider{a: a, token: token} }

type stubProvider struct {
	a     stubAuth
	token string
}

func (p stubProvider) CurrentUser(context.Context) (*models.User, error) {
	u, ok := p.a.valid[p.token]
	if !ok {
		return nil, session.ErrInvalidToken
	}
	return &u, nil
}

func TestRestore_RevalidatesSessionToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Login(ctx, buyer, "tok"))

	renamed := buyer
	renamed.Name = "Ava Stone"
	deps := f.deps
	deps.Auth = stubAuth{valid: map[string]models.User{"tok": renamed}}
	kept := New(deps)
	defer func() { _ = kept.Shutdown(ctx) }()
	require.NoError(t, kept.Restore(ctx))
	user, ok := kept.Session().CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "Ava Stone", user.Name)

	deps.Auth = stubAuth{}
	dropped := New(deps)
	defer func() { _ = dropped.Shutdown(ctx) }()
	require.NoError(t, dropped.Restore(ctx))
	assert.False(t, dropped.Session().IsAuthenticated())

	raw, err := f.storage.GetItem(ctx, DefaultRootKey)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.JSONEq(t, `{"user":null,"is_authenticated":false}`, string(doc["auth"]))
}

func TestRestore_PurgesCorruptRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.storage.SetItem(ctx, DefaultRootKey, "{broken"))

	assert.ErrorIs(t, f.engine.Restore(ctx), persist.ErrCorruptRoot)
	_, err := f.storage.GetItem(ctx, DefaultRootKey)
	assert.ErrorIs(t, err, persist.ErrKeyNotFound)
}

func TestForget_RemovesPersistedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Login(ctx, buyer, "tok"))
	require.NoError(t, f.engine.SetTheme(ctx, models.ThemeDark))
	require.Equal(t, 2, f.storage.Len())

	require.NoError(t, f.engine.Forget(ctx))
	assert.False(t, f.engine.Session().IsAuthenticated())
	assert.Equal(t, 0, f.storage.Len())
}
