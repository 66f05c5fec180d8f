package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealroom/internal/models"
	"dealroom/internal/persist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	buyer  = models.User{ID: "buyer-A", Name: "Ava Buyer", Role: models.RoleBuyer}
	seller = models.User{ID: "seller-B", Name: "Ben Seller", Role: models.RoleSeller}
)

type stubProvider struct {
	user *models.User
	err  error
}

func (p stubProvider) CurrentUser(context.Context) (*models.User, error) { return p.user, p.err }

func TestLoginLogout(t *testing.T) {
	s := NewStore()
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, models.Role(""), s.Role())

	require.NoError(t, s.Login(buyer, "tok"))
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, models.RoleBuyer, s.Role())
	u, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "buyer-A", u.ID)

	assert.True(t, s.Logout())
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.Logout())
	assert.Empty(t, s.Token())
}

func TestLogin_Validation(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Login(models.User{Role: models.RoleBuyer}, ""))
	assert.Error(t, s.Login(models.User{ID: "x", Role: "guest"}, ""))
	assert.False(t, s.IsAuthenticated())
}

func TestSubscribe_Transitions(t *testing.T) {
	s := NewStore()
	var got []Transition
	cancel := s.Subscribe(func(tr Transition) { got = append(got, tr) })
	defer cancel()

	require.NoError(t, s.Login(buyer, ""))
	require.NoError(t, s.Login(buyer, "refreshed"))
	require.NoError(t, s.Login(seller, ""))
	s.Logout()

	require.Len(t, got, 4)
	assert.Equal(t, LoggedIn, got[0].Kind)
	assert.Equal(t, "buyer-A", got[0].Current.ID)
	assert.Equal(t, LoggedOut, got[1].Kind)
	assert.Equal(t, "buyer-A", got[1].Previous.ID)
	assert.Equal(t, LoggedIn, got[2].Kind)
	assert.Equal(t, "seller-B", got[2].Current.ID)
	assert.Equal(t, LoggedOut, got[3].Kind)
}

func TestSync(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Sync(ctx, stubProvider{user: &seller}))
	assert.Equal(t, models.RoleSeller, s.Role())

	require.NoError(t, s.Sync(ctx, stubProvider{}))
	assert.False(t, s.IsAuthenticated())

	require.NoError(t, s.Login(buyer, ""))
	boom := errors.New("provider down")
	assert.ErrorIs(t, s.Sync(ctx, stubProvider{err: boom}), boom)
	assert.False(t, s.IsAuthenticated())
}

func TestAuthSlice_RoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()

	s := NewStore()
	require.NoError(t, s.Login(buyer, "tok-1"))
	p := persist.NewPersistor(storage, "persist:root", "auth", "theme")
	require.True(t, p.Register(s.Slice()))
	require.NoError(t, p.Flush(ctx))

	restored := NewStore()
	var logins int
	restored.Subscribe(func(tr Transition) {
		if tr.Kind == LoggedIn {
			logins++
		}
	})
	p2 := persist.NewPersistor(storage, "persist:root", "auth", "theme")
	p2.Register(restored.Slice())
	require.NoError(t, p2.Rehydrate(ctx))

	u, ok := restored.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, buyer, u)
	assert.Equal(t, "tok-1", restored.Token())
	assert.Equal(t, 1, logins)
}

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider("test-secret-key-12345678901234567890123456789012", time.Hour)

	token, err := p.Issue(buyer)
	require.NoError(t, err)

	u, err := p.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, u.ID)
	assert.Equal(t, models.RoleBuyer, u.Role)

	_, err = NewTokenProvider("another-secret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenProvider("test-secret-key-12345678901234567890123456789012", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(buyer)
	require.NoError(t, err)
	_, err = p.Verify(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_ForToken(t *testing.T) {
	p := NewTokenProvider("test-secret-key-12345678901234567890123456789012", time.Hour)
	token, err := p.Issue(seller)
	require.NoError(t, err)

	s := NewStore()
	require.NoError(t, s.Sync(context.Background(), p.ForToken(token)))
	assert.Equal(t, models.RoleSeller, s.Role())

	require.NoError(t, s.Sync(context.Background(), p.ForToken("")))
	assert.False(t, s.IsAuthenticated())
}
