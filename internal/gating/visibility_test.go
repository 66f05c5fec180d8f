package gating

import (
	"testing"

	"dealroom/internal/featureflags"
	"dealroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func navNames(v Visibility) []string {
	out := make([]string, len(v.Nav))
	for i, item := range v.Nav {
		out[i] = item.Name
	}
	return out
}

func TestDefaultCatalogParses(t *testing.T) {
	c := DefaultCatalog()
	require.Len(t, c.Items, 8)
	assert.True(t, c.Items[0].Public())
}

func TestDerive_ByRole(t *testing.T) {
	tests := []struct {
		name     string
		session  SessionView
		wantNav  []string
		wantChat bool
		wantNtf  bool
	}{
		{
			name:    "anonymous",
			session: SessionView{},
			wantNav: []string{"Home"},
		},
		{
			name:    "role without authentication is ignored",
			session: SessionView{Role: models.RoleAdmin},
			wantNav: []string{"Home"},
		},
		{
			name:     "buyer",
			session:  SessionView{Authenticated: true, UserID: "buyer-A", Role: models.RoleBuyer},
			wantNav:  []string{"Home", "Dashboard", "My Deals", "Create Deal", "Messages", "Video Calls"},
			wantChat: true,
			wantNtf:  true,
		},
		{
			name:     "seller",
			session:  SessionView{Authenticated: true, UserID: "seller-B", Role: models.RoleSeller},
			wantNav:  []string{"Home", "Dashboard", "My Deals", "Create Deal", "Messages", "Video Calls"},
			wantChat: true,
			wantNtf:  true,
		},
		{
			name:    "admin",
			session: SessionView{Authenticated: true, UserID: "admin-C", Role: models.RoleAdmin},
			wantNav: []string{"Home", "Dashboard", "Analytics", "Users"},
			wantNtf: true,
		},
		{
			name:    "authenticated without a role",
			session: SessionView{Authenticated: true, UserID: "x"},
			wantNav: []string{"Home"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Derive(tt.session, nil)
			assert.Equal(t, tt.wantNav, navNames(v))
			assert.Equal(t, tt.wantChat, v.ConversationsActive)
			assert.Equal(t, tt.wantNtf, v.NotificationsActive)
		})
	}
}

func TestDerive_FeatureFlagHidesEntry(t *testing.T) {
	buyer := SessionView{Authenticated: true, UserID: "buyer-A", Role: models.RoleBuyer}

	v := Derive(buyer, featureflags.NewManager("video_calls=off"))
	assert.NotContains(t, navNames(v), "Video Calls")
	assert.False(t, v.CanReach("/video"))
	assert.True(t, v.Has(UseVideo), "flags hide entries, not capabilities")

	v = Derive(buyer, featureflags.NewManager("video_calls=on"))
	assert.Contains(t, navNames(v), "Video Calls")

	v = Derive(buyer, featureflags.NewManager("other=off"))
	assert.Contains(t, navNames(v), "Video Calls", "unconfigured flags do not hide")

	sellersOnly := featureflags.NewManager("video_calls=seller")
	assert.NotContains(t, navNames(Derive(buyer, sellersOnly)), "Video Calls")
	seller := SessionView{Authenticated: true, UserID: "seller-B", Role: models.RoleSeller}
	assert.Contains(t, navNames(Derive(seller, sellersOnly)), "Video Calls")
}

func TestCanReach(t *testing.T) {
	buyer := Derive(SessionView{Authenticated: true, UserID: "buyer-A", Role: models.RoleBuyer}, nil)
	admin := Derive(SessionView{Authenticated: true, UserID: "admin-C", Role: models.RoleAdmin}, nil)
	anon := Derive(SessionView{}, nil)

	tests := []struct {
		path  string
		v     Visibility
		reach bool
	}{
		{"/", anon, true},
		{"/dashboard", anon, false},
		{"/deals/D1", buyer, true},
		{"/deals/create", buyer, true},
		{"/chat", buyer, true},
		{"/chat", admin, false},
		{"/deals/create", admin, false},
		{"/users", admin, true},
		{"/users", buyer, false},
		{"/unknown", buyer, false},
		{"/dealsx", buyer, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.reach, tt.v.CanReach(tt.path))
		})
	}
}

func TestParseCatalog_Errors(t *testing.T) {
	_, err := ParseCatalog([]byte("items: [{name: A, href: a}]"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("items: [{name: A, href: /a}, {name: B, href: /a}]"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("items: {"))
	assert.Error(t, err)
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleCapabilities(models.RoleSeller).HasAll([]Capability{UseChat, CreateDeals}))
	assert.False(t, RoleCapabilities(models.RoleAdmin).Has(UseChat))
	assert.Empty(t, RoleCapabilities(""))
}
