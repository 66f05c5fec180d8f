package featureflags

import (
	"testing"

	"dealroom/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "u1", models.RoleBuyer), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "u1", models.RoleBuyer), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	assert.True(t, m.Enabled("always", "buyer-A", models.RoleBuyer))
	assert.False(t, m.Enabled("never", "buyer-A", models.RoleBuyer))
	assert.False(t, m.Enabled("junk", "buyer-A", models.RoleBuyer))

	first := m.Enabled("canary", "buyer-A", models.RoleBuyer)
	for range 5 {
		assert.Equal(t, first, m.Enabled("canary", "buyer-A", models.RoleBuyer), "rollout must be deterministic per user")
	}
	assert.False(t, m.Enabled("canary", "", ""), "percentage rollout requires a user")
}

func TestEnabled_RoleTargeting(t *testing.T) {
	m := NewManager("video_calls=seller|admin")

	tests := []struct {
		role models.Role
		want bool
	}{
		{models.RoleSeller, true},
		{models.RoleAdmin, true},
		{models.RoleBuyer, false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.want, m.Enabled(VideoCalls, "u1", tt.role))
		})
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, Y = 20% ,z=off, v = Seller ")

	assert.True(t, m.Defined("Y"))
	assert.False(t, m.Defined("bad"))

	snap := m.Snapshot("seller-B", models.RoleSeller)
	assert.Len(t, snap, 4)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
	assert.True(t, snap["v"])
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled("x", "u1", models.RoleBuyer))
	assert.False(t, m.Defined("x"))
	assert.Empty(t, m.Snapshot("u1", models.RoleBuyer))
}
