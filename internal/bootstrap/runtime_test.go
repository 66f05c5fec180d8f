package bootstrap

import (
	"context"
	"testing"

	"dealroom/internal/directory"
	"dealroom/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRuntime_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.Config()

	rt, err := InitRuntime(ctx, cfg, Options{SeedDemoData: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.Nil(t, rt.DB)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.ReplySource)
	require.NotNil(t, rt.Storage)
	assert.IsType(t, &directory.MemoryDirectory{}, rt.Directory)

	deal, err := rt.Directory.GetDeal(ctx, "deal-001")
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", deal.BuyerID)
}

func TestInitRuntime_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.Config()
	cfg.DirectoryDriver = "sqlite"
	cfg.StorageDriver = "sqlite"
	cfg.SQLitePath = ":memory:"

	rt, err := InitRuntime(ctx, cfg, Options{SeedDemoData: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NotNil(t, rt.DB)
	assert.IsType(t, &directory.GormDirectory{}, rt.Directory)

	deals, err := rt.Directory.ListDealsFor(ctx, "buyer-1")
	require.NoError(t, err)
	assert.NotEmpty(t, deals)

	store := rt.Storage("buyer-1")
	require.NoError(t, store.SetItem(ctx, "persist:root", `{"theme":"dark"}`))
	got, err := store.GetItem(ctx, "persist:root")
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"dark"}`, got)
}

func TestInitRuntime_RedisReplySource(t *testing.T) {
	mr, _ := testutil.Redis(t)
	cfg := testutil.Config()
	cfg.RedisURL = mr.Addr()
	cfg.ReplySource = "redis"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := InitRuntime(ctx, cfg, Options{StartResponder: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NotNil(t, rt.Redis)
	assert.NotNil(t, rt.ReplySource)
	assert.IsType(t, &directory.MemoryDirectory{}, rt.Directory)
}

func TestInitRuntime_RedisUnavailable(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.Config()
	cfg.RedisURL = "127.0.0.1:1"

	rt, err := InitRuntime(ctx, cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, rt.Redis)

	cfg.StorageDriver = "redis"
	_, err = InitRuntime(ctx, cfg, Options{})
	assert.Error(t, err)
}

func TestDBDriver(t *testing.T) {
	tests := []struct {
		name      string
		directory string
		storage   string
		want      string
		wantErr   bool
	}{
		{"none", "memory", "memory", "", false},
		{"directory only", "sqlite", "file", "sqlite", false},
		{"storage only", "memory", "postgres", "postgres", false},
		{"shared", "postgres", "postgres", "postgres", false},
		{"mixed", "sqlite", "postgres", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutil.Config()
			cfg.DirectoryDriver = tt.directory
			cfg.StorageDriver = tt.storage
			got, err := dbDriver(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
