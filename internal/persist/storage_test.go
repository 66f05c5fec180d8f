package persist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func storageBackends(t *testing.T) map[string]Storage {
	sqlStore, err := NewSQLStorage(newSQLiteDB(t), "user-1")
	require.NoError(t, err)

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewFileStorage(filepath.Join(t.TempDir(), "state.json")),
		"redis":  NewRedisStorage(newRedisClient(t), "dealroom:test:"),
		"sql":    sqlStore,
	}
}

func TestStorage_Contract(t *testing.T) {
	for name, s := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetItem(ctx, "theme")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, s.SetItem(ctx, "theme", "dark"))
			v, err := s.GetItem(ctx, "theme")
			require.NoError(t, err)
			assert.Equal(t, "dark", v)

			require.NoError(t, s.SetItem(ctx, "theme", "light"))
			v, err = s.GetItem(ctx, "theme")
			require.NoError(t, err)
			assert.Equal(t, "light", v)

			require.NoError(t, s.RemoveItem(ctx, "theme"))
			_, err = s.GetItem(ctx, "theme")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			// Removing an absent key is not an error.
			assert.NoError(t, s.RemoveItem(ctx, "theme"))
		})
	}
}

func TestSQLStorage_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLStorage(newSQLiteDB(t), "user-a")
	require.NoError(t, err)
	b := a.WithNamespace("user-b")

	require.NoError(t, a.SetItem(ctx, "theme", "dark"))
	_, err = b.GetItem(ctx, "theme")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFileStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, NewFileStorage(path).SetItem(ctx, "persist:root", `{"auth":null}`))

	v, err := NewFileStorage(path).GetItem(ctx, "persist:root")
	require.NoError(t, err)
	assert.Equal(t, `{"auth":null}`, v)
}

func TestNamespacedPath(t *testing.T) {
	assert.Equal(t, "/tmp/state.user-1.json", namespacedPath("/tmp/state.json", "user-1"))
	assert.Equal(t, "/tmp/state._etc_passwd.json", namespacedPath("/tmp/state.json", "/etc/passwd"))
	assert.Equal(t, "/tmp/state.json", namespacedPath("/tmp/state.json", ""))
}
