package persist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"dealroom/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSlice struct {
	key      string
	value    string
	restored string
	fail     error
}

func (s *stubSlice) Key() string { return s.key }

func (s *stubSlice) Snapshot() (json.RawMessage, error) {
	return json.Marshal(s.value)
}

func (s *stubSlice) Restore(data json.RawMessage) error {
	if s.fail != nil {
		return s.fail
	}
	return json.Unmarshal(data, &s.restored)
}

func TestPersistor_OnlyWhitelistedSlicesPersist(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	p := NewPersistor(store, "persist:root", "auth", "theme")

	assert.True(t, p.Register(&stubSlice{key: "auth", value: "alice"}))
	assert.True(t, p.Register(&stubSlice{key: "theme", value: "dark"}))
	assert.False(t, p.Register(&stubSlice{key: "ui", value: "notifications"}))

	require.NoError(t, p.Flush(ctx))

	raw, err := store.GetItem(ctx, "persist:root")
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Contains(t, doc, "auth")
	assert.Contains(t, doc, "theme")
	assert.Contains(t, doc, "_persist")
	assert.NotContains(t, doc, "ui")
	assert.Equal(t, 1, store.Len())
}

func TestPersistor_RehydrateRestoresRegisteredSlices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	writer := NewPersistor(store, "persist:root", "auth", "theme")
	writer.Register(&stubSlice{key: "auth", value: "alice"})
	writer.Register(&stubSlice{key: "theme", value: "dark"})
	require.NoError(t, writer.Flush(ctx))

	auth := &stubSlice{key: "auth"}
	reader := NewPersistor(store, "persist:root", "auth", "theme")
	reader.Register(auth)

	require.NoError(t, reader.Rehydrate(ctx))
	assert.Equal(t, "alice", auth.restored)
}

func TestPersistor_RehydrateMissingRootIsNoop(t *testing.T) {
	p := NewPersistor(NewMemoryStorage(), "persist:root", "auth")
	s := &stubSlice{key: "auth"}
	p.Register(s)

	assert.NoError(t, p.Rehydrate(context.Background()))
	assert.Empty(t, s.restored)
}

func TestPersistor_RehydrateReportsSliceErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.SetItem(ctx, "persist:root", `{"auth":"x"}`))

	boom := errors.New("boom")
	p := NewPersistor(store, "persist:root", "auth")
	p.Register(&stubSlice{key: "auth", fail: boom})

	assert.ErrorIs(t, p.Rehydrate(ctx), boom)
}

func TestPersistor_RehydrateCorruptRoot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.SetItem(ctx, "persist:root", "{not json"))

	p := NewPersistor(store, "persist:root", "auth")
	assert.ErrorIs(t, p.Rehydrate(ctx), ErrCorruptRoot)
}

func TestPersistor_Purge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	p := NewPersistor(store, "persist:root", "auth")
	p.Register(&stubSlice{key: "auth", value: "alice"})
	require.NoError(t, p.Flush(ctx))

	require.NoError(t, p.Purge(ctx))
	_, err := store.GetItem(ctx, "persist:root")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestNewFactory_MemorySharesNamespace(t *testing.T) {
	f, err := NewFactory(&config.Config{StorageDriver: "memory"}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f("user-1").SetItem(ctx, "theme", "dark"))

	v, err := f("user-1").GetItem(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	_, err = f("user-2").GetItem(ctx, "theme")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestNewFactory_RequiresBackends(t *testing.T) {
	_, err := NewFactory(&config.Config{StorageDriver: "redis"}, nil, nil)
	assert.Error(t, err)
	_, err = NewFactory(&config.Config{StorageDriver: "sqlite"}, nil, nil)
	assert.Error(t, err)
}
