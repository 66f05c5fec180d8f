package preferences

import (
	"context"
	"errors"
	"testing"

	"dealroom/internal/models"
	"dealroom/internal/persist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStorage struct {
	persist.Storage
	err error
}

func (f failingStorage) SetItem(context.Context, string, string) error { return f.err }

func TestInitialize_FollowsSystemWithoutExplicitChoice(t *testing.T) {
	s := NewStore(persist.NewMemoryStorage(), StaticSignal(models.ThemeDark))
	require.NoError(t, s.Initialize(context.Background()))

	st := s.Snapshot()
	assert.Equal(t, models.ThemeDark, st.Mode)
	assert.Equal(t, models.ThemeDark, st.SystemPreference)
	assert.False(t, st.Explicit)
}

func TestInitialize_PersistedChoiceWins(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()
	require.NoError(t, storage.SetItem(ctx, ThemeKey, "light"))

	s := NewStore(storage, StaticSignal(models.ThemeDark))
	require.NoError(t, s.Initialize(ctx))

	st := s.Snapshot()
	assert.Equal(t, models.ThemeLight, st.Mode)
	assert.Equal(t, models.ThemeDark, st.SystemPreference)
	assert.True(t, st.Explicit)
}

func TestInitialize_IgnoresGarbageInStorage(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()
	require.NoError(t, storage.SetItem(ctx, ThemeKey, "sepia"))

	s := NewStore(storage, StaticSignal(models.ThemeDark))
	require.NoError(t, s.Initialize(ctx))
	assert.Equal(t, models.ThemeDark, s.Mode())
	assert.False(t, s.Snapshot().Explicit)
}

func TestExplicitChoiceBeatsSystemSignal(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()
	s := NewStore(storage, StaticSignal(models.ThemeLight))
	require.NoError(t, s.Initialize(ctx))

	require.NoError(t, s.SetExplicit(ctx, models.ThemeDark))
	assert.False(t, s.OnSystemPreferenceChanged(models.ThemeLight))
	assert.Equal(t, models.ThemeDark, s.Mode())
	assert.Equal(t, models.ThemeLight, s.Snapshot().SystemPreference)

	stored, err := storage.GetItem(ctx, ThemeKey)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored)
}

func TestSystemSignalAppliesUntilExplicit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(persist.NewMemoryStorage(), StaticSignal(models.ThemeLight))
	require.NoError(t, s.Initialize(ctx))

	assert.True(t, s.OnSystemPreferenceChanged(models.ThemeDark))
	assert.Equal(t, models.ThemeDark, s.Mode())
	assert.False(t, s.OnSystemPreferenceChanged(models.ThemeDark))
	assert.False(t, s.OnSystemPreferenceChanged("sepia"))
}

func TestToggle_PersistsOpposite(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()
	s := NewStore(storage, StaticSignal(models.ThemeLight))
	require.NoError(t, s.Initialize(ctx))

	mode, err := s.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeDark, mode)
	assert.True(t, s.Snapshot().Explicit)

	// The explicit choice survives a reload even if the OS changed meanwhile.
	reloaded := NewStore(storage, StaticSignal(models.ThemeLight))
	require.NoError(t, reloaded.Initialize(ctx))
	assert.Equal(t, models.ThemeDark, reloaded.Mode())
}

func TestSetExplicit_StorageFailureStillApplies(t *testing.T) {
	boom := errors.New("disk full")
	s := NewStore(failingStorage{Storage: persist.NewMemoryStorage(), err: boom}, nil)

	err := s.SetExplicit(context.Background(), models.ThemeDark)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.ThemeDark, s.Mode())
	assert.True(t, s.Snapshot().Explicit)
}

func TestSetExplicit_RejectsUnknownMode(t *testing.T) {
	s := NewStore(persist.NewMemoryStorage(), nil)
	err := s.SetExplicit(context.Background(), "sepia")
	assert.True(t, models.HasCode(err, models.CodeValidation))
	assert.Equal(t, models.ThemeLight, s.Mode())
}

func TestSubscribe_ReceivesChangesUntilCancelled(t *testing.T) {
	ctx := context.Background()
	s := NewStore(persist.NewMemoryStorage(), nil)

	var seen []models.ThemeMode
	cancel := s.Subscribe(func(st State) { seen = append(seen, st.Mode) })

	require.NoError(t, s.SetExplicit(ctx, models.ThemeDark))
	cancel()
	require.NoError(t, s.SetExplicit(ctx, models.ThemeLight))

	assert.Equal(t, []models.ThemeMode{models.ThemeDark}, seen)
}

func TestSlice_RoundTripThroughPersistor(t *testing.T) {
	ctx := context.Background()
	storage := persist.NewMemoryStorage()

	s := NewStore(storage, StaticSignal(models.ThemeLight))
	require.NoError(t, s.SetExplicit(ctx, models.ThemeDark))
	p := persist.NewPersistor(storage, "persist:root", "theme")
	require.True(t, p.Register(s.Slice()))
	require.NoError(t, p.Flush(ctx))

	// Drop the plain key so only the root document can restore the choice.
	require.NoError(t, storage.RemoveItem(ctx, ThemeKey))

	restored := NewStore(storage, StaticSignal(models.ThemeLight))
	p2 := persist.NewPersistor(storage, "persist:root", "theme")
	p2.Register(restored.Slice())
	require.NoError(t, p2.Rehydrate(ctx))
	require.NoError(t, restored.Initialize(ctx))

	assert.Equal(t, models.ThemeDark, restored.Mode())
	assert.True(t, restored.Snapshot().Explicit)
	assert.False(t, restored.OnSystemPreferenceChanged(models.ThemeLight))
}

func TestSlice_NonExplicitSnapshotIgnored(t *testing.T) {
	s := NewStore(persist.NewMemoryStorage(), nil)
	err := s.Slice().Restore([]byte(`{"mode":"dark","explicit":false}`))
	require.NoError(t, err)
	assert.Equal(t, models.ThemeLight, s.Mode())
}
