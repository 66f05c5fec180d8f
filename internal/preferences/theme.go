// Package preferences resolves the effective display theme. An explicit user
// choice always wins over the operating system signal once it is made.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"dealroom/internal/models"
	"dealroom/internal/observability"
	"dealroom/internal/persist"
)

// ThemeKey is the storage key holding the explicit choice as a plain string.
const ThemeKey = "theme"

// SliceKey names the theme slice inside the persisted root document.
const SliceKey = "theme"

// SystemSignal reports the operating system's preferred theme.
type SystemSignal interface {
	SystemPreference() models.ThemeMode
}

// StaticSignal is a SystemSignal with a fixed answer.
type StaticSignal models.ThemeMode

func (s StaticSignal) SystemPreference() models.ThemeMode {
	return models.ThemeMode(s)
}

// State is a snapshot of the theme store.
type State struct {
	Mode             models.ThemeMode `json:"mode"`
	SystemPreference models.ThemeMode `json:"system_preference"`
	Explicit         bool             `json:"explicit"`
}

// Store owns the theme state.
type Store struct {
	storage persist.Storage
	signal  SystemSignal

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int

	log *observability.StoreLogger
}

// NewStore creates a store reading explicit choices from storage. The store
// starts in light mode until Initialize runs.
func NewStore(storage persist.Storage, signal SystemSignal) *Store {
	if signal == nil {
		signal = StaticSignal(models.ThemeLight)
	}
	return &Store{
		storage:   storage,
		signal:    signal,
		state:     State{Mode: models.ThemeLight, SystemPreference: models.ThemeLight},
		listeners: make(map[int]func(State)),
		log:       observability.NewStoreLogger("preferences"),
	}
}

// Initialize adopts the persisted explicit choice if one exists, otherwise
// the system preference without marking it explicit.
func (s *Store) Initialize(ctx context.Context) error {
	system := s.signal.SystemPreference()
	if !system.Valid() {
		system = models.ThemeLight
	}

	stored, err := s.storage.GetItem(ctx, ThemeKey)
	if err != nil && !errors.Is(err, persist.ErrKeyNotFound) {
		s.log.LogError(ctx, err, "initialize")
		return fmt.Errorf("read theme: %w", err)
	}

	s.mu.Lock()
	s.state.SystemPreference = system
	if mode, perr := models.ParseThemeMode(stored); err == nil && perr == nil {
		s.state.Mode = mode
		s.state.Explicit = true
	} else if !s.state.Explicit {
		s.state.Mode = system
	}
	snap := s.state
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// SetExplicit sets and persists the user's choice. The choice takes effect
// even when persisting fails; the storage error is returned to the caller.
func (s *Store) SetExplicit(ctx context.Context, mode models.ThemeMode) error {
	if !mode.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown theme mode %q", mode))
	}

	s.mu.Lock()
	s.state.Mode = mode
	s.state.Explicit = true
	snap := s.state
	s.mu.Unlock()

	s.log.LogTransition(ctx, "set_explicit", map[string]interface{}{"mode": string(mode)})
	s.notify(snap)

	if err := s.storage.SetItem(ctx, ThemeKey, string(mode)); err != nil {
		s.log.LogError(ctx, err, "set_explicit")
		return fmt.Errorf("persist theme: %w", err)
	}
	return nil
}

// Toggle flips the mode and persists it as an explicit choice.
func (s *Store) Toggle(ctx context.Context) (models.ThemeMode, error) {
	next := s.Mode().Opposite()
	return next, s.SetExplicit(ctx, next)
}

// OnSystemPreferenceChanged records the new OS signal and follows it only
// while no explicit choice exists. It reports whether the mode changed.
func (s *Store) OnSystemPreferenceChanged(pref models.ThemeMode) bool {
	if !pref.Valid() {
		return false
	}

	s.mu.Lock()
	s.state.SystemPreference = pref
	changed := !s.state.Explicit && s.state.Mode != pref
	if changed {
		s.state.Mode = pref
	}
	snap := s.state
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	return changed
}

// Mode returns the effective theme.
func (s *Store) Mode() models.ThemeMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mode
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every state change and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Slice adapts the store to the persisted root document.
func (s *Store) Slice() persist.Slice {
	return themeSlice{store: s}
}

type themeSlice struct {
	store *Store
}

func (t themeSlice) Key() string { return SliceKey }

func (t themeSlice) Snapshot() (json.RawMessage, error) {
	return json.Marshal(t.store.Snapshot())
}

// Restore only brings back explicit choices. A non-explicit snapshot carries
// a stale system signal and is ignored.
func (t themeSlice) Restore(data json.RawMessage) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if !st.Explicit || !st.Mode.Valid() {
		return nil
	}

	s := t.store
	s.mu.Lock()
	s.state.Mode = st.Mode
	s.state.Explicit = true
	snap := s.state
	s.mu.Unlock()

	s.notify(snap)
	return nil
}
