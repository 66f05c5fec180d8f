// Package session holds the authenticated identity and role. Other stores
// react to its login and logout transitions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"dealroom/internal/models"
	"dealroom/internal/observability"
	"dealroom/internal/persist"
)

// SliceKey names the auth slice inside the persisted root document.
const SliceKey = "auth"

// TransitionKind distinguishes login from logout.
type TransitionKind string

const (
	LoggedIn  TransitionKind = "login"
	LoggedOut TransitionKind = "logout"
)

// Transition describes a change of the authenticated identity.
type Transition struct {
	Kind     TransitionKind
	Previous *models.User
	Current  *models.User
}

// State is a snapshot of the session.
type State struct {
	User            *models.User `json:"user"`
	Token           string       `json:"token,omitempty"`
	IsAuthenticated bool         `json:"is_authenticated"`
}

// AuthProvider supplies the identity of the current user, or nil when
// nobody is signed in.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (*models.User, error)
}

// Store owns the session state.
type Store struct {
	mu        sync.Mutex
	user      *models.User
	token     string
	listeners map[int]func(Transition)
	nextID    int

	log *observability.StoreLogger
}

func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Transition)),
		log:       observability.NewStoreLogger("session"),
	}
}

// Login makes user the current identity. Switching users emits a logout for
// the previous one first; logging in the same user again only refreshes the
// stored profile and token.
func (s *Store) Login(user models.User, token string) error {
	if user.ID == "" {
		return models.NewValidationError("user id is required")
	}
	if !user.Role.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown role %q", user.Role))
	}

	s.mu.Lock()
	prev := s.user
	u := user
	s.user = &u
	s.token = token
	s.mu.Unlock()

	if prev != nil && prev.ID == user.ID {
		return nil
	}
	if prev != nil {
		s.emit(Transition{Kind: LoggedOut, Previous: prev})
	}
	s.log.LogTransition(context.Background(), "login", map[string]interface{}{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	s.emit(Transition{Kind: LoggedIn, Previous: prev, Current: copyUser(&u)})
	return nil
}

// Logout clears the identity. It reports false when nobody was logged in.
func (s *Store) Logout() bool {
	s.mu.Lock()
	prev := s.user
	s.user = nil
	s.token = ""
	s.mu.Unlock()

	if prev == nil {
		return false
	}
	s.log.LogTransition(context.Background(), "logout", map[string]interface{}{"user_id": prev.ID})
	s.emit(Transition{Kind: LoggedOut, Previous: prev})
	return true
}

// Sync aligns the store with what the auth provider reports.
func (s *Store) Sync(ctx context.Context, provider AuthProvider) error {
	user, err := provider.CurrentUser(ctx)
	if err != nil {
		s.Logout()
		return err
	}
	if user == nil {
		s.Logout()
		return nil
	}
	return s.Login(*user, s.Token())
}

// CurrentUser returns the signed-in user.
func (s *Store) CurrentUser() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// IsAuthenticated is derived from the presence of a user.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

// Role returns the current role, or "" when logged out.
func (s *Store) Role() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Role
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{User: copyUser(s.user), Token: s.token, IsAuthenticated: s.user != nil}
}

// Subscribe registers fn for login and logout transitions and returns its
// cancel func. Callbacks run synchronously on the goroutine that caused the
// transition.
func (s *Store) Subscribe(fn func(Transition)) func() {
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

func (s *Store) emit(t Transition) {
	s.mu.Lock()
	fns := make([]func(Transition), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Slice adapts the store to the persisted root document.
func (s *Store) Slice() persist.Slice {
	return authSlice{store: s}
}

type authSlice struct {
	store *Store
}

func (a authSlice) Key() string { return SliceKey }

func (a authSlice) Snapshot() (json.RawMessage, error) {
	st := a.store.Snapshot()
	return json.Marshal(st)
}

func (a authSlice) Restore(data json.RawMessage) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.User == nil {
		a.store.Logout()
		return nil
	}
	return a.store.Login(*st.User, st.Token)
}
