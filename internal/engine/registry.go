package engine

import (
	"context"
	"errors"
	"sync"

	"dealroom/internal/models"
)

// Registry keeps one Engine per signed-in user for the HTTP server.
type Registry struct {
	build func(userID string) Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry creates engines with the dependencies build returns for a
// user, typically a storage namespace of their own.
func NewRegistry(build func(userID string) Deps) *Registry {
	return &Registry{build: build, engines: make(map[string]*Engine)}
}

// Acquire returns the user's engine, creating, restoring and logging it in
// on first use. A restored session for the same user is refreshed with the
// current profile and token.
func (r *Registry) Acquire(ctx context.Context, user models.User, token string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[user.ID]; ok {
		if current, authed := e.Session().CurrentUser(); !authed || current != user || e.Session().Token() != token {
			if err := e.Login(ctx, user, token); err != nil {
				return nil, err
			}
		}
		return e, nil
	}

	e := New(r.build(user.ID))
	if err := e.Restore(ctx); err != nil {
		e.log.LogError(ctx, err, "restore")
	}
	if err := e.Login(ctx, user, token); err != nil {
		_ = e.Shutdown(ctx)
		return nil, err
	}
	r.engines[user.ID] = e
	return e, nil
}

// Get returns the engine of an already acquired user.
func (r *Registry) Get(userID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[userID]
	return e, ok
}

// Release logs the user out and drops their engine.
func (r *Registry) Release(ctx context.Context, userID string) error {
	r.mu.Lock()
	e, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return errors.Join(e.Logout(ctx), e.Shutdown(ctx))
}

// Forget logs the user out and removes their persisted state. It works for
// users without a live engine too.
func (r *Registry) Forget(ctx context.Context, userID string) error {
	r.mu.Lock()
	e, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()
	if !ok {
		e = New(r.build(userID))
	}
	return errors.Join(e.Forget(ctx), e.Shutdown(ctx))
}

// Len counts live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Shutdown stops every engine without logging anyone out.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	var errs []error
	for _, e := range engines {
		errs = append(errs, e.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
