package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"dealroom/internal/observability"
)

// Version is written into every root document.
const Version = 1

const metaKey = "_persist"

// Slice is one named piece of state that can be written to and restored
// from the root document.
type Slice interface {
	Key() string
	Snapshot() (json.RawMessage, error)
	Restore(data json.RawMessage) error
}

type rootMeta struct {
	Version int `json:"version"`
}

// Persistor serializes whitelisted slices into a single root key. Slices
// outside the whitelist are never written and stay ephemeral.
type Persistor struct {
	storage   Storage
	rootKey   string
	whitelist []string

	mu     sync.Mutex
	slices map[string]Slice
	log    *observability.StoreLogger
}

// NewPersistor creates a persistor writing whitelist slices under rootKey.
func NewPersistor(storage Storage, rootKey string, whitelist ...string) *Persistor {
	return &Persistor{
		storage:   storage,
		rootKey:   rootKey,
		whitelist: whitelist,
		slices:    make(map[string]Slice),
		log:       observability.NewStoreLogger("persist"),
	}
}

// Storage exposes the backing store for slices that also keep their own keys.
func (p *Persistor) Storage() Storage {
	return p.storage
}

// Register attaches a slice. It reports false when the slice key is not
// whitelisted, in which case the slice is left ephemeral.
func (p *Persistor) Register(s Slice) bool {
	if !slices.Contains(p.whitelist, s.Key()) {
		return false
	}
	p.mu.Lock()
	p.slices[s.Key()] = s
	p.mu.Unlock()
	return true
}

// Flush writes the current snapshot of every registered slice.
func (p *Persistor) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := make(map[string]json.RawMessage, len(p.slices)+1)
	for key, s := range p.slices {
		data, err := s.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", key, err)
		}
		doc[key] = data
	}
	meta, err := json.Marshal(rootMeta{Version: Version})
	if err != nil {
		return err
	}
	doc[metaKey] = meta

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := p.storage.SetItem(ctx, p.rootKey, string(b)); err != nil {
		observability.PersistErrors.WithLabelValues(fmt.Sprintf("%T", p.storage), "flush").Inc()
		p.log.LogError(ctx, err, "flush")
		return fmt.Errorf("write %s: %w", p.rootKey, err)
	}
	return nil
}

// Rehydrate restores registered slices from the root document. A missing
// root is not an error; unknown keys in the document are ignored.
func (p *Persistor) Rehydrate(ctx context.Context) error {
	raw, err := p.storage.GetItem(ctx, p.rootKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		observability.PersistErrors.WithLabelValues(fmt.Sprintf("%T", p.storage), "rehydrate").Inc()
		return fmt.Errorf("read %s: %w", p.rootKey, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorruptRoot, p.rootKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for key, s := range p.slices {
		data, ok := doc[key]
		if !ok {
			continue
		}
		if err := s.Restore(data); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Purge removes the root document.
func (p *Persistor) Purge(ctx context.Context) error {
	return p.storage.RemoveItem(ctx, p.rootKey)
}
