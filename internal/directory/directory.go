// Package directory resolves deal and participant records. The state engine
// only reads from it.
package directory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"dealroom/internal/models"
)

// Directory is the read-only deal and user lookup consumed by the engine.
// Misses are reported as models.NewNotFoundError.
type Directory interface {
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
	GetDeal(ctx context.Context, id string) (models.Deal, error)
	ListDealsFor(ctx context.Context, participantID string) ([]models.Deal, error)
}

// DealWriter stores deal changes such as a new status. MemoryDirectory,
// GormDirectory and CachedDirectory over either implement it.
type DealWriter interface {
	SaveDeal(ctx context.Context, deal models.Deal) error
}

// MemoryDirectory is an in-process Directory, used for demos and tests.
type MemoryDirectory struct {
	mu           sync.RWMutex
	participants map[string]models.Participant
	deals        map[string]models.Deal
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		participants: make(map[string]models.Participant),
		deals:        make(map[string]models.Deal),
	}
}

// PutParticipant inserts or replaces a participant.
func (d *MemoryDirectory) PutParticipant(p models.Participant) {
	d.mu.Lock()
	d.participants[p.ID] = p
	d.mu.Unlock()
}

// PutDeal inserts or replaces a deal.
func (d *MemoryDirectory) PutDeal(deal models.Deal) {
	d.mu.Lock()
	d.deals[deal.ID] = deal
	d.mu.Unlock()
}

// SaveParticipant is PutParticipant with the signature shared with
// GormDirectory.
func (d *MemoryDirectory) SaveParticipant(_ context.Context, p models.Participant) error {
	d.PutParticipant(p)
	return nil
}

// SaveDeal is PutDeal with the signature shared with GormDirectory.
func (d *MemoryDirectory) SaveDeal(_ context.Context, deal models.Deal) error {
	d.PutDeal(deal)
	return nil
}

// DeleteDeal removes a deal, e.g. to model a concurrent deletion.
func (d *MemoryDirectory) DeleteDeal(id string) {
	d.mu.Lock()
	delete(d.deals, id)
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetParticipant(_ context.Context, id string) (models.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return models.Participant{}, models.NewNotFoundError("participant", id)
	}
	return p, nil
}

func (d *MemoryDirectory) GetDeal(_ context.Context, id string) (models.Deal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	deal, ok := d.deals[id]
	if !ok {
		return models.Deal{}, models.NewNotFoundError("deal", id)
	}
	return deal, nil
}

func (d *MemoryDirectory) ListDealsFor(_ context.Context, participantID string) ([]models.Deal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Deal
	for _, deal := range d.deals {
		if deal.HasParticipant(participantID) {
			out = append(out, deal)
		}
	}
	sortDeals(out)
	return out, nil
}

// Participants lists every known participant sorted by id.
func (d *MemoryDirectory) Participants() []models.Participant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Participant, 0, len(d.participants))
	for _, p := range d.participants {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.Participant) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// newest first, then by id
func sortDeals(deals []models.Deal) {
	slices.SortStableFunc(deals, func(a, b models.Deal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
