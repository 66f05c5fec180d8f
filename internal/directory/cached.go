package directory

import (
	"context"
	"errors"

	"dealroom/internal/cache"
	"dealroom/internal/models"
)

// CachedDirectory fronts another Directory with a Redis cache-aside layer.
// Misses are never cached, so a deal created later becomes visible at once.
type CachedDirectory struct {
	next  Directory
	cache *cache.JSONCache
}

func NewCachedDirectory(next Directory, c *cache.JSONCache) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c}
}

func (d *CachedDirectory) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := d.cache.CacheAside(ctx, cache.ParticipantKey(id), &p, cache.ParticipantTTL, func() error {
		var err error
		p, err = d.next.GetParticipant(ctx, id)
		return err
	})
	return p, err
}

func (d *CachedDirectory) GetDeal(ctx context.Context, id string) (models.Deal, error) {
	var deal models.Deal
	err := d.cache.CacheAside(ctx, cache.DealKey(id), &deal, cache.DealTTL, func() error {
		var err error
		deal, err = d.next.GetDeal(ctx, id)
		return err
	})
	return deal, err
}

func (d *CachedDirectory) ListDealsFor(ctx context.Context, participantID string) ([]models.Deal, error) {
	var deals []models.Deal
	err := d.cache.CacheAside(ctx, cache.UserDealsKey(participantID), &deals, cache.UserDealsTTL, func() error {
		var err error
		deals, err = d.next.ListDealsFor(ctx, participantID)
		return err
	})
	return deals, err
}

// SaveDeal writes through to the wrapped directory and drops the cached
// copies of the deal.
func (d *CachedDirectory) SaveDeal(ctx context.Context, deal models.Deal) error {
	w, ok := d.next.(DealWriter)
	if !ok {
		return errors.New("directory: wrapped directory is read-only")
	}
	if err := w.SaveDeal(ctx, deal); err != nil {
		return err
	}
	return d.InvalidateDeal(ctx, deal)
}

// InvalidateDeal drops cached entries touched by a deal change.
func (d *CachedDirectory) InvalidateDeal(ctx context.Context, deal models.Deal) error {
	return d.cache.Invalidate(ctx,
		cache.DealKey(deal.ID),
		cache.UserDealsKey(deal.BuyerID),
		cache.UserDealsKey(deal.SellerID),
	)
}
