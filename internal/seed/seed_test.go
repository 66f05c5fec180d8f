package seed

import (
	"context"
	"testing"
	"time"

	"dealroom/internal/directory"
	"dealroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var anchor = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestSeedDirectory_Memory(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	opts := DefaultOptions()
	opts.Now = anchor

	res, err := SeedDirectory(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.Len(t, res.Participants, opts.Buyers+opts.Sellers+opts.Admins)
	assert.Len(t, res.Deals, opts.Deals)

	for _, d := range res.Deals {
		got, err := dir.GetDeal(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, d, got)

		buyer, err := dir.GetParticipant(context.Background(), d.BuyerID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleBuyer, buyer.Role)
		seller, err := dir.GetParticipant(context.Background(), d.SellerID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleSeller, seller.Role)
		assert.True(t, d.CreatedAt.Before(anchor))
	}

	for _, id := range []string{"buyer-1", "buyer-3", "seller-1", "seller-3"} {
		deals, err := dir.ListDealsFor(context.Background(), id)
		require.NoError(t, err)
		assert.NotEmpty(t, deals, id)
	}
}

func TestSeedDirectory_Deterministic(t *testing.T) {
	opts := Options{Buyers: 2, Sellers: 2, Deals: 4, Seed: 7, Now: anchor}
	a, err := SeedDirectory(context.Background(), directory.NewMemoryDirectory(), opts)
	require.NoError(t, err)
	b, err := SeedDirectory(context.Background(), directory.NewMemoryDirectory(), opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSeedDirectory_Gorm(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	dir, err := directory.NewGormDirectory(db)
	require.NoError(t, err)

	opts := Options{Buyers: 2, Sellers: 1, Admins: 1, Deals: 3, Seed: 1, Now: anchor}
	_, err = SeedDirectory(context.Background(), dir, opts)
	require.NoError(t, err)
	// Seeding twice upserts instead of failing.
	_, err = SeedDirectory(context.Background(), dir, opts)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Deal{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestSeedDirectory_RequiresBothSides(t *testing.T) {
	_, err := SeedDirectory(context.Background(), directory.NewMemoryDirectory(), Options{Buyers: 1})
	assert.Error(t, err)
}

func TestFactory_Overrides(t *testing.T) {
	f := NewFactory(1, anchor)
	p := f.Participant(models.RoleSeller, 9, func(p *models.Participant) { p.Name = "Fixed" })
	assert.Equal(t, "seller-9", p.ID)
	assert.Equal(t, "Fixed", p.Name)

	d := f.Deal(1, models.Participant{ID: "b"}, p, func(d *models.Deal) { d.Status = models.DealStatusAccepted })
	assert.Equal(t, "deal-001", d.ID)
	assert.Equal(t, models.DealStatusAccepted, d.Status)
}
