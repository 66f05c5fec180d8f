// Package seed fills a directory with demo buyers, sellers, admins and deals.
// It is intended for development and tests only.
package seed

import (
	"context"
	"fmt"
	"time"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
)

// Writer is implemented by directory.MemoryDirectory and
// directory.GormDirectory.
type Writer interface {
	SaveParticipant(ctx context.Context, p models.Participant) error
	SaveDeal(ctx context.Context, deal models.Deal) error
}

// Options sizes the generated data. The same Seed yields the same data.
type Options struct {
	Buyers  int
	Sellers int
	Admins  int
	Deals   int
	Seed    int64
	// Now anchors deal creation dates; zero means time.Now.
	Now time.Time
}

// DefaultOptions is the demo data set loaded by the server.
func DefaultOptions() Options {
	return Options{Buyers: 3, Sellers: 3, Admins: 1, Deals: 8, Seed: 42}
}

// Result lists what was written.
type Result struct {
	Participants []models.Participant
	Deals        []models.Deal
}

var dealStatuses = []models.DealStatus{
	models.DealStatusPending,
	models.DealStatusNegotiating,
	models.DealStatusNegotiating,
	models.DealStatusAccepted,
	models.DealStatusRejected,
}

// Factory builds deterministic demo entities.
type Factory struct {
	faker *gofakeit.Faker
	now   time.Time
}

// NewFactory creates a factory drawing from seed.
func NewFactory(seed int64, now time.Time) *Factory {
	if now.IsZero() {
		now = time.Now()
	}
	return &Factory{faker: gofakeit.New(seed), now: now}
}

// Participant builds the n-th participant of a role. Ids are stable:
// "buyer-1", "seller-2", ...
func (f *Factory) Participant(role models.Role, n int, overrides ...func(*models.Participant)) models.Participant {
	id := fmt.Sprintf("%s-%d", role, n)
	p := models.Participant{
		ID:     id,
		Name:   f.faker.FirstName() + " " + f.faker.LastName(),
		Avatar: "https://i.pravatar.cc/150?u=" + id,
		Role:   role,
	}
	for _, override := range overrides {
		override(&p)
	}
	return p
}

// Deal builds the n-th deal between buyer and seller.
func (f *Factory) Deal(n int, buyer, seller models.Participant, overrides ...func(*models.Deal)) models.Deal {
	d := models.Deal{
		ID:        fmt.Sprintf("deal-%03d", n),
		Title:     fmt.Sprintf("%s %s supply", f.faker.Company(), f.faker.Noun()),
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Status:    dealStatuses[f.faker.Number(0, len(dealStatuses)-1)],
		Value:     f.faker.Price(1_000, 250_000),
		CreatedAt: f.now.Add(-time.Duration(f.faker.Number(1, 90*24)) * time.Hour).UTC(),
	}
	for _, override := range overrides {
		override(&d)
	}
	return d
}

// SeedDirectory writes participants and deals into w. Every buyer trades
// with sellers in round-robin order, so all of them have at least one deal
// whenever Deals is at least the number of buyers and sellers.
func SeedDirectory(ctx context.Context, w Writer, opts Options) (Result, error) {
	if opts.Buyers <= 0 || opts.Sellers <= 0 {
		return Result{}, fmt.Errorf("seed: need at least one buyer and one seller")
	}
	f := NewFactory(opts.Seed, opts.Now)

	var res Result
	add := func(role models.Role, count int) ([]models.Participant, error) {
		out := make([]models.Participant, 0, count)
		for i := 1; i <= count; i++ {
			p := f.Participant(role, i)
			if err := w.SaveParticipant(ctx, p); err != nil {
				return nil, fmt.Errorf("save participant %s: %w", p.ID, err)
			}
			out = append(out, p)
		}
		res.Participants = append(res.Participants, out...)
		return out, nil
	}

	buyers, err := add(models.RoleBuyer, opts.Buyers)
	if err != nil {
		return Result{}, err
	}
	sellers, err := add(models.RoleSeller, opts.Sellers)
	if err != nil {
		return Result{}, err
	}
	if _, err := add(models.RoleAdmin, opts.Admins); err != nil {
		return Result{}, err
	}

	for i := range opts.Deals {
		d := f.Deal(i+1, buyers[i%len(buyers)], sellers[(i/len(buyers)+i)%len(sellers)])
		if err := w.SaveDeal(ctx, d); err != nil {
			return Result{}, fmt.Errorf("save deal %s: %w", d.ID, err)
		}
		res.Deals = append(res.Deals, d)
	}

	observability.GlobalLogger.InfoContext(ctx, "seeded directory",
		"participants", len(res.Participants),
		"deals", len(res.Deals),
	)
	return res, nil
}
