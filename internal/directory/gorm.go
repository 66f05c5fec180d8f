package directory

import (
	"context"
	"errors"
	"fmt"

	"dealroom/internal/models"

	"gorm.io/gorm"
)

// GormDirectory reads deals and participants from a SQL database.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory migrates the directory tables and returns the directory.
func NewGormDirectory(db *gorm.DB) (*GormDirectory, error) {
	if err := db.AutoMigrate(&models.Participant{}, &models.Deal{}); err != nil {
		return nil, fmt.Errorf("migrate directory tables: %w", err)
	}
	return &GormDirectory{db: db}, nil
}

func (d *GormDirectory) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := d.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Participant{}, models.NewNotFoundError("participant", id)
	}
	if err != nil {
		return models.Participant{}, models.NewInternalError(err)
	}
	return p, nil
}

func (d *GormDirectory) GetDeal(ctx context.Context, id string) (models.Deal, error) {
	var deal models.Deal
	err := d.db.WithContext(ctx).First(&deal, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Deal{}, models.NewNotFoundError("deal", id)
	}
	if err != nil {
		return models.Deal{}, models.NewInternalError(err)
	}
	return deal, nil
}

func (d *GormDirectory) ListDealsFor(ctx context.Context, participantID string) ([]models.Deal, error) {
	var deals []models.Deal
	err := d.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", participantID, participantID).
		Order("created_at DESC, id ASC").
		Find(&deals).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return deals, nil
}

// SaveParticipant upserts a participant. Used by seeding.
func (d *GormDirectory) SaveParticipant(ctx context.Context, p models.Participant) error {
	return d.db.WithContext(ctx).Save(&p).Error
}

// SaveDeal upserts a deal. Seeding and status updates go through it.
func (d *GormDirectory) SaveDeal(ctx context.Context, deal models.Deal) error {
	return d.db.WithContext(ctx).Save(&deal).Error
}
