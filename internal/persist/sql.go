package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVEntry is one stored item of the SQL storage driver.
type KVEntry struct {
	Namespace string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"column:item_key;primaryKey;size:128"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "client_state_entries" }

// SQLStorage stores items in a relational table through gorm. Namespace
// separates the state of different users sharing one database.
type SQLStorage struct {
	db        *gorm.DB
	namespace string
}

// NewSQLStorage migrates the entries table and scopes items to namespace.
func NewSQLStorage(db *gorm.DB, namespace string) (*SQLStorage, error) {
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate client_state_entries: %w", err)
	}
	return &SQLStorage{db: db, namespace: namespace}, nil
}

// WithNamespace returns a storage sharing the connection under another namespace.
func (s *SQLStorage) WithNamespace(namespace string) *SQLStorage {
	return &SQLStorage{db: s.db, namespace: namespace}
}

func (s *SQLStorage) GetItem(ctx context.Context, key string) (string, error) {
	var entry KVEntry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", s.namespace, key).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (s *SQLStorage) SetItem(ctx context.Context, key, value string) error {
	entry := KVEntry{Namespace: s.namespace, Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *SQLStorage) RemoveItem(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", s.namespace, key).
		Delete(&KVEntry{}).Error
}
