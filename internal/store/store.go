package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"air-quality-backend/internal/model"
)

// Notifier receives each reading after it has been durably inserted.
// Implementations must not block: the ingest path does not wait for
// subscribers. Delivery is at-most-once with no replay.
type Notifier interface {
	NotifyReading(r model.SensorReading)
}

// Store defines the interface for all database operations.
type Store interface {
	CreateReading(ctx context.Context, r *model.SensorReading) error
	LatestReading(ctx context.Context) (*model.SensorReading, error)
	RecentReadings(ctx context.Context, limit int) ([]model.SensorReading, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db        *gorm.DB
	notifiers []Notifier
}

// NewGormStore creates a new GORM-backed store. Any notifiers given are
// invoked, in order, for every successfully inserted reading; this is
// the change feed the live-update channel hangs off.
func NewGormStore(db *gorm.DB, notifiers ...Notifier) Store {
	return &gormStore{db: db, notifiers: notifiers}
}

// CreateReading inserts one reading row. The id and created_at are
// assigned by the store, never by the device.
func (s *gormStore) CreateReading(ctx context.Context, r *model.SensorReading) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	for _, n := range s.notifiers {
		n.NotifyReading(*r)
	}
	return nil
}

// LatestReading returns the most recently created reading, or nil when
// the table is empty. The id tie-break keeps same-second inserts in
// insertion order on databases with coarse timestamp precision.
func (s *gormStore) LatestReading(ctx context.Context) (*model.SensorReading, error) {
	var r model.SensorReading
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return &r, nil
}

// RecentReadings returns up to limit readings, newest first.
func (s *gormStore) RecentReadings(ctx context.Context, limit int) ([]model.SensorReading, error) {
	if limit <= 0 {
		return []model.SensorReading{}, nil
	}
	readings := make([]model.SensorReading, 0, limit)
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query reading history: %w", err)
	}
	return readings, nil
}

// UpsertSubscription creates or refreshes a push subscription keyed by
// its endpoint.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

// GetSubscription returns the subscription for an endpoint, or nil when
// none is stored.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription by endpoint.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// DB exposes the underlying gorm handle for components that manage
// their own queries (the push worker pool).
func (s *gormStore) DB() *gorm.DB {
	return s.db
}
