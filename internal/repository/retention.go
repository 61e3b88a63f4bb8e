package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/atlashq/atlas/internal/models"
)

// MetricRepository stores sampled sandbox metrics.
type MetricRepository struct {
	db *gorm.DB
}

func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) Record(ctx context.Context, metric *models.Metric) error {
	return r.db.WithContext(ctx).Create(metric).Error
}

// DeleteOlderThan removes metrics recorded before cutoff and returns how many
// rows went away. Deleting already-deleted rows is a no-op, so overlapping
// sweeps are harmless.
func (r *MetricRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&models.Metric{})
	return res.RowsAffected, res.Error
}

// IdempotencyRepository stores request idempotency records.
type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Create(ctx context.Context, key *models.IdempotencyKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
