package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/entitle/internal/principal"
	"github.com/smallbiznis/entitle/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func scopePrincipal(p principal.Ref) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("principal_kind = ? AND principal_id = ?", p.Kind, p.ID)
	}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, p principal.Ref, key string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).
		Scopes(scopePrincipal(p)).
		Where("idempotency_key = ?", key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) SumSince(ctx context.Context, db *gorm.DB, p principal.Ref, poolCode string, since *time.Time) (int64, error) {
	var total *int64
	stmt := db.WithContext(ctx).
		Model(&domain.Record{}).
		Scopes(scopePrincipal(p)).
		Where("feature_code = ?", poolCode)
	if since != nil {
		stmt = stmt.Where("recorded_at >= ?", *since)
	}
	if err := stmt.Select("SUM(quantity)").Scan(&total).Error; err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&domain.Record{})
	return res.RowsAffected, res.Error
}
