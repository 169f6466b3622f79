package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/alert/domain"
	"github.com/smallbiznis/entitle/internal/principal"
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

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Record, error) {
	var records []domain.Record
	stmt := db.WithContext(ctx)
	if filter.Principal.Valid() {
		stmt = stmt.Scopes(scopePrincipal(filter.Principal))
	}
	if filter.FeatureCode != "" {
		stmt = stmt.Where("feature_code = ?", filter.FeatureCode)
	}
	if filter.Unresolved {
		stmt = stmt.Where("resolved_at IS NULL")
	}
	if err := stmt.Order("notified_at desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ListUnresolved(ctx context.Context, db *gorm.DB, p principal.Ref, featureCode string) ([]domain.Record, error) {
	var records []domain.Record
	err := db.WithContext(ctx).
		Scopes(scopePrincipal(p)).
		Where("feature_code = ?", featureCode).
		Where("resolved_at IS NULL").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{"resolved_at": at, "updated_at": at}).Error
}
