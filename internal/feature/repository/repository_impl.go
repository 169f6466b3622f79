package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Create(feature).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).
		Where("code = ?", code).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).Model(&domain.Feature{})

	if filter.Code != "" {
		stmt = stmt.Where("code = ?", filter.Code)
	}
	if filter.FeatureType != nil {
		stmt = stmt.Where("feature_type = ?", *filter.FeatureType)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"code":       true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListChildren(ctx context.Context, db *gorm.DB, parentCode string) ([]domain.Feature, error) {
	var items []domain.Feature
	err := db.WithContext(ctx).
		Where("parent_code = ? AND active = ?", parentCode, true).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListPools(ctx context.Context, db *gorm.DB, featureType *domain.FeatureType) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).
		Where("active = ?", true).
		Where("parent_code IS NULL OR parent_code = ''")
	if featureType != nil {
		stmt = stmt.Where("feature_type = ?", *featureType)
	}
	if err := stmt.Order("code asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(feature).Error
}
