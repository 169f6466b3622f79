package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Feature, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Feature, error)
	ListChildren(ctx context.Context, db *gorm.DB, parentCode string) ([]Feature, error)
	ListPools(ctx context.Context, db *gorm.DB, featureType *FeatureType) ([]Feature, error)
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error
}
