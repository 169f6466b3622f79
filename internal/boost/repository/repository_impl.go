package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/boost/domain"
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

// scopeUsableAt narrows a query to boosts contributing grants at the
// given instant.
func scopeUsableAt(at time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("status = ?", domain.StatusActive).
			Where("starts_at IS NULL OR starts_at <= ?", at).
			Where("expires_at IS NULL OR expires_at > ?", at)
	}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, boost *domain.Boost) error {
	return db.WithContext(ctx).Create(boost).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Boost, error) {
	var boost domain.Boost
	err := db.WithContext(ctx).Where("id = ?", id).First(&boost).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &boost, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Boost, error) {
	var boosts []domain.Boost
	stmt := db.WithContext(ctx)
	if filter.Principal.Valid() {
		stmt = stmt.Scopes(scopePrincipal(filter.Principal))
	}
	if filter.FeatureCode != "" {
		stmt = stmt.Where("feature_code = ?", filter.FeatureCode)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if err := stmt.Order("created_at asc").Find(&boosts).Error; err != nil {
		return nil, err
	}
	return boosts, nil
}

func (r *repo) ListUsableAt(ctx context.Context, db *gorm.DB, p principal.Ref, featureCodes []string, at time.Time) ([]domain.Boost, error) {
	if len(featureCodes) == 0 {
		return nil, nil
	}
	var boosts []domain.Boost
	err := db.WithContext(ctx).
		Scopes(scopePrincipal(p), scopeUsableAt(at)).
		Where("feature_code IN ?", featureCodes).
		Order("expires_at IS NULL, expires_at asc, created_at asc").
		Find(&boosts).Error
	if err != nil {
		return nil, err
	}
	return boosts, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, boost *domain.Boost) error {
	if boost == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(boost).Error
}

// Consume is the one write that must stay a single conditional statement:
// concurrent consumers race on the same row and the guard is what keeps
// consumed_quantity under limit_value.
func (r *repo) Consume(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE boosts
		 SET consumed_quantity = consumed_quantity + ?,
		     status = CASE WHEN consumed_quantity + ? >= limit_value THEN ? ELSE status END,
		     updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND boost_type = ?
		   AND consumed_quantity + ? <= limit_value`,
		quantity,
		quantity,
		domain.StatusExhausted,
		at,
		id,
		domain.StatusActive,
		domain.BoostTypeAddLimit,
		quantity,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListDueExpiry(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]domain.Boost, error) {
	var boosts []domain.Boost
	stmt := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Where("expires_at IS NOT NULL AND expires_at <= ?", at).
		Order("expires_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&boosts).Error; err != nil {
		return nil, err
	}
	return boosts, nil
}
