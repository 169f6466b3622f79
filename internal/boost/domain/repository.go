package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, boost *Boost) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Boost, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Boost, error)
	// ListUsableAt returns the principal's usable boosts for the feature
	// codes at the given instant.
	ListUsableAt(ctx context.Context, db *gorm.DB, p principal.Ref, featureCodes []string, at time.Time) ([]Boost, error)
	Update(ctx context.Context, db *gorm.DB, boost *Boost) error
	// Consume performs the conditional increment: consumed_quantity grows
	// by quantity only when it still fits under limit_value, flipping
	// status to exhausted when the last unit is spent. Returns false when
	// the guard rejects the spend.
	Consume(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) (bool, error)
	// ListDueExpiry returns active boosts whose expiry has passed.
	ListDueExpiry(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]Boost, error)
}
