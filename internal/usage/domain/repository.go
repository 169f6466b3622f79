package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, p principal.Ref, key string) (*Record, error)
	// SumSince totals quantity for (principal, poolCode) with recorded_at
	// at or after since; a nil since sums the full ledger.
	SumSince(ctx context.Context, db *gorm.DB, p principal.Ref, poolCode string, since *time.Time) (int64, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
