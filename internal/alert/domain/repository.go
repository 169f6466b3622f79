package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Record, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Record, error)
	// ListUnresolved returns the open records for one (principal,
	// feature) pair.
	ListUnresolved(ctx context.Context, db *gorm.DB, p principal.Ref, featureCode string) ([]Record, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
