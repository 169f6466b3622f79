package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	ListPlans(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Plan, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, plan *Plan) error

	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	FindAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Assignment, error)
	FindAssignmentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Assignment, error)
	ListAssignments(ctx context.Context, db *gorm.DB, filter ListAssignmentsRequest) ([]Assignment, error)
	// ListActiveAt returns the principal's assignments granting
	// entitlements at the given instant, plan preloaded.
	ListActiveAt(ctx context.Context, db *gorm.DB, p principal.Ref, at time.Time) ([]Assignment, error)
	// FindActiveBaseAt returns the principal's active base-plan
	// assignment at the given instant, or nil.
	FindActiveBaseAt(ctx context.Context, db *gorm.DB, p principal.Ref, at time.Time) (*Assignment, error)
	UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	// ListDueExpiry returns active assignments whose expiry has passed.
	ListDueExpiry(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]Assignment, error)
}
