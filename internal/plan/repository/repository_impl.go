package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// scopePrincipal narrows a query to one principal's rows.
func scopePrincipal(p principal.Ref) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("principal_kind = ? AND principal_id = ?", p.Kind, p.ID)
	}
}

// scopeActiveAt narrows a query to assignments granting entitlements at
// the given instant.
func scopeActiveAt(at time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("status = ?", domain.AssignmentStatusActive).
			Where("starts_at <= ?", at).
			Where("expires_at IS NULL OR expires_at > ?", at)
	}
}

// lockForUpdate takes a row lock on databases that support it. SQLite
// serializes writers anyway and rejects the clause.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Preload("Features").
		Where("code = ?", code).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Preload("Features").
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Plan, error) {
	var plans []domain.Plan
	stmt := db.WithContext(ctx).Preload("Features")
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if filter.IsBase != nil {
		stmt = stmt.Where("is_base = ?", *filter.IsBase)
	}
	if err := stmt.Order("code asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	if plan == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Omit("Features").Save(plan).Error
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *domain.Assignment) error {
	return db.WithContext(ctx).Omit("Plan").Create(assignment).Error
}

func (r *repo) FindAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *repo) FindAssignmentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := lockForUpdate(db.WithContext(ctx)).
		Where("id = ?", id).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, filter domain.ListAssignmentsRequest) ([]domain.Assignment, error) {
	var assignments []domain.Assignment
	stmt := db.WithContext(ctx).Preload("Plan")
	if filter.Principal.Valid() {
		stmt = stmt.Scopes(scopePrincipal(filter.Principal))
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if err := stmt.Order("created_at asc").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) ListActiveAt(ctx context.Context, db *gorm.DB, p principal.Ref, at time.Time) ([]domain.Assignment, error) {
	var assignments []domain.Assignment
	err := db.WithContext(ctx).
		Preload("Plan.Features").
		Preload("Plan").
		Scopes(scopePrincipal(p), scopeActiveAt(at)).
		Order("starts_at asc").
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) FindActiveBaseAt(ctx context.Context, db *gorm.DB, p principal.Ref, at time.Time) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := db.WithContext(ctx).
		Preload("Plan").
		Select("plan_assignments.*").
		Joins("JOIN plans ON plans.id = plan_assignments.plan_id AND plans.is_base").
		Scopes(scopePrincipal(p), scopeActiveAt(at)).
		Order("plan_assignments.starts_at DESC").
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *repo) UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *domain.Assignment) error {
	if assignment == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Omit("Plan").Save(assignment).Error
}

func (r *repo) ListDueExpiry(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]domain.Assignment, error) {
	var assignments []domain.Assignment
	stmt := db.WithContext(ctx).
		Preload("Plan").
		Where("status = ?", domain.AssignmentStatusActive).
		Where("expires_at IS NOT NULL AND expires_at <= ?", at).
		Order("expires_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}
