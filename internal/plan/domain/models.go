// Package domain contains persistence models for plans and plan
// assignments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/datatypes"
)

// Plan bundles feature grants under a stable code. A base plan is the
// principal's tier; at most one base assignment is active per principal.
// Non-base plans stack as add-ons.
type Plan struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Code string       `gorm:"type:text;not null;uniqueIndex:ux_plans_code"`

	Name        string            `gorm:"type:text;not null"`
	Description *string           `gorm:"type:text"`
	IsBase      bool              `gorm:"not null;default:false"`
	Active      bool              `gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`

	Features []PlanFeature `gorm:"foreignKey:PlanID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

// PlanFeature grants one feature under a plan. A nil LimitValue grants
// unlimited consumption for limited features.
type PlanFeature struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	PlanID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_plan_features,priority:1"`
	FeatureCode string       `gorm:"type:text;not null;uniqueIndex:ux_plan_features,priority:2"`
	LimitValue  *int64       `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PlanFeature) TableName() string { return "plan_features" }

type AssignmentStatus string

const (
	AssignmentStatusActive    AssignmentStatus = "active"
	AssignmentStatusSuspended AssignmentStatus = "suspended"
	AssignmentStatusCancelled AssignmentStatus = "cancelled"
	AssignmentStatusExpired   AssignmentStatus = "expired"
)

// Assignment binds a plan to a principal for a period. BillingCycleAnchor
// seeds the monthly reset window for usage accounting.
type Assignment struct {
	ID snowflake.ID `gorm:"primaryKey"`

	PrincipalKind principal.Kind `gorm:"type:text;not null;index:ix_assignments_principal,priority:1"`
	PrincipalID   snowflake.ID   `gorm:"not null;index:ix_assignments_principal,priority:2"`

	PlanID snowflake.ID     `gorm:"not null;index"`
	Status AssignmentStatus `gorm:"type:text;not null;default:active;index"`

	StartsAt           time.Time  `gorm:"not null"`
	ExpiresAt          *time.Time `gorm:"index"`
	BillingCycleAnchor time.Time  `gorm:"not null"`
	CancelledAt        *time.Time `gorm:""`

	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	Plan *Plan `gorm:"foreignKey:PlanID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Assignment) TableName() string { return "plan_assignments" }

// Principal returns the assignment's principal reference.
func (a *Assignment) Principal() principal.Ref {
	return principal.Ref{Kind: a.PrincipalKind, ID: a.PrincipalID}
}

// ActiveAt reports whether the assignment grants entitlements at the
// given instant.
func (a *Assignment) ActiveAt(at time.Time) bool {
	if a.Status != AssignmentStatusActive {
		return false
	}
	if a.StartsAt.After(at) {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(at) {
		return false
	}
	return true
}
