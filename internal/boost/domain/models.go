// Package domain contains persistence models for boosts: standalone
// grants layered on top of plan assignments with their own lifecycle and
// consumption counter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/datatypes"
)

type BoostType string

const (
	// BoostTypeAddLimit adds finite capacity on top of plan grants.
	BoostTypeAddLimit BoostType = "add_limit"
	// BoostTypeEnable grants presence only, for boolean features.
	BoostTypeEnable BoostType = "enable"
	// BoostTypeUnlimited removes the cap entirely while usable.
	BoostTypeUnlimited BoostType = "unlimited"
)

type DurationType string

const (
	// DurationTypeCycleBound ends at the principal's current billing
	// cycle boundary.
	DurationTypeCycleBound DurationType = "cycle_bound"
	DurationTypeDuration   DurationType = "duration"
	DurationTypePermanent  DurationType = "permanent"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Boost grants extra entitlement for one feature code. ConsumedQuantity
// only moves through the conditional-increment consume path and never
// exceeds LimitValue; status flips to exhausted in the same statement
// that spends the last unit.
type Boost struct {
	ID snowflake.ID `gorm:"primaryKey"`

	PrincipalKind principal.Kind `gorm:"type:text;not null;index:ix_boosts_principal,priority:1"`
	PrincipalID   snowflake.ID   `gorm:"not null;index:ix_boosts_principal,priority:2"`

	FeatureCode  string       `gorm:"type:text;not null;index"`
	BoostType    BoostType    `gorm:"type:text;not null"`
	DurationType DurationType `gorm:"type:text;not null"`

	LimitValue       int64  `gorm:"not null;default:0"`
	ConsumedQuantity int64  `gorm:"not null;default:0"`
	Status           Status `gorm:"type:text;not null;default:active;index"`

	StartsAt  *time.Time `gorm:""`
	ExpiresAt *time.Time `gorm:"index"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Boost) TableName() string { return "boosts" }

// Principal returns the boost's principal reference.
func (b *Boost) Principal() principal.Ref {
	return principal.Ref{Kind: b.PrincipalKind, ID: b.PrincipalID}
}

// Remaining returns the unspent capacity of an add_limit boost.
func (b *Boost) Remaining() int64 {
	if remaining := b.LimitValue - b.ConsumedQuantity; remaining > 0 {
		return remaining
	}
	return 0
}

// UsableAt reports whether the boost contributes grants at the given
// instant.
func (b *Boost) UsableAt(at time.Time) bool {
	if b.Status != StatusActive {
		return false
	}
	if b.StartsAt != nil && b.StartsAt.After(at) {
		return false
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(at) {
		return false
	}
	return true
}
