// Package domain describes the tenant directory consumed by the resolution
// cascade. Workspace and namespace lifecycle (creation, membership, teams)
// is owned by an external system; this core only reads ownership links.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Workspace struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Workspace) TableName() string { return "workspaces" }

// Namespace is a sub-tenant. It belongs to a workspace, or, when
// user-owned, directly to a user with a static tier.
type Namespace struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	Name        string        `gorm:"type:text;not null"`
	WorkspaceID *snowflake.ID `gorm:"index"`
	OwnerUserID *snowflake.ID `gorm:"index"`
	OwnerTier   *string       `gorm:"type:text"`
	Active      bool          `gorm:"not null;default:true"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Namespace) TableName() string { return "namespaces" }

// TierFeature is one row of the static user-tier feature table. Tier
// fallback is boolean only: a tier either includes a feature or it does not.
type TierFeature struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Tier        string       `gorm:"type:text;not null;index:ux_tier_features,unique,priority:1"`
	FeatureCode string       `gorm:"type:text;not null;index:ux_tier_features,unique,priority:2"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TierFeature) TableName() string { return "tier_features" }
