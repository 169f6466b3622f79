package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FeatureType string

const (
	FeatureTypeBoolean   FeatureType = "boolean"
	FeatureTypeLimited   FeatureType = "limited"
	FeatureTypeUnlimited FeatureType = "unlimited"
)

type ResetPolicy string

const (
	ResetPolicyNone    ResetPolicy = "none"
	ResetPolicyMonthly ResetPolicy = "monthly"
	ResetPolicyRolling ResetPolicy = "rolling"
)

// Feature is a meterable or togglable capability identified by a stable
// code. A feature with a parent shares the parent's usage pool: all of its
// consumption is charged against the parent's code.
type Feature struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Code string       `gorm:"type:text;not null;uniqueIndex:ux_features_code"`

	Name        string            `gorm:"type:text;not null"`
	Description *string           `gorm:"type:text"`
	Type        FeatureType       `gorm:"column:feature_type;type:text;not null"`
	ResetPolicy ResetPolicy       `gorm:"column:reset_policy;type:text;not null;default:none"`
	WindowDays  *int              `gorm:"column:window_days"`
	ParentCode  *string           `gorm:"column:parent_code;type:text;index"`
	Active      bool              `gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Feature) TableName() string { return "features" }

// PoolCode returns the feature code whose ledger is charged.
func (f *Feature) PoolCode() string {
	if f.ParentCode != nil && *f.ParentCode != "" {
		return *f.ParentCode
	}
	return f.Code
}
