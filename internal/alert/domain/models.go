// Package domain contains the alert ledger: one open record per
// (principal, feature, threshold) crossing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
)

// Record marks a threshold crossing. ResolvedAt is null while the alert
// is live; a partial unique index on the unresolved tuple keeps the sweep
// and live checks from double-firing.
type Record struct {
	ID snowflake.ID `gorm:"primaryKey"`

	PrincipalKind principal.Kind `gorm:"type:text;not null;index:ix_alerts_principal,priority:1"`
	PrincipalID   snowflake.ID   `gorm:"not null;index:ix_alerts_principal,priority:2"`

	FeatureCode string `gorm:"type:text;not null"`
	Threshold   int    `gorm:"not null"`

	UsagePercentage float64 `gorm:"not null"`

	NotifiedAt time.Time  `gorm:"not null"`
	ResolvedAt *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Record) TableName() string { return "alert_records" }

// Principal returns the record's principal reference.
func (r *Record) Principal() principal.Ref {
	return principal.Ref{Kind: r.PrincipalKind, ID: r.PrincipalID}
}
