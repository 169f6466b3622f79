// Package domain contains the append-only usage ledger model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/principal"
	"gorm.io/datatypes"
)

// Record is one immutable consumption event, stored against the resolved
// pool feature code. Rows are never updated; the only delete is the
// scheduled retention prune.
type Record struct {
	ID snowflake.ID `gorm:"primaryKey"`

	PrincipalKind principal.Kind `gorm:"type:text;not null;index:ix_usage_principal_feature,priority:1;uniqueIndex:ux_usage_idempotency,priority:1"`
	PrincipalID   snowflake.ID   `gorm:"not null;index:ix_usage_principal_feature,priority:2;uniqueIndex:ux_usage_idempotency,priority:2"`

	FeatureCode string `gorm:"type:text;not null;index:ix_usage_principal_feature,priority:3"`
	Quantity    int64  `gorm:"not null"`

	RecordedAt time.Time `gorm:"not null;index"`

	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_usage_idempotency,priority:3"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Record) TableName() string { return "usage_records" }

// Principal returns the record's principal reference.
func (r *Record) Principal() principal.Ref {
	return principal.Ref{Kind: r.PrincipalKind, ID: r.PrincipalID}
}
