package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/entitle/internal/principal"
)

type Service interface {
	// EvaluatePrincipal walks the principal's limited features, fires the
	// single highest crossed threshold per feature, and resolves open
	// records once usage drops back under every rung. Returns how many
	// records were created.
	EvaluatePrincipal(ctx context.Context, p principal.Ref) (int, error)

	// EvaluateAll sweeps every workspace. Idempotent; safe to run
	// concurrently with live usage recording.
	EvaluateAll(ctx context.Context) (int, error)

	List(ctx context.Context, req ListRequest) ([]Response, error)

	// ResolveManually closes an open record by administrative override.
	ResolveManually(ctx context.Context, id string) (*Response, error)
}

type ListRequest struct {
	Principal   principal.Ref
	FeatureCode string
	Unresolved  bool
}

type Response struct {
	ID              string     `json:"id"`
	Principal       string     `json:"principal"`
	FeatureCode     string     `json:"feature_code"`
	Threshold       int        `json:"threshold"`
	UsagePercentage float64    `json:"usage_percentage"`
	NotifiedAt      time.Time  `json:"notified_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

var (
	ErrInvalidPrincipal = errors.New("invalid_principal")
	ErrNotFound         = errors.New("alert_not_found")
	ErrAlreadyResolved  = errors.New("alert_already_resolved")
)
