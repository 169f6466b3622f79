package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/entitle/internal/principal"
)

type Service interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Cancel(ctx context.Context, id string) (*Response, error)

	// Consume atomically spends quantity units of an add_limit boost.
	// Returns false without error when the remaining capacity cannot
	// cover the request.
	Consume(ctx context.Context, id string, quantity int64) (bool, error)

	// UsableByPool returns the principal's usable boosts matching any of
	// the given feature codes, ordered soonest expiry first.
	UsableByPool(ctx context.Context, p principal.Ref, featureCodes []string) ([]Boost, error)

	// ExpireDue marks active boosts past their expiry as expired. Returns
	// how many were transitioned.
	ExpireDue(ctx context.Context) (int, error)
}

type ProvisionRequest struct {
	Principal    principal.Ref
	FeatureCode  string
	BoostType    BoostType
	DurationType DurationType
	// LimitValue is required for add_limit boosts, ignored otherwise.
	LimitValue int64
	StartsAt   *time.Time
	// ExpiresAt is required for duration boosts; cycle_bound boosts
	// compute it from the principal's billing cycle.
	ExpiresAt *time.Time
	Metadata  map[string]any
}

type ListRequest struct {
	Principal   principal.Ref
	FeatureCode string
	Status      Status
}

type Response struct {
	ID               string         `json:"id"`
	Principal        string         `json:"principal"`
	FeatureCode      string         `json:"feature_code"`
	BoostType        BoostType      `json:"boost_type"`
	DurationType     DurationType   `json:"duration_type"`
	LimitValue       int64          `json:"limit_value"`
	ConsumedQuantity int64          `json:"consumed_quantity"`
	Remaining        int64          `json:"remaining"`
	Status           Status         `json:"status"`
	StartsAt         *time.Time     `json:"starts_at,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

var (
	ErrInvalidPrincipal    = errors.New("invalid_principal")
	ErrInvalidFeature      = errors.New("invalid_feature")
	ErrInvalidBoostType    = errors.New("invalid_boost_type")
	ErrInvalidDurationType = errors.New("invalid_duration_type")
	ErrInvalidLimit        = errors.New("invalid_limit")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidExpiry       = errors.New("invalid_expiry")
	ErrNotFound            = errors.New("boost_not_found")
	ErrNotConsumable       = errors.New("boost_not_consumable")
	ErrAlreadyFinished     = errors.New("boost_already_finished")
)
