package domain

import (
	"context"
	"errors"
	"time"
)

// Service is the feature catalog: read-mostly lookups on the hot path plus
// administrative CRUD.
type Service interface {
	// Get returns the feature by code, or nil when unknown. Lookups are
	// served from a long-TTL cache.
	Get(ctx context.Context, code string) (*Feature, error)

	// PoolCode resolves the code whose usage pool is charged: the parent's
	// code when set, otherwise the code itself.
	PoolCode(ctx context.Context, code string) (string, error)

	// PoolFamily returns the pool code plus the codes of every active
	// feature pooled under it.
	PoolFamily(ctx context.Context, poolCode string) ([]string, error)

	// ListPools returns active pool-root features (no parent) of the given
	// type; empty type means all.
	ListPools(ctx context.Context, featureType *FeatureType) ([]Feature, error)

	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Archive(ctx context.Context, code string) (*Response, error)
}

type ListRequest struct {
	Code        string
	FeatureType *FeatureType
	Active      *bool
	SortBy      string
	OrderBy     string
}

type CreateRequest struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	FeatureType FeatureType    `json:"feature_type"`
	ResetPolicy ResetPolicy    `json:"reset_policy"`
	WindowDays  *int           `json:"window_days"`
	ParentCode  *string        `json:"parent_code"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	Code        string         `json:"code"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Active      *bool          `json:"active,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	FeatureType FeatureType    `json:"feature_type"`
	ResetPolicy ResetPolicy    `json:"reset_policy"`
	WindowDays  *int           `json:"window_days,omitempty"`
	ParentCode  *string        `json:"parent_code,omitempty"`
	Active      bool           `json:"active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidType        = errors.New("invalid_feature_type")
	ErrInvalidResetPolicy = errors.New("invalid_reset_policy")
	ErrInvalidWindowDays  = errors.New("invalid_window_days")
	ErrInvalidParent      = errors.New("invalid_parent_code")
	ErrCodeExists         = errors.New("feature_code_exists")
	ErrNotFound           = errors.New("not_found")
)
