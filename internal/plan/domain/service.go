package domain

import (
	"context"
	"errors"
	"time"

	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

type Service interface {
	// Catalog management.
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, code string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Archive(ctx context.Context, code string) (*Response, error)

	// Assignment lifecycle.
	Provision(ctx context.Context, req ProvisionRequest) (*AssignmentResponse, error)
	Suspend(ctx context.Context, assignmentID string) (*AssignmentResponse, error)
	Resume(ctx context.Context, assignmentID string) (*AssignmentResponse, error)
	// Cancel stops renewal but keeps the grant alive until ExpiresAt; an
	// assignment without an expiry ends immediately.
	Cancel(ctx context.Context, assignmentID string) (*AssignmentResponse, error)
	// Revoke ends the grant immediately.
	Revoke(ctx context.Context, assignmentID string) (*AssignmentResponse, error)
	ListAssignments(ctx context.Context, req ListAssignmentsRequest) ([]AssignmentResponse, error)

	// ActiveAssignments returns the principal's assignments that grant
	// entitlements right now, plan preloaded.
	ActiveAssignments(ctx context.Context, p principal.Ref) ([]Assignment, error)

	// BaseAssignment returns the principal's active base assignment, or
	// nil when the principal has none.
	BaseAssignment(ctx context.Context, p principal.Ref) (*Assignment, error)

	// EntitledLimit combines the limits every active assignment grants
	// for any of the given feature codes.
	EntitledLimit(ctx context.Context, p principal.Ref, featureCodes []string) (grantdomain.Limit, error)

	// ExpireDue marks assignments past their expiry as expired. Returns
	// how many were transitioned.
	ExpireDue(ctx context.Context) (int, error)
}

type FeatureGrant struct {
	FeatureCode string `json:"feature_code"`
	LimitValue  *int64 `json:"limit_value"`
}

type CreateRequest struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	IsBase      bool           `json:"is_base"`
	Features    []FeatureGrant `json:"features"`
	Metadata    map[string]any `json:"metadata"`
}

type ListRequest struct {
	Active *bool
	IsBase *bool
}

type ProvisionRequest struct {
	Principal          principal.Ref
	PlanCode           string
	StartsAt           *time.Time
	ExpiresAt          *time.Time
	BillingCycleAnchor *time.Time
	Metadata           map[string]any
}

type ListAssignmentsRequest struct {
	Principal principal.Ref
	Status    AssignmentStatus
}

type Response struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	IsBase      bool           `json:"is_base"`
	Active      bool           `json:"active"`
	Features    []FeatureGrant `json:"features"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type AssignmentResponse struct {
	ID                 string           `json:"id"`
	Principal          string           `json:"principal"`
	PlanCode           string           `json:"plan_code"`
	Status             AssignmentStatus `json:"status"`
	StartsAt           time.Time        `json:"starts_at"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	BillingCycleAnchor time.Time        `json:"billing_cycle_anchor"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

var (
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidFeature     = errors.New("invalid_feature")
	ErrInvalidLimit       = errors.New("invalid_limit")
	ErrInvalidPrincipal   = errors.New("invalid_principal")
	ErrCodeExists         = errors.New("plan_code_exists")
	ErrPlanNotFound       = errors.New("plan_not_found")
	ErrPlanInactive       = errors.New("plan_inactive")
	ErrAssignmentNotFound = errors.New("assignment_not_found")
	ErrInvalidTransition  = errors.New("invalid_transition")
)
