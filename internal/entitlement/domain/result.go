// Package domain defines the entitlement check surface. Checks never fail
// for business reasons: every denial is a Result value and only
// infrastructure faults surface as errors.
package domain

import (
	"context"

	"github.com/smallbiznis/entitle/internal/principal"
)

// Denial reasons carried on Result. A check that allows has no reason.
const (
	ReasonFeatureNotFound = "feature_not_found"
	ReasonNotEntitled     = "not_entitled"
	ReasonLimitReached    = "limit_reached"
)

// Result is the outcome of one entitlement check.
type Result struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	FeatureCode string `json:"feature_code"`
	Unlimited   bool   `json:"unlimited"`

	Limit           *int64   `json:"limit,omitempty"`
	Used            *int64   `json:"used,omitempty"`
	Remaining       *int64   `json:"remaining,omitempty"`
	UsagePercentage *float64 `json:"usage_percentage,omitempty"`
}

type Service interface {
	// Can decides whether the principal may consume quantity units of the
	// feature. Quantity values below 1 are treated as 1. Recording the
	// consumption is the caller's separate step after an allow.
	Can(ctx context.Context, p principal.Ref, featureCode string, quantity int64) (Result, error)
}

// Denied builds a deny result for a feature.
func Denied(featureCode, reason string) Result {
	return Result{FeatureCode: featureCode, Reason: reason}
}
