// Package domain defines the aggregated grant limit model.
package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/entitle/internal/principal"
)

var ErrInvalidPrincipal = errors.New("invalid_principal")

// Limit is the aggregate of every grant source for one pool feature code.
//
// Present=false means no package or boost touches the feature at all; the
// caller should deny with "not entitled". A present limit with Value 0 is a
// fully consumed but real grant. Unlimited overrides Value.
type Limit struct {
	Present   bool
	Unlimited bool
	Value     int64
}

func Absent() Limit            { return Limit{} }
func UnlimitedLimit() Limit    { return Limit{Present: true, Unlimited: true} }
func ValueLimit(v int64) Limit { return Limit{Present: true, Value: v} }

// Add merges another finite contribution into the limit.
func (l Limit) Add(v int64) Limit {
	l.Present = true
	l.Value += v
	return l
}

// Mark records presence without a numeric contribution (boolean grants).
func (l Limit) Mark() Limit {
	l.Present = true
	return l
}

// Service aggregates grants from package assignments and boosts.
type Service interface {
	// TotalLimit computes the combined limit for a pool feature code. Any
	// unlimited source short-circuits the aggregation.
	TotalLimit(ctx context.Context, p principal.Ref, poolCode string) (Limit, error)
}
