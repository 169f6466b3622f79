package domain

import (
	"context"
	"errors"
	"time"

	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

type Service interface {
	// Record resolves the feature to its pool code, appends a usage
	// record, and forgets the cached usage sum for the affected key.
	// Requests carrying an idempotency key the ledger has already seen
	// return the original record.
	Record(ctx context.Context, req RecordRequest) (*Response, error)

	// CurrentUsage sums the principal's consumption for the pool code
	// over the feature's reset window.
	CurrentUsage(ctx context.Context, p principal.Ref, poolCode string, feature *featuredomain.Feature) (int64, error)

	// PruneBefore deletes records older than the cutoff. Returns how many
	// rows were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RecordRequest struct {
	Principal      principal.Ref
	FeatureCode    string
	Quantity       int64
	RecordedAt     *time.Time
	IdempotencyKey string
	Metadata       map[string]any
}

type Response struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal"`
	FeatureCode string    `json:"feature_code"`
	PoolCode    string    `json:"pool_code"`
	Quantity    int64     `json:"quantity"`
	RecordedAt  time.Time `json:"recorded_at"`
}

var (
	ErrInvalidPrincipal = errors.New("invalid_principal")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrFeatureNotFound  = errors.New("feature_not_found")
)
