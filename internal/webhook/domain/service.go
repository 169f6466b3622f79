package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

// Emitter is the write-side surface other services use to publish events.
// Emission is best effort: failures are logged, never returned to the
// caller's request path.
type Emitter interface {
	Emit(ctx context.Context, req DispatchRequest)
}

type Service interface {
	Emitter

	Register(ctx context.Context, req RegisterRequest) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)

	// Dispatch fans the event out to every matching active endpoint and
	// returns how many deliveries were created.
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchSummary, error)

	// Deliver performs one HTTP attempt for a pending or failed delivery.
	Deliver(ctx context.Context, deliveryID snowflake.ID) error

	RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryResponse, error)
	ListDeliveries(ctx context.Context, req ListDeliveriesRequest) (*DeliveryListResponse, error)
	GetDelivery(ctx context.Context, deliveryID string) (*DeliveryResponse, error)

	// ResetBreaker re-enables a tripped endpoint and zeroes its failure
	// count.
	ResetBreaker(ctx context.Context, id string) (*Response, error)
	SendTest(ctx context.Context, id string) (*DeliveryResponse, error)

	// RedeliverDue retries failed deliveries whose attempt count is still
	// under the configured maximum. Returns how many were retried.
	RedeliverDue(ctx context.Context) (int, error)
}

type RegisterRequest struct {
	WorkspaceID *string  `json:"workspace_id"`
	URL         string   `json:"url"`
	Secret      string   `json:"secret"`
	Events      []string `json:"events"`
	MaxAttempts *int     `json:"max_attempts,omitempty"`
}

type UpdateRequest struct {
	ID          string   `json:"id"`
	URL         *string  `json:"url,omitempty"`
	Secret      *string  `json:"secret,omitempty"`
	Events      []string `json:"events,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	MaxAttempts *int     `json:"max_attempts,omitempty"`
}

type ListRequest struct {
	WorkspaceID string
	Active      *bool
}

type DispatchRequest struct {
	Event Event
	// WorkspaceID narrows fan-out to endpoints registered for that
	// workspace plus global endpoints. Zero means global endpoints only.
	WorkspaceID snowflake.ID
	Data        map[string]any
}

// DispatchResult is the outcome for one matched endpoint. Deliveries
// handed to the async queue report pending; inline sends report their
// final status.
type DispatchResult struct {
	WebhookID  string         `json:"webhook_id"`
	DeliveryID string         `json:"delivery_id"`
	Status     DeliveryStatus `json:"status"`
}

type DispatchSummary struct {
	Matched   int              `json:"matched"`
	Queued    int              `json:"queued"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []DispatchResult `json:"results,omitempty"`
}

type ListDeliveriesRequest struct {
	WebhookID string
	Status    DeliveryStatus
	Limit     int
	Page      pagination.Pagination
}

type DeliveryListResponse struct {
	Deliveries []DeliveryResponse   `json:"deliveries"`
	PageInfo   *pagination.PageInfo `json:"page_info,omitempty"`
}

type Response struct {
	ID           string          `json:"id"`
	WorkspaceID  *string         `json:"workspace_id,omitempty"`
	URL          string          `json:"url"`
	Events       []string        `json:"events"`
	MaxAttempts  int             `json:"max_attempts"`
	IsActive     bool            `json:"is_active"`
	FailureCount int             `json:"failure_count"`
	LastStatus   *DeliveryStatus `json:"last_delivery_status,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type DeliveryResponse struct {
	ID             string         `json:"id"`
	WebhookID      string         `json:"webhook_id"`
	Event          Event          `json:"event"`
	Payload        map[string]any `json:"payload"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ResponseStatus *int           `json:"response_status,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

var (
	ErrInvalidURL       = errors.New("invalid_url")
	ErrInvalidSecret    = errors.New("invalid_secret")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidWorkspace = errors.New("invalid_workspace")
	ErrNotFound         = errors.New("webhook_not_found")
	ErrDeliveryNotFound = errors.New("delivery_not_found")
	ErrEndpointInactive = errors.New("endpoint_inactive")
	ErrDeliveryFailed   = errors.New("webhook_delivery_failed")
)
