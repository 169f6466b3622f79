package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, webhook *Webhook) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Webhook, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Webhook, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Webhook, error)
	// ListTargets returns active endpoints eligible for a workspace's
	// events: endpoints bound to the workspace plus global ones.
	ListTargets(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID) ([]Webhook, error)
	Update(ctx context.Context, db *gorm.DB, webhook *Webhook) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
	FindDeliveryByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Delivery, error)
	ListDeliveries(ctx context.Context, db *gorm.DB, filter ListDeliveriesRequest) ([]Delivery, error)
	// ListRetryable returns failed deliveries with attempts below their
	// endpoint's max_attempts, for endpoints that are still active.
	ListRetryable(ctx context.Context, db *gorm.DB, limit int) ([]Delivery, error)
	UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
}
