// Package domain contains persistence models for webhook endpoints and
// their delivery history.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event names carried on the wire. Endpoints subscribe by name; an empty
// subscription list means every event.
type Event string

const (
	EventLimitWarning   Event = "limit_warning"
	EventLimitReached   Event = "limit_reached"
	EventPackageChanged Event = "package_changed"
	EventBoostActivated Event = "boost_activated"
	EventBoostExpired   Event = "boost_expired"
	EventTest           Event = "test"
)

func (e Event) Valid() bool {
	switch e {
	case EventLimitWarning, EventLimitReached, EventPackageChanged,
		EventBoostActivated, EventBoostExpired, EventTest:
		return true
	}
	return false
}

// Webhook is a registered endpoint. A nil WorkspaceID subscribes the
// endpoint to events from every workspace.
type Webhook struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	WorkspaceID *snowflake.ID `gorm:"index"`

	URL    string                      `gorm:"type:text;not null"`
	Secret string                      `gorm:"type:text;not null"`
	Events datatypes.JSONSlice[string] `gorm:"type:jsonb"`

	// MaxAttempts bounds redelivery of a failed delivery record.
	MaxAttempts int `gorm:"not null;default:3"`

	// IsActive flips to false when FailureCount reaches the configured
	// ceiling; deliveries stop until the breaker is reset.
	IsActive     bool            `gorm:"not null;default:true"`
	FailureCount int             `gorm:"not null;default:0"`
	LastStatus   *DeliveryStatus `gorm:"column:last_delivery_status;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Webhook) TableName() string { return "webhooks" }

// SubscribedTo reports whether the endpoint wants the event.
func (w *Webhook) SubscribedTo(event Event) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, name := range w.Events {
		if name == string(event) {
			return true
		}
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// Delivery is one append-only attempt record per (webhook, event emission).
// Attempts counts HTTP sends; the redelivery sweep picks up failed rows
// while Attempts is below the configured maximum.
type Delivery struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	WebhookID snowflake.ID `gorm:"not null;index"`

	Event   Event             `gorm:"type:text;not null"`
	Payload datatypes.JSONMap `gorm:"type:jsonb;not null"`

	Status         DeliveryStatus `gorm:"type:text;not null;default:pending;index"`
	Attempts       int            `gorm:"not null;default:0"`
	ResponseStatus *int           `gorm:""`
	LastError      *string        `gorm:"type:text"`
	DeliveredAt    *time.Time     `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Delivery) TableName() string { return "webhook_deliveries" }
