package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/webhook/domain"
	"github.com/smallbiznis/entitle/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, webhook *domain.Webhook) error {
	return db.WithContext(ctx).Create(webhook).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Webhook, error) {
	var webhook domain.Webhook
	err := db.WithContext(ctx).Where("id = ?", id).First(&webhook).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &webhook, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Webhook, error) {
	var webhook domain.Webhook
	err := lockForUpdate(db.WithContext(ctx)).Where("id = ?", id).First(&webhook).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &webhook, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Webhook, error) {
	var webhooks []domain.Webhook
	stmt := db.WithContext(ctx)
	if filter.WorkspaceID != "" {
		id, err := snowflake.ParseString(filter.WorkspaceID)
		if err != nil {
			return nil, domain.ErrInvalidWorkspace
		}
		stmt = stmt.Where("workspace_id = ?", id)
	}
	if filter.Active != nil {
		stmt = stmt.Where("is_active = ?", *filter.Active)
	}
	if err := stmt.Order("created_at desc").Find(&webhooks).Error; err != nil {
		return nil, err
	}
	return webhooks, nil
}

func (r *repo) ListTargets(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID) ([]domain.Webhook, error) {
	var webhooks []domain.Webhook
	stmt := db.WithContext(ctx).Where("is_active = ?", true)
	if workspaceID != 0 {
		stmt = stmt.Where("workspace_id = ? OR workspace_id IS NULL", workspaceID)
	} else {
		stmt = stmt.Where("workspace_id IS NULL")
	}
	if err := stmt.Order("created_at asc").Find(&webhooks).Error; err != nil {
		return nil, err
	}
	return webhooks, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, webhook *domain.Webhook) error {
	return db.WithContext(ctx).Save(webhook).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Webhook{}).Error
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *domain.Delivery) error {
	return db.WithContext(ctx).Create(delivery).Error
}

func (r *repo) FindDeliveryByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Delivery, error) {
	var delivery domain.Delivery
	err := db.WithContext(ctx).Where("id = ?", id).First(&delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delivery, nil
}

func (r *repo) ListDeliveries(ctx context.Context, db *gorm.DB, filter domain.ListDeliveriesRequest) ([]domain.Delivery, error) {
	var deliveries []domain.Delivery
	stmt := db.WithContext(ctx)
	if filter.WebhookID != "" {
		id, err := snowflake.ParseString(filter.WebhookID)
		if err != nil {
			return nil, domain.ErrNotFound
		}
		stmt = stmt.Where("webhook_id = ?", id)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Page.PageSize > 0 {
		stmt = option.ApplyPagination(filter.Page).Apply(stmt)
	} else if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Order("created_at desc").Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) ListRetryable(ctx context.Context, db *gorm.DB, limit int) ([]domain.Delivery, error) {
	var deliveries []domain.Delivery
	stmt := db.WithContext(ctx).
		Select("webhook_deliveries.*").
		Joins("JOIN webhooks ON webhooks.id = webhook_deliveries.webhook_id").
		Where("webhook_deliveries.status = ?", domain.DeliveryStatusFailed).
		Where("webhook_deliveries.attempts < webhooks.max_attempts").
		Where("webhooks.is_active = ?", true).
		Order("webhook_deliveries.created_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *domain.Delivery) error {
	return db.WithContext(ctx).Save(delivery).Error
}
