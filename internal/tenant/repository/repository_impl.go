package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/tenant/domain"
	"gorm.io/gorm"
)

type directory struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Directory {
	return &directory{db: db}
}

func (d *directory) GetWorkspace(ctx context.Context, id snowflake.ID) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := d.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&ws).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWorkspaceNotFound
		}
		return nil, err
	}
	return &ws, nil
}

func (d *directory) GetNamespace(ctx context.Context, id snowflake.ID) (*domain.Namespace, error) {
	var ns domain.Namespace
	err := d.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&ns).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNamespaceNotFound
		}
		return nil, err
	}
	return &ns, nil
}

func (d *directory) ListWorkspaceIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := d.db.WithContext(ctx).
		Model(&domain.Workspace{}).
		Where("active = ?", true).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *directory) TierIncludes(ctx context.Context, tier, featureCode string) (bool, error) {
	tier = strings.TrimSpace(tier)
	featureCode = strings.TrimSpace(featureCode)
	if tier == "" || featureCode == "" {
		return false, nil
	}
	var count int64
	err := d.db.WithContext(ctx).
		Model(&domain.TierFeature{}).
		Where("tier = ? AND feature_code = ?", tier, featureCode).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
