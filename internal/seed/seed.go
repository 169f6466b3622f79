// Package seed bootstraps a fresh database with the default workspace
// so local and self-hosted installs work out of the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
)

const (
	defaultWorkspaceName = "Default"
	defaultNamespaceName = "default"
)

// EnsureDefaultWorkspace seeds the default workspace and its namespace
// for startup bootstrap.
func EnsureDefaultWorkspace(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := ensureWorkspaceTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureNamespaceTx(ctx, tx, node, ws.ID)
	})
}

func ensureWorkspaceTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (tenantdomain.Workspace, error) {
	var ws tenantdomain.Workspace
	err := tx.WithContext(ctx).Where("name = ?", defaultWorkspaceName).First(&ws).Error
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ws, err
	}
	now := time.Now().UTC()
	ws = tenantdomain.Workspace{
		ID:        node.Generate(),
		Name:      defaultWorkspaceName,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&ws).Error; err != nil {
		return ws, err
	}
	return ws, nil
}

func ensureNamespaceTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, workspaceID snowflake.ID) error {
	var ns tenantdomain.Namespace
	err := tx.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", workspaceID, defaultNamespaceName).
		First(&ns).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	now := time.Now().UTC()
	ns = tenantdomain.Namespace{
		ID:          node.Generate(),
		Name:        defaultNamespaceName,
		WorkspaceID: &workspaceID,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return tx.WithContext(ctx).Create(&ns).Error
}
