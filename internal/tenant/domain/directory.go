package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace_not_found")
	ErrNamespaceNotFound = errors.New("namespace_not_found")
)

// Directory is the read-only tenant lookup surface used by the cascade.
type Directory interface {
	GetWorkspace(ctx context.Context, id snowflake.ID) (*Workspace, error)
	GetNamespace(ctx context.Context, id snowflake.ID) (*Namespace, error)
	ListWorkspaceIDs(ctx context.Context) ([]snowflake.ID, error)

	// TierIncludes reports whether the static tier feature table grants a
	// feature code to a tier. Tier grants are boolean only.
	TierIncludes(ctx context.Context, tier, featureCode string) (bool, error)
}
