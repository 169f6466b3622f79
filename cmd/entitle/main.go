package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/entitle/internal/alert"
	"github.com/smallbiznis/entitle/internal/boost"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/entitlement"
	"github.com/smallbiznis/entitle/internal/feature"
	"github.com/smallbiznis/entitle/internal/grant"
	"github.com/smallbiznis/entitle/internal/migration"
	"github.com/smallbiznis/entitle/internal/observability"
	"github.com/smallbiznis/entitle/internal/plan"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	"github.com/smallbiznis/entitle/internal/scheduler"
	"github.com/smallbiznis/entitle/internal/server"
	"github.com/smallbiznis/entitle/internal/tenant"
	"github.com/smallbiznis/entitle/internal/usage"
	"github.com/smallbiznis/entitle/internal/webhook"
	"github.com/smallbiznis/entitle/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain modules
		tenant.Module,
		feature.Module,
		plan.Module,
		boost.Module,
		grant.Module,
		usage.Module,
		cache.Module,
		entitlement.Module,
		alert.Module,
		webhook.Module,
		ratelimit.Module,

		// Surfaces
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
