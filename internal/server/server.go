package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/observability"
	obsmiddleware "github.com/smallbiznis/entitle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entitle/internal/observability/tracing"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(WorkspaceScopeMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	genID          *snowflake.Node
	limiter        *ratelimit.RequestLimiter
	featureSvc     featuredomain.Service
	planSvc        plandomain.Service
	boostSvc       boostdomain.Service
	usageSvc       usagedomain.Service
	entitlementSvc entitlementdomain.Service
	alertSvc       alertdomain.Service
	webhookSvc     webhookdomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	GenID          *snowflake.Node
	Limiter        *ratelimit.RequestLimiter `optional:"true"`
	FeatureSvc     featuredomain.Service
	PlanSvc        plandomain.Service
	BoostSvc       boostdomain.Service
	UsageSvc       usagedomain.Service
	EntitlementSvc entitlementdomain.Service
	AlertSvc       alertdomain.Service
	WebhookSvc     webhookdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		genID:          p.GenID,
		limiter:        p.Limiter,
		featureSvc:     p.FeatureSvc,
		planSvc:        p.PlanSvc,
		boostSvc:       p.BoostSvc,
		usageSvc:       p.UsageSvc,
		entitlementSvc: p.EntitlementSvc,
		alertSvc:       p.AlertSvc,
		webhookSvc:     p.WebhookSvc,
	}
}

const workspaceHeaderKey = "workspace_id"

// WorkspaceScopeMiddleware stashes the X-Workspace-ID header so handlers
// with a workspace filter can default to the caller's scope.
func WorkspaceScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ws := c.GetHeader("X-Workspace-ID"); ws != "" {
			c.Set(workspaceHeaderKey, ws)
		}
		c.Next()
	}
}

// workspaceScope returns the caller's workspace scope, or "" when the
// header was not sent.
func workspaceScope(c *gin.Context) string {
	return c.GetString(workspaceHeaderKey)
}

// throttle takes a token from the principal's bucket. Limiter errors
// fail open so a redis outage does not take the API down.
func (s *Server) throttle(c *gin.Context, p principal.Ref) bool {
	res, err := s.limiter.Allow(c.Request.Context(), p)
	if err != nil || res.Allowed {
		return true
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
		Type:    "rate_limited",
		Code:    "rate_limited",
		Message: "too many requests",
	}})
	return false
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")

	v1.POST("/entitlements/check", s.CheckEntitlement)
	v1.POST("/usage", s.RecordUsage)

	features := v1.Group("/features")
	{
		features.POST("", s.CreateFeature)
		features.GET("", s.ListFeatures)
		features.GET("/:code", s.GetFeature)
		features.PATCH("/:code", s.UpdateFeature)
		features.DELETE("/:code", s.ArchiveFeature)
	}

	plans := v1.Group("/plans")
	{
		plans.POST("", s.CreatePlan)
		plans.GET("", s.ListPlans)
		plans.GET("/:code", s.GetPlan)
		plans.DELETE("/:code", s.ArchivePlan)
	}

	assignments := v1.Group("/assignments")
	{
		assignments.POST("", s.ProvisionAssignment)
		assignments.GET("", s.ListAssignments)
		assignments.POST("/:id/suspend", s.SuspendAssignment)
		assignments.POST("/:id/resume", s.ResumeAssignment)
		assignments.POST("/:id/cancel", s.CancelAssignment)
		assignments.POST("/:id/revoke", s.RevokeAssignment)
	}

	boosts := v1.Group("/boosts")
	{
		boosts.POST("", s.ProvisionBoost)
		boosts.GET("", s.ListBoosts)
		boosts.GET("/:id", s.GetBoost)
		boosts.POST("/:id/consume", s.ConsumeBoost)
		boosts.POST("/:id/cancel", s.CancelBoost)
	}

	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("", s.RegisterWebhook)
		webhooks.GET("", s.ListWebhooks)
		webhooks.GET("/:id", s.GetWebhook)
		webhooks.PATCH("/:id", s.UpdateWebhook)
		webhooks.DELETE("/:id", s.DeleteWebhook)
		webhooks.POST("/:id/test", s.SendTestWebhook)
		webhooks.POST("/:id/reset", s.ResetWebhookBreaker)
	}

	deliveries := v1.Group("/deliveries")
	{
		deliveries.GET("", s.ListDeliveries)
		deliveries.GET("/:id", s.GetDelivery)
		deliveries.POST("/:id/retry", s.RetryDelivery)
	}

	alerts := v1.Group("/alerts")
	{
		alerts.GET("", s.ListAlerts)
		alerts.POST("/:id/resolve", s.ResolveAlert)
	}
}
