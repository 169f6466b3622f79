package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	FeatureSvc featuredomain.Service
	GrantSvc   grantdomain.Service
	UsageSvc   usagedomain.Service
	Directory  tenantdomain.Directory
	Cache      cache.EntitlementCache
	Metrics    *metrics.Metrics
}

// Service is the resolution engine. It is stateless per call and safe for
// unlimited parallel reads; all state lives behind the grant and usage
// services.
type Service struct {
	log        *zap.Logger
	featuresvc featuredomain.Service
	grantsvc   grantdomain.Service
	usagesvc   usagedomain.Service
	directory  tenantdomain.Directory
	cache      cache.EntitlementCache
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("entitlement.service"),
		featuresvc: p.FeatureSvc,
		grantsvc:   p.GrantSvc,
		usagesvc:   p.UsageSvc,
		directory:  p.Directory,
		cache:      p.Cache,
		metrics:    p.Metrics,
	}
}

func (s *Service) Can(ctx context.Context, p principal.Ref, featureCode string, quantity int64) (domain.Result, error) {
	if !p.Valid() {
		return domain.Denied(featureCode, domain.ReasonNotEntitled), principal.ErrInvalidPrincipal
	}
	if quantity < 1 {
		quantity = 1
	}

	featureCode = strings.ToLower(strings.TrimSpace(featureCode))
	feature, err := s.featuresvc.Get(ctx, featureCode)
	if err != nil {
		return domain.Result{}, err
	}
	if feature == nil {
		return s.finish(ctx, featureCode, domain.Denied(featureCode, domain.ReasonFeatureNotFound)), nil
	}
	poolCode := feature.PoolCode()

	limit, err := s.totalLimit(ctx, p, poolCode)
	if err != nil {
		return domain.Result{}, err
	}

	// The cascade: a namespace with no grants of its own borrows its
	// workspace's, and a user-owned namespace falls back to the owner's
	// static tier (boolean presence only).
	effective := p
	if !limit.Present && p.Kind == principal.KindNamespace {
		ns, err := s.directory.GetNamespace(ctx, p.ID)
		if err != nil && !errors.Is(err, tenantdomain.ErrNamespaceNotFound) {
			return domain.Result{}, err
		}
		switch {
		case ns != nil && ns.WorkspaceID != nil:
			effective = principal.Workspace(*ns.WorkspaceID)
			limit, err = s.totalLimit(ctx, effective, poolCode)
			if err != nil {
				return domain.Result{}, err
			}
		case ns != nil && ns.OwnerTier != nil:
			included, err := s.directory.TierIncludes(ctx, *ns.OwnerTier, featureCode)
			if err != nil {
				return domain.Result{}, err
			}
			if included && feature.Type == featuredomain.FeatureTypeBoolean {
				return s.finish(ctx, featureCode, domain.Result{
					Allowed:     true,
					FeatureCode: featureCode,
				}), nil
			}
		}
	}

	if !limit.Present {
		return s.finish(ctx, featureCode, domain.Denied(featureCode, domain.ReasonNotEntitled)), nil
	}

	// Unlimited short-circuits before any usage read.
	if limit.Unlimited || feature.Type == featuredomain.FeatureTypeUnlimited {
		return s.finish(ctx, featureCode, domain.Result{
			Allowed:     true,
			FeatureCode: featureCode,
			Unlimited:   true,
		}), nil
	}

	if feature.Type == featuredomain.FeatureTypeBoolean {
		return s.finish(ctx, featureCode, domain.Result{
			Allowed:     true,
			FeatureCode: featureCode,
		}), nil
	}

	used, err := s.usagesvc.CurrentUsage(ctx, effective, poolCode, feature)
	if err != nil {
		return domain.Result{}, err
	}

	limitValue := limit.Value
	remaining := limitValue - used
	if remaining < 0 {
		remaining = 0
	}
	result := domain.Result{
		FeatureCode: featureCode,
		Limit:       &limitValue,
		Used:        &used,
		Remaining:   &remaining,
	}
	if limitValue > 0 {
		pct := float64(used) / float64(limitValue) * 100
		result.UsagePercentage = &pct
	}

	if used+quantity > limitValue {
		result.Reason = domain.ReasonLimitReached
		return s.finish(ctx, featureCode, result), nil
	}

	result.Allowed = true
	return s.finish(ctx, featureCode, result), nil
}

// totalLimit reads through the limit cache.
func (s *Service) totalLimit(ctx context.Context, p principal.Ref, poolCode string) (grantdomain.Limit, error) {
	if s.cache != nil {
		if limit, ok := s.cache.GetLimit(p, poolCode); ok {
			return limit, nil
		}
	}
	limit, err := s.grantsvc.TotalLimit(ctx, p, poolCode)
	if err != nil {
		return grantdomain.Absent(), err
	}
	if s.cache != nil {
		s.cache.SetLimit(p, poolCode, limit)
	}
	return limit, nil
}

func (s *Service) finish(ctx context.Context, featureCode string, result domain.Result) domain.Result {
	if s.metrics != nil {
		decision := "deny"
		if result.Allowed {
			decision = "allow"
		}
		s.metrics.RecordEntitlementCheck(ctx, featureCode, decision, result.Reason)
	}
	return result
}
