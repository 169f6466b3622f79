package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/observability/metrics"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"github.com/smallbiznis/entitle/internal/usage/domain"
	pkgdb "github.com/smallbiznis/entitle/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	FeatureSvc featuredomain.Service
	PlanSvc    plandomain.Service
	Cache      cache.EntitlementCache
	Metrics    *metrics.Metrics
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	featuresvc featuredomain.Service
	plansvc    plandomain.Service
	cache      cache.EntitlementCache
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		featuresvc: p.FeatureSvc,
		plansvc:    p.PlanSvc,
		cache:      p.Cache,
		metrics:    p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, req domain.RecordRequest) (*domain.Response, error) {
	if !req.Principal.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}
	if req.Quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	featureCode := strings.ToLower(strings.TrimSpace(req.FeatureCode))
	feature, err := s.featuresvc.Get(ctx, featureCode)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrFeatureNotFound
	}
	poolCode := feature.PoolCode()

	now := s.clock.Now()
	recordedAt := now
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}

	record := &domain.Record{
		ID:            s.genID.Generate(),
		PrincipalKind: req.Principal.Kind,
		PrincipalID:   req.Principal.ID,
		FeatureCode:   poolCode,
		Quantity:      req.Quantity,
		RecordedAt:    recordedAt,
		CreatedAt:     now,
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		record.IdempotencyKey = &key
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		if key != "" && pkgdb.IsDuplicateKeyErr(err) {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, req.Principal, key)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				resp := s.toResponse(existing, featureCode)
				return &resp, nil
			}
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.InvalidateUsage(req.Principal, poolCode)
	}
	if s.metrics != nil {
		s.metrics.RecordUsage(ctx, poolCode)
	}

	resp := s.toResponse(record, featureCode)
	return &resp, nil
}

func (s *Service) CurrentUsage(ctx context.Context, p principal.Ref, poolCode string, feature *featuredomain.Feature) (int64, error) {
	if !p.Valid() {
		return 0, domain.ErrInvalidPrincipal
	}
	poolCode = strings.ToLower(strings.TrimSpace(poolCode))

	if s.cache != nil {
		if used, ok := s.cache.GetUsage(p, poolCode); ok {
			return used, nil
		}
	}

	since, err := s.windowStart(ctx, p, feature)
	if err != nil {
		return 0, err
	}
	used, err := s.repo.SumSince(ctx, s.db, p, poolCode, since)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		s.cache.SetUsage(p, poolCode, used)
	}
	return used, nil
}

func (s *Service) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.DeleteBefore(ctx, s.db, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("pruned usage records",
			zap.Int64("deleted", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// windowStart picks the reset window lower bound for a feature. A nil
// bound means the lifetime ledger.
func (s *Service) windowStart(ctx context.Context, p principal.Ref, feature *featuredomain.Feature) (*time.Time, error) {
	if feature == nil {
		return nil, nil
	}

	now := s.clock.Now()
	switch feature.ResetPolicy {
	case featuredomain.ResetPolicyMonthly:
		start := s.cycleStart(ctx, p, now)
		return &start, nil
	case featuredomain.ResetPolicyRolling:
		if feature.WindowDays == nil || *feature.WindowDays < 1 {
			return nil, nil
		}
		start := now.Add(-time.Duration(*feature.WindowDays) * 24 * time.Hour)
		return &start, nil
	default:
		return nil, nil
	}
}

// cycleStart anchors the monthly window on the base assignment's billing
// cycle, falling back to the calendar month for principals without one.
func (s *Service) cycleStart(ctx context.Context, p principal.Ref, now time.Time) time.Time {
	base, err := s.plansvc.BaseAssignment(ctx, p)
	if err == nil && base != nil {
		return plandomain.CycleStart(base.BillingCycleAnchor, now)
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *Service) toResponse(record *domain.Record, featureCode string) domain.Response {
	return domain.Response{
		ID:          record.ID.String(),
		Principal:   record.Principal().Key(),
		FeatureCode: featureCode,
		PoolCode:    record.FeatureCode,
		Quantity:    record.Quantity,
		RecordedAt:  record.RecordedAt,
	}
}
