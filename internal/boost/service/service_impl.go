package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/boost/domain"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const expireBatchSize = 500

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	FeatureSvc  featuredomain.Service
	PlanSvc     plandomain.Service
	Directory   tenantdomain.Directory
	Emitter     webhookdomain.Emitter
	Invalidator cache.Invalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	featuresvc  featuredomain.Service
	plansvc     plandomain.Service
	directory   tenantdomain.Directory
	emitter     webhookdomain.Emitter
	invalidator cache.Invalidator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("boost.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		featuresvc:  p.FeatureSvc,
		plansvc:     p.PlanSvc,
		directory:   p.Directory,
		emitter:     p.Emitter,
		invalidator: p.Invalidator,
	}
}

func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.Response, error) {
	if !req.Principal.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}

	featureCode := strings.ToLower(strings.TrimSpace(req.FeatureCode))
	if featureCode == "" {
		return nil, domain.ErrInvalidFeature
	}
	feature, err := s.featuresvc.Get(ctx, featureCode)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrInvalidFeature
	}

	switch req.BoostType {
	case domain.BoostTypeAddLimit:
		if req.LimitValue <= 0 {
			return nil, domain.ErrInvalidLimit
		}
	case domain.BoostTypeEnable, domain.BoostTypeUnlimited:
		req.LimitValue = 0
	default:
		return nil, domain.ErrInvalidBoostType
	}

	now := s.clock.Now()
	boost := &domain.Boost{
		ID:            s.genID.Generate(),
		PrincipalKind: req.Principal.Kind,
		PrincipalID:   req.Principal.ID,
		FeatureCode:   featureCode,
		BoostType:     req.BoostType,
		DurationType:  req.DurationType,
		LimitValue:    req.LimitValue,
		Status:        domain.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.StartsAt != nil {
		startsAt := req.StartsAt.UTC()
		boost.StartsAt = &startsAt
	}
	if req.Metadata != nil {
		boost.Metadata = datatypes.JSONMap(req.Metadata)
	}

	switch req.DurationType {
	case domain.DurationTypePermanent:
	case domain.DurationTypeDuration:
		if req.ExpiresAt == nil || !req.ExpiresAt.After(now) {
			return nil, domain.ErrInvalidExpiry
		}
		expiresAt := req.ExpiresAt.UTC()
		boost.ExpiresAt = &expiresAt
	case domain.DurationTypeCycleBound:
		expiresAt := s.cycleEnd(ctx, req.Principal, now)
		boost.ExpiresAt = &expiresAt
	default:
		return nil, domain.ErrInvalidDurationType
	}

	if err := s.repo.Insert(ctx, s.db, boost); err != nil {
		return nil, err
	}

	s.forgetLimit(ctx, req.Principal, featureCode)
	s.emit(ctx, webhookdomain.EventBoostActivated, boost)

	resp := s.toResponse(boost)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	boost, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(boost)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	req.FeatureCode = strings.ToLower(strings.TrimSpace(req.FeatureCode))
	boosts, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(boosts))
	for i := range boosts {
		resp = append(resp, s.toResponse(&boosts[i]))
	}
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*domain.Response, error) {
	boost, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if boost.Status != domain.StatusActive {
		return nil, domain.ErrAlreadyFinished
	}

	now := s.clock.Now()
	boost.Status = domain.StatusCancelled
	boost.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, boost); err != nil {
		return nil, err
	}

	s.forgetLimit(ctx, boost.Principal(), boost.FeatureCode)

	resp := s.toResponse(boost)
	return &resp, nil
}

// Consume spends quantity units atomically. A false result means the
// remaining capacity cannot cover the request; the caller decides what
// that means for its own flow.
func (s *Service) Consume(ctx context.Context, id string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	boost, err := s.find(ctx, id)
	if err != nil {
		return false, err
	}
	if boost.BoostType != domain.BoostTypeAddLimit {
		return false, domain.ErrNotConsumable
	}

	now := s.clock.Now()
	if !boost.UsableAt(now) {
		return false, nil
	}

	ok, err := s.repo.Consume(ctx, s.db, boost.ID, quantity, now)
	if err != nil {
		return false, err
	}
	if ok {
		s.forgetLimit(ctx, boost.Principal(), boost.FeatureCode)
	}
	return ok, nil
}

func (s *Service) UsableByPool(ctx context.Context, p principal.Ref, featureCodes []string) ([]domain.Boost, error) {
	if !p.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}
	codes := make([]string, 0, len(featureCodes))
	for _, code := range featureCodes {
		if code = strings.ToLower(strings.TrimSpace(code)); code != "" {
			codes = append(codes, code)
		}
	}
	return s.repo.ListUsableAt(ctx, s.db, p, codes, s.clock.Now())
}

func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired := 0
	for {
		due, err := s.repo.ListDueExpiry(ctx, s.db, now, expireBatchSize)
		if err != nil {
			return expired, err
		}
		if len(due) == 0 {
			return expired, nil
		}
		for i := range due {
			boost := &due[i]
			boost.Status = domain.StatusExpired
			boost.UpdatedAt = now
			if err := s.repo.Update(ctx, s.db, boost); err != nil {
				return expired, err
			}
			expired++

			s.forgetLimit(ctx, boost.Principal(), boost.FeatureCode)
			s.emit(ctx, webhookdomain.EventBoostExpired, boost)
		}
		if len(due) < expireBatchSize {
			return expired, nil
		}
	}
}

func (s *Service) find(ctx context.Context, id string) (*domain.Boost, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	boost, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if boost == nil {
		return nil, domain.ErrNotFound
	}
	return boost, nil
}

// cycleEnd resolves the current billing cycle boundary from the
// principal's base assignment, falling back to the calendar month when the
// principal has none.
func (s *Service) cycleEnd(ctx context.Context, p principal.Ref, now time.Time) time.Time {
	base, err := s.plansvc.BaseAssignment(ctx, p)
	if err == nil && base != nil {
		return plandomain.CycleEnd(base.BillingCycleAnchor, now)
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return monthStart.AddDate(0, 1, 0)
}

func (s *Service) forgetLimit(ctx context.Context, p principal.Ref, featureCode string) {
	if s.invalidator == nil {
		return
	}
	poolCode, err := s.featuresvc.PoolCode(ctx, featureCode)
	if err != nil {
		poolCode = featureCode
	}
	s.invalidator.InvalidateLimit(p, poolCode)
}

func (s *Service) emit(ctx context.Context, event webhookdomain.Event, boost *domain.Boost) {
	if s.emitter == nil {
		return
	}
	p := boost.Principal()
	s.emitter.Emit(ctx, webhookdomain.DispatchRequest{
		Event:       event,
		WorkspaceID: s.workspaceFor(ctx, p),
		Data: map[string]any{
			"principal":    p.Key(),
			"boost_id":     boost.ID.String(),
			"feature_code": boost.FeatureCode,
			"boost_type":   string(boost.BoostType),
		},
	})
}

func (s *Service) workspaceFor(ctx context.Context, p principal.Ref) snowflake.ID {
	if p.Kind == principal.KindWorkspace {
		return p.ID
	}
	ns, err := s.directory.GetNamespace(ctx, p.ID)
	if err != nil || ns == nil || ns.WorkspaceID == nil {
		return 0
	}
	return *ns.WorkspaceID
}

func (s *Service) toResponse(b *domain.Boost) domain.Response {
	resp := domain.Response{
		ID:               b.ID.String(),
		Principal:        b.Principal().Key(),
		FeatureCode:      b.FeatureCode,
		BoostType:        b.BoostType,
		DurationType:     b.DurationType,
		LimitValue:       b.LimitValue,
		ConsumedQuantity: b.ConsumedQuantity,
		Remaining:        b.Remaining(),
		Status:           b.Status,
		StartsAt:         b.StartsAt,
		ExpiresAt:        b.ExpiresAt,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	if len(b.Metadata) > 0 {
		resp.Metadata = map[string]any(b.Metadata)
	}
	return resp
}
