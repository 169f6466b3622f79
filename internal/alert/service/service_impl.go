package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/alert/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	pkgdb "github.com/smallbiznis/entitle/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	FeatureSvc     featuredomain.Service
	EntitlementSvc entitlementdomain.Service
	Directory      tenantdomain.Directory
	Emitter        webhookdomain.Emitter
	Policy         *config.PolicyHolder
	Metrics        *metrics.Metrics
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	featuresvc     featuredomain.Service
	entitlementsvc entitlementdomain.Service
	directory      tenantdomain.Directory
	emitter        webhookdomain.Emitter
	policy         *config.PolicyHolder
	metrics        *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("alert.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		featuresvc:     p.FeatureSvc,
		entitlementsvc: p.EntitlementSvc,
		directory:      p.Directory,
		emitter:        p.Emitter,
		policy:         p.Policy,
		metrics:        p.Metrics,
	}
}

func (s *Service) EvaluatePrincipal(ctx context.Context, p principal.Ref) (int, error) {
	if !p.Valid() {
		return 0, domain.ErrInvalidPrincipal
	}

	limited := featuredomain.FeatureTypeLimited
	pools, err := s.featuresvc.ListPools(ctx, &limited)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range pools {
		n, err := s.evaluateFeature(ctx, p, pools[i].Code)
		if err != nil {
			return fired, err
		}
		fired += n
	}
	return fired, nil
}

func (s *Service) EvaluateAll(ctx context.Context) (int, error) {
	ids, err := s.directory.ListWorkspaceIDs(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, id := range ids {
		n, err := s.EvaluatePrincipal(ctx, principal.Workspace(id))
		if err != nil {
			s.log.Warn("alert sweep failed for workspace",
				zap.Int64("workspace_id", int64(id)),
				zap.Error(err),
			)
			continue
		}
		fired += n
	}
	return fired, nil
}

// evaluateFeature applies the threshold ladder for one (principal, pool)
// pair: fire only the highest rung the current percentage meets, and
// resolve everything once the percentage drops under the lowest rung.
func (s *Service) evaluateFeature(ctx context.Context, p principal.Ref, poolCode string) (int, error) {
	result, err := s.entitlementsvc.Can(ctx, p, poolCode, 1)
	if err != nil {
		return 0, err
	}

	pct := 0.0
	tracked := result.UsagePercentage != nil
	if tracked {
		pct = *result.UsagePercentage
	}

	thresholds := append([]int(nil), s.policy.Current().AlertThresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	highest := 0
	if tracked {
		for _, threshold := range thresholds {
			if pct >= float64(threshold) {
				highest = threshold
				break
			}
		}
	}

	open, err := s.repo.ListUnresolved(ctx, s.db, p, poolCode)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	if highest == 0 {
		for i := range open {
			if err := s.repo.Resolve(ctx, s.db, open[i].ID, now); err != nil {
				return 0, err
			}
			if s.metrics != nil {
				s.metrics.RecordAlertResolved(ctx, poolCode)
			}
		}
		return 0, nil
	}

	for i := range open {
		if open[i].Threshold == highest {
			// Already notified at this rung.
			return 0, nil
		}
	}

	record := &domain.Record{
		ID:              s.genID.Generate(),
		PrincipalKind:   p.Kind,
		PrincipalID:     p.ID,
		FeatureCode:     poolCode,
		Threshold:       highest,
		UsagePercentage: pct,
		NotifiedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// A concurrent sweep won the unresolved-tuple race.
			return 0, nil
		}
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.RecordAlertFired(ctx, poolCode, highest)
	}
	s.notify(ctx, p, record)
	return 1, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	req.FeatureCode = strings.ToLower(strings.TrimSpace(req.FeatureCode))
	records, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(records))
	for i := range records {
		resp = append(resp, toResponse(&records[i]))
	}
	return resp, nil
}

func (s *Service) ResolveManually(ctx context.Context, id string) (*domain.Response, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	record, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.ResolvedAt != nil {
		return nil, domain.ErrAlreadyResolved
	}

	now := s.clock.Now()
	if err := s.repo.Resolve(ctx, s.db, record.ID, now); err != nil {
		return nil, err
	}
	record.ResolvedAt = &now

	if s.metrics != nil {
		s.metrics.RecordAlertResolved(ctx, record.FeatureCode)
	}

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) notify(ctx context.Context, p principal.Ref, record *domain.Record) {
	if s.emitter == nil {
		return
	}
	event := webhookdomain.EventLimitWarning
	if record.Threshold >= 100 {
		event = webhookdomain.EventLimitReached
	}
	s.emitter.Emit(ctx, webhookdomain.DispatchRequest{
		Event:       event,
		WorkspaceID: s.workspaceFor(ctx, p),
		Data: map[string]any{
			"principal":        p.Key(),
			"feature_code":     record.FeatureCode,
			"threshold":        record.Threshold,
			"usage_percentage": record.UsagePercentage,
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

func toResponse(r *domain.Record) domain.Response {
	return domain.Response{
		ID:              r.ID.String(),
		Principal:       r.Principal().Key(),
		FeatureCode:     r.FeatureCode,
		Threshold:       r.Threshold,
		UsagePercentage: r.UsagePercentage,
		NotifiedAt:      r.NotifiedAt,
		ResolvedAt:      r.ResolvedAt,
		CreatedAt:       r.CreatedAt,
	}
}
