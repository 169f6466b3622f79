package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	pkgdb "github.com/smallbiznis/entitle/pkg/db"
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
	directory   tenantdomain.Directory
	emitter     webhookdomain.Emitter
	invalidator cache.Invalidator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("plan.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		featuresvc:  p.FeatureSvc,
		directory:   p.Directory,
		emitter:     p.Emitter,
		invalidator: p.Invalidator,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		IsBase:    req.IsBase,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description != "" {
			plan.Description = &description
		}
	}
	if req.Metadata != nil {
		plan.Metadata = datatypes.JSONMap(req.Metadata)
	}

	seen := make(map[string]bool, len(req.Features))
	for _, grant := range req.Features {
		featureCode := strings.ToLower(strings.TrimSpace(grant.FeatureCode))
		if featureCode == "" || seen[featureCode] {
			return nil, domain.ErrInvalidFeature
		}
		feature, err := s.featuresvc.Get(ctx, featureCode)
		if err != nil {
			return nil, err
		}
		if feature == nil {
			return nil, domain.ErrInvalidFeature
		}
		if grant.LimitValue != nil {
			if *grant.LimitValue < 0 {
				return nil, domain.ErrInvalidLimit
			}
			if feature.Type != featuredomain.FeatureTypeLimited {
				return nil, domain.ErrInvalidLimit
			}
		}
		seen[featureCode] = true
		plan.Features = append(plan.Features, domain.PlanFeature{
			ID:          s.genID.Generate(),
			PlanID:      plan.ID,
			FeatureCode: featureCode,
			LimitValue:  grant.LimitValue,
			CreatedAt:   now,
		})
	}

	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeExists
		}
		return nil, err
	}

	resp := s.toResponse(plan)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Response, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	plan, err := s.repo.FindPlanByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	resp := s.toResponse(plan)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	plans, err := s.repo.ListPlans(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(plans))
	for i := range plans {
		resp = append(resp, s.toResponse(&plans[i]))
	}
	return resp, nil
}

func (s *Service) Archive(ctx context.Context, code string) (*domain.Response, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	plan, err := s.repo.FindPlanByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}

	plan.Active = false
	plan.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdatePlan(ctx, s.db, plan); err != nil {
		return nil, err
	}

	resp := s.toResponse(plan)
	return &resp, nil
}

// Provision grants the plan to the principal. Base plans are exclusive:
// an existing active base assignment is cancelled in the same
// transaction before the new one starts.
func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.AssignmentResponse, error) {
	if !req.Principal.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}

	code := strings.ToLower(strings.TrimSpace(req.PlanCode))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	plan, err := s.repo.FindPlanByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}

	now := s.clock.Now()
	startsAt := now
	if req.StartsAt != nil {
		startsAt = req.StartsAt.UTC()
	}
	anchor := startsAt
	if req.BillingCycleAnchor != nil {
		anchor = req.BillingCycleAnchor.UTC()
	}

	assignment := &domain.Assignment{
		ID:                 s.genID.Generate(),
		PrincipalKind:      req.Principal.Kind,
		PrincipalID:        req.Principal.ID,
		PlanID:             plan.ID,
		Status:             domain.AssignmentStatusActive,
		StartsAt:           startsAt,
		BillingCycleAnchor: anchor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.ExpiresAt != nil {
		expiresAt := req.ExpiresAt.UTC()
		assignment.ExpiresAt = &expiresAt
	}
	if req.Metadata != nil {
		assignment.Metadata = datatypes.JSONMap(req.Metadata)
	}

	var replaced *domain.Assignment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if plan.IsBase {
			current, err := s.repo.FindActiveBaseAt(ctx, tx, req.Principal, now)
			if err != nil {
				return err
			}
			if current != nil {
				current.Status = domain.AssignmentStatusCancelled
				current.CancelledAt = &now
				current.UpdatedAt = now
				if err := s.repo.UpdateAssignment(ctx, tx, current); err != nil {
					return err
				}
				replaced = current
			}
		}
		return s.repo.InsertAssignment(ctx, tx, assignment)
	})
	if err != nil {
		return nil, err
	}

	s.forgetLimits(ctx, req.Principal, plan)
	if replaced != nil && replaced.Plan != nil {
		s.forgetLimits(ctx, req.Principal, replaced.Plan)
	}

	s.emitChange(ctx, req.Principal, "provisioned", plan.Code, assignment)

	assignment.Plan = plan
	resp := s.toAssignmentResponse(assignment)
	return &resp, nil
}

func (s *Service) Suspend(ctx context.Context, assignmentID string) (*domain.AssignmentResponse, error) {
	return s.transition(ctx, assignmentID, "suspended", func(a *domain.Assignment, now time.Time) error {
		if a.Status != domain.AssignmentStatusActive {
			return domain.ErrInvalidTransition
		}
		a.Status = domain.AssignmentStatusSuspended
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, assignmentID string) (*domain.AssignmentResponse, error) {
	return s.transition(ctx, assignmentID, "resumed", func(a *domain.Assignment, now time.Time) error {
		if a.Status != domain.AssignmentStatusSuspended {
			return domain.ErrInvalidTransition
		}
		a.Status = domain.AssignmentStatusActive
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, assignmentID string) (*domain.AssignmentResponse, error) {
	return s.transition(ctx, assignmentID, "cancelled", func(a *domain.Assignment, now time.Time) error {
		switch a.Status {
		case domain.AssignmentStatusActive, domain.AssignmentStatusSuspended:
		default:
			return domain.ErrInvalidTransition
		}
		a.CancelledAt = &now
		if a.ExpiresAt != nil && a.ExpiresAt.After(now) {
			// Grace: the grant survives until its paid-through date; the
			// expiry sweep finishes the job.
			return nil
		}
		a.Status = domain.AssignmentStatusCancelled
		return nil
	})
}

func (s *Service) Revoke(ctx context.Context, assignmentID string) (*domain.AssignmentResponse, error) {
	return s.transition(ctx, assignmentID, "revoked", func(a *domain.Assignment, now time.Time) error {
		switch a.Status {
		case domain.AssignmentStatusActive, domain.AssignmentStatusSuspended:
		default:
			return domain.ErrInvalidTransition
		}
		a.Status = domain.AssignmentStatusCancelled
		a.CancelledAt = &now
		expiresAt := now
		a.ExpiresAt = &expiresAt
		return nil
	})
}

func (s *Service) transition(ctx context.Context, assignmentID, action string, mutate func(*domain.Assignment, time.Time) error) (*domain.AssignmentResponse, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(assignmentID))
	if err != nil {
		return nil, domain.ErrAssignmentNotFound
	}

	now := s.clock.Now()
	var assignment *domain.Assignment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assignment, err = s.repo.FindAssignmentByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if assignment == nil {
			return domain.ErrAssignmentNotFound
		}
		if err := mutate(assignment, now); err != nil {
			return err
		}
		assignment.UpdatedAt = now
		return s.repo.UpdateAssignment(ctx, tx, assignment)
	})
	if err != nil {
		return nil, err
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, assignment.PlanID)
	if err != nil {
		return nil, err
	}
	assignment.Plan = plan

	p := assignment.Principal()
	if plan != nil {
		s.forgetLimits(ctx, p, plan)
		s.emitChange(ctx, p, action, plan.Code, assignment)
	}

	resp := s.toAssignmentResponse(assignment)
	return &resp, nil
}

func (s *Service) ListAssignments(ctx context.Context, req domain.ListAssignmentsRequest) ([]domain.AssignmentResponse, error) {
	assignments, err := s.repo.ListAssignments(ctx, s.db, req)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.AssignmentResponse, 0, len(assignments))
	for i := range assignments {
		resp = append(resp, s.toAssignmentResponse(&assignments[i]))
	}
	return resp, nil
}

func (s *Service) ActiveAssignments(ctx context.Context, p principal.Ref) ([]domain.Assignment, error) {
	if !p.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}
	return s.repo.ListActiveAt(ctx, s.db, p, s.clock.Now())
}

func (s *Service) BaseAssignment(ctx context.Context, p principal.Ref) (*domain.Assignment, error) {
	if !p.Valid() {
		return nil, domain.ErrInvalidPrincipal
	}
	return s.repo.FindActiveBaseAt(ctx, s.db, p, s.clock.Now())
}

// EntitledLimit folds the plan-side grants for a pool family. Codes are
// matched against plan features verbatim; the caller resolves pooling. A
// grant with no limit value records presence only; whether the feature is
// unlimited is the feature catalog's call, not the plan's.
func (s *Service) EntitledLimit(ctx context.Context, p principal.Ref, featureCodes []string) (grantdomain.Limit, error) {
	if !p.Valid() {
		return grantdomain.Absent(), domain.ErrInvalidPrincipal
	}

	wanted := make(map[string]bool, len(featureCodes))
	for _, code := range featureCodes {
		wanted[strings.ToLower(strings.TrimSpace(code))] = true
	}

	assignments, err := s.repo.ListActiveAt(ctx, s.db, p, s.clock.Now())
	if err != nil {
		return grantdomain.Absent(), err
	}

	limit := grantdomain.Absent()
	for i := range assignments {
		plan := assignments[i].Plan
		if plan == nil {
			continue
		}
		for _, grant := range plan.Features {
			if !wanted[grant.FeatureCode] {
				continue
			}
			if grant.LimitValue == nil {
				limit = limit.Mark()
				continue
			}
			limit = limit.Add(*grant.LimitValue)
		}
	}
	return limit, nil
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
			assignment := &due[i]
			assignment.Status = domain.AssignmentStatusExpired
			assignment.UpdatedAt = now
			if err := s.repo.UpdateAssignment(ctx, s.db, assignment); err != nil {
				return expired, err
			}
			expired++

			p := assignment.Principal()
			if assignment.Plan != nil {
				s.forgetLimits(ctx, p, assignment.Plan)
				s.emitChange(ctx, p, "expired", assignment.Plan.Code, assignment)
			}
		}
		if len(due) < expireBatchSize {
			return expired, nil
		}
	}
}

// forgetLimits drops the cached limit for every pool the plan touches.
func (s *Service) forgetLimits(ctx context.Context, p principal.Ref, plan *domain.Plan) {
	if s.invalidator == nil || plan == nil {
		return
	}
	for _, grant := range plan.Features {
		poolCode, err := s.featuresvc.PoolCode(ctx, grant.FeatureCode)
		if err != nil {
			poolCode = grant.FeatureCode
		}
		s.invalidator.InvalidateLimit(p, poolCode)
	}
}

func (s *Service) emitChange(ctx context.Context, p principal.Ref, action, planCode string, assignment *domain.Assignment) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, webhookdomain.DispatchRequest{
		Event:       webhookdomain.EventPackageChanged,
		WorkspaceID: s.workspaceFor(ctx, p),
		Data: map[string]any{
			"principal":     p.Key(),
			"plan_code":     planCode,
			"action":        action,
			"assignment_id": assignment.ID.String(),
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

func (s *Service) toResponse(plan *domain.Plan) domain.Response {
	resp := domain.Response{
		ID:        plan.ID.String(),
		Code:      plan.Code,
		Name:      plan.Name,
		IsBase:    plan.IsBase,
		Active:    plan.Active,
		CreatedAt: plan.CreatedAt,
		UpdatedAt: plan.UpdatedAt,
	}
	if plan.Description != nil {
		resp.Description = plan.Description
	}
	if len(plan.Metadata) > 0 {
		resp.Metadata = map[string]any(plan.Metadata)
	}
	for _, grant := range plan.Features {
		resp.Features = append(resp.Features, domain.FeatureGrant{
			FeatureCode: grant.FeatureCode,
			LimitValue:  grant.LimitValue,
		})
	}
	return resp
}

func (s *Service) toAssignmentResponse(a *domain.Assignment) domain.AssignmentResponse {
	resp := domain.AssignmentResponse{
		ID:                 a.ID.String(),
		Principal:          a.Principal().Key(),
		Status:             a.Status,
		StartsAt:           a.StartsAt,
		ExpiresAt:          a.ExpiresAt,
		BillingCycleAnchor: a.BillingCycleAnchor,
		CancelledAt:        a.CancelledAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.Plan != nil {
		resp.PlanCode = a.Plan.Code
	}
	return resp
}
