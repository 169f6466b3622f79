package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/feature/domain"
	pkgdb "github.com/smallbiznis/entitle/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Catalog lookups sit on every resolution path, so hits are served from a
// long TTL cache keyed by code. Writes forget the affected codes.
const catalogTTL = 10 * time.Minute

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	catalog cache.Cache[string, *domain.Feature]
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("feature.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		catalog: cache.NewTTLCache[string, *domain.Feature](),
	}
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Feature, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	if cached, ok := s.catalog.Get(code); ok {
		return cached, nil
	}
	f, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if f == nil || !f.Active {
		return nil, nil
	}
	s.catalog.Set(code, f, catalogTTL)
	return f, nil
}

func (s *Service) PoolCode(ctx context.Context, code string) (string, error) {
	f, err := s.Get(ctx, code)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", domain.ErrNotFound
	}
	return f.PoolCode(), nil
}

func (s *Service) PoolFamily(ctx context.Context, poolCode string) ([]string, error) {
	poolCode = normalizeCode(poolCode)
	if poolCode == "" {
		return nil, domain.ErrInvalidCode
	}
	children, err := s.repo.ListChildren(ctx, s.db, poolCode)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(children)+1)
	codes = append(codes, poolCode)
	for _, child := range children {
		codes = append(codes, child.Code)
	}
	return codes, nil
}

func (s *Service) ListPools(ctx context.Context, featureType *domain.FeatureType) ([]domain.Feature, error) {
	return s.repo.ListPools(ctx, s.db, featureType)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	featureType, err := normalizeFeatureType(req.FeatureType)
	if err != nil {
		return nil, err
	}
	resetPolicy, windowDays, err := normalizeResetPolicy(req.ResetPolicy, req.WindowDays)
	if err != nil {
		return nil, err
	}

	var parentCode *string
	if req.ParentCode != nil {
		parent := normalizeCode(*req.ParentCode)
		if parent != "" {
			if parent == code {
				return nil, domain.ErrInvalidParent
			}
			existing, err := s.repo.FindByCode(ctx, s.db, parent)
			if err != nil {
				return nil, err
			}
			if existing == nil || existing.ParentCode != nil {
				// one level of pooling only
				return nil, domain.ErrInvalidParent
			}
			parentCode = &parent
		}
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	record := &domain.Feature{
		ID:          s.genID.Generate(),
		Code:        code,
		Name:        name,
		Description: descriptionPtr,
		Type:        featureType,
		ResetPolicy: resetPolicy,
		WindowDays:  windowDays,
		ParentCode:  parentCode,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeExists
		}
		return nil, err
	}

	resp := s.toResponse(record)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListRequest{
		Code:        normalizeCode(req.Code),
		FeatureType: req.FeatureType,
		Active:      req.Active,
		SortBy:      strings.TrimSpace(req.SortBy),
		OrderBy:     strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for _, item := range items {
		resp = append(resp, s.toResponse(&item))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description == "" {
			item.Description = nil
		} else {
			item.Description = &description
		}
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if req.Metadata != nil {
		item.Metadata = datatypes.JSONMap(req.Metadata)
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.catalog.Delete(code)

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Archive(ctx context.Context, code string) (*domain.Response, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	item.Active = false
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.catalog.Delete(code)

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) toResponse(f *domain.Feature) domain.Response {
	resp := domain.Response{
		ID:          f.ID.String(),
		Code:        f.Code,
		Name:        f.Name,
		Description: f.Description,
		FeatureType: f.Type,
		ResetPolicy: f.ResetPolicy,
		WindowDays:  f.WindowDays,
		ParentCode:  f.ParentCode,
		Active:      f.Active,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
	if len(f.Metadata) > 0 {
		resp.Metadata = map[string]any(f.Metadata)
	}
	return resp
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func normalizeFeatureType(value domain.FeatureType) (domain.FeatureType, error) {
	switch strings.ToLower(strings.TrimSpace(string(value))) {
	case string(domain.FeatureTypeBoolean):
		return domain.FeatureTypeBoolean, nil
	case string(domain.FeatureTypeLimited):
		return domain.FeatureTypeLimited, nil
	case string(domain.FeatureTypeUnlimited):
		return domain.FeatureTypeUnlimited, nil
	default:
		return "", domain.ErrInvalidType
	}
}

func normalizeResetPolicy(value domain.ResetPolicy, windowDays *int) (domain.ResetPolicy, *int, error) {
	switch strings.ToLower(strings.TrimSpace(string(value))) {
	case "", string(domain.ResetPolicyNone):
		return domain.ResetPolicyNone, nil, nil
	case string(domain.ResetPolicyMonthly):
		return domain.ResetPolicyMonthly, nil, nil
	case string(domain.ResetPolicyRolling):
		if windowDays == nil || *windowDays < 1 {
			return "", nil, domain.ErrInvalidWindowDays
		}
		return domain.ResetPolicyRolling, windowDays, nil
	default:
		return "", nil, domain.ErrInvalidResetPolicy
	}
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
