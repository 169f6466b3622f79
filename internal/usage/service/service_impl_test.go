package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/clock"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"github.com/smallbiznis/entitle/internal/usage/domain"
	"github.com/smallbiznis/entitle/internal/usage/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type featureStub struct {
	features map[string]*featuredomain.Feature
}

func (f *featureStub) Get(ctx context.Context, code string) (*featuredomain.Feature, error) {
	return f.features[code], nil
}

func (f *featureStub) PoolCode(ctx context.Context, code string) (string, error) {
	feature := f.features[code]
	if feature == nil {
		return "", featuredomain.ErrNotFound
	}
	return feature.PoolCode(), nil
}

func (f *featureStub) PoolFamily(ctx context.Context, poolCode string) ([]string, error) {
	return []string{poolCode}, nil
}

func (f *featureStub) ListPools(ctx context.Context, featureType *featuredomain.FeatureType) ([]featuredomain.Feature, error) {
	return nil, nil
}

func (f *featureStub) Create(ctx context.Context, req featuredomain.CreateRequest) (*featuredomain.Response, error) {
	return nil, nil
}

func (f *featureStub) List(ctx context.Context, req featuredomain.ListRequest) ([]featuredomain.Response, error) {
	return nil, nil
}

func (f *featureStub) Update(ctx context.Context, req featuredomain.UpdateRequest) (*featuredomain.Response, error) {
	return nil, nil
}

func (f *featureStub) Archive(ctx context.Context, code string) (*featuredomain.Response, error) {
	return nil, nil
}

type planStub struct {
	base *plandomain.Assignment
}

func (p *planStub) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Response, error) {
	return nil, nil
}

func (p *planStub) Get(ctx context.Context, code string) (*plandomain.Response, error) {
	return nil, nil
}

func (p *planStub) List(ctx context.Context, req plandomain.ListRequest) ([]plandomain.Response, error) {
	return nil, nil
}

func (p *planStub) Archive(ctx context.Context, code string) (*plandomain.Response, error) {
	return nil, nil
}

func (p *planStub) Provision(ctx context.Context, req plandomain.ProvisionRequest) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) Suspend(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) Resume(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) Cancel(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) Revoke(ctx context.Context, id string) (*plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) ListAssignments(ctx context.Context, req plandomain.ListAssignmentsRequest) ([]plandomain.AssignmentResponse, error) {
	return nil, nil
}

func (p *planStub) ActiveAssignments(ctx context.Context, ref principal.Ref) ([]plandomain.Assignment, error) {
	return nil, nil
}

func (p *planStub) BaseAssignment(ctx context.Context, ref principal.Ref) (*plandomain.Assignment, error) {
	return p.base, nil
}

func (p *planStub) EntitledLimit(ctx context.Context, ref principal.Ref, featureCodes []string) (grantdomain.Limit, error) {
	return grantdomain.Absent(), nil
}

func (p *planStub) ExpireDue(ctx context.Context) (int, error) {
	return 0, nil
}

func monthlyFeature(node *snowflake.Node) *featuredomain.Feature {
	return &featuredomain.Feature{
		ID:          node.Generate(),
		Code:        "api_calls",
		Name:        "API Calls",
		Type:        featuredomain.FeatureTypeLimited,
		ResetPolicy: featuredomain.ResetPolicyMonthly,
		Active:      true,
	}
}

func setupUsageService(t *testing.T, plans *planStub, withCache bool) (domain.Service, *clock.FakeClock, *featureStub) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.AutoMigrate(&domain.Record{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC))
	features := &featureStub{features: map[string]*featuredomain.Feature{
		"api_calls": monthlyFeature(node),
	}}

	var entCache cache.EntitlementCache
	if withCache {
		entCache = cache.NewEntitlementCache()
	}

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       repository.Provide(),
		FeatureSvc: features,
		PlanSvc:    plans,
		Cache:      entCache,
	})
	return svc, fake, features
}

func record(t *testing.T, svc domain.Service, p principal.Ref, code string, qty int64, at time.Time) {
	t.Helper()
	_, err := svc.Record(context.Background(), domain.RecordRequest{
		Principal:   p,
		FeatureCode: code,
		Quantity:    qty,
		RecordedAt:  &at,
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
}

func TestMonthlyWindowResetsAtCycleAnchor(t *testing.T) {
	anchor := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	plans := &planStub{base: &plandomain.Assignment{BillingCycleAnchor: anchor}}
	svc, _, features := setupUsageService(t, plans, false)
	ctx := context.Background()
	ws := principal.Workspace(21)

	boundary := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	record(t, svc, ws, "api_calls", 7, boundary.Add(-time.Second))
	record(t, svc, ws, "api_calls", 3, boundary.Add(time.Second))

	used, err := svc.CurrentUsage(ctx, ws, "api_calls", features.features["api_calls"])
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if used != 3 {
		t.Fatalf("expected 3 inside the cycle, got %d", used)
	}
}

func TestMonthlyWindowFallsBackToCalendarMonth(t *testing.T) {
	svc, _, features := setupUsageService(t, &planStub{}, false)
	ctx := context.Background()
	ws := principal.Workspace(22)

	monthStart := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	record(t, svc, ws, "api_calls", 5, monthStart.Add(-time.Hour))
	record(t, svc, ws, "api_calls", 2, monthStart.Add(time.Hour))

	used, err := svc.CurrentUsage(ctx, ws, "api_calls", features.features["api_calls"])
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if used != 2 {
		t.Fatalf("expected 2 inside the calendar month, got %d", used)
	}
}

func TestRollingWindowExcludesOldRecords(t *testing.T) {
	svc, fake, features := setupUsageService(t, &planStub{}, false)
	ctx := context.Background()
	ws := principal.Workspace(23)

	days := 7
	rolling := &featuredomain.Feature{
		Code:        "emails",
		Name:        "Emails",
		Type:        featuredomain.FeatureTypeLimited,
		ResetPolicy: featuredomain.ResetPolicyRolling,
		WindowDays:  &days,
		Active:      true,
	}
	features.features["emails"] = rolling

	now := fake.Now()
	record(t, svc, ws, "emails", 10, now.Add(-8*24*time.Hour))
	record(t, svc, ws, "emails", 4, now.Add(-6*24*time.Hour))
	record(t, svc, ws, "emails", 1, now.Add(-time.Hour))

	used, err := svc.CurrentUsage(ctx, ws, "emails", rolling)
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if used != 5 {
		t.Fatalf("expected 5 within the window, got %d", used)
	}
}

func TestLifetimeWindowSumsEverything(t *testing.T) {
	svc, fake, features := setupUsageService(t, &planStub{}, false)
	ctx := context.Background()
	ws := principal.Workspace(24)

	lifetime := &featuredomain.Feature{
		Code:        "projects",
		Name:        "Projects",
		Type:        featuredomain.FeatureTypeLimited,
		ResetPolicy: featuredomain.ResetPolicyNone,
		Active:      true,
	}
	features.features["projects"] = lifetime

	now := fake.Now()
	record(t, svc, ws, "projects", 3, now.AddDate(-1, 0, 0))
	record(t, svc, ws, "projects", 2, now)

	used, err := svc.CurrentUsage(ctx, ws, "projects", lifetime)
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if used != 5 {
		t.Fatalf("expected lifetime sum 5, got %d", used)
	}
}

func TestRecordInvalidatesCachedUsage(t *testing.T) {
	svc, fake, features := setupUsageService(t, &planStub{}, true)
	ctx := context.Background()
	ws := principal.Workspace(25)
	feature := features.features["api_calls"]

	record(t, svc, ws, "api_calls", 4, fake.Now())

	used, err := svc.CurrentUsage(ctx, ws, "api_calls", feature)
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if used != 4 {
		t.Fatalf("expected 4, got %d", used)
	}

	record(t, svc, ws, "api_calls", 6, fake.Now())

	used, err = svc.CurrentUsage(ctx, ws, "api_calls", feature)
	if err != nil {
		t.Fatalf("current usage after write: %v", err)
	}
	if used != 10 {
		t.Fatalf("expected invalidation to surface 10, got %d", used)
	}
}

func TestRecordIdempotencyKeyDeduplicates(t *testing.T) {
	svc, fake, _ := setupUsageService(t, &planStub{}, false)
	ctx := context.Background()
	ws := principal.Workspace(26)

	now := fake.Now()
	req := domain.RecordRequest{
		Principal:      ws,
		FeatureCode:    "api_calls",
		Quantity:       9,
		RecordedAt:     &now,
		IdempotencyKey: "evt-123",
	}

	first, err := svc.Record(ctx, req)
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	second, err := svc.Record(ctx, req)
	if err != nil {
		t.Fatalf("record second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent record, got %s vs %s", first.ID, second.ID)
	}
}
