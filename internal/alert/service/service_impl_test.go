package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/alert/domain"
	"github.com/smallbiznis/entitle/internal/alert/repository"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type featureStub struct {
	pools []featuredomain.Feature
}

func (f *featureStub) Get(ctx context.Context, code string) (*featuredomain.Feature, error) {
	for i := range f.pools {
		if f.pools[i].Code == code {
			return &f.pools[i], nil
		}
	}
	return nil, nil
}

func (f *featureStub) PoolCode(ctx context.Context, code string) (string, error) {
	return code, nil
}

func (f *featureStub) PoolFamily(ctx context.Context, poolCode string) ([]string, error) {
	return []string{poolCode}, nil
}

func (f *featureStub) ListPools(ctx context.Context, featureType *featuredomain.FeatureType) ([]featuredomain.Feature, error) {
	return f.pools, nil
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

// entitlementStub reports a configurable usage percentage per
// (principal, feature) pair. Nil means the feature is untracked for that
// principal.
type entitlementStub struct {
	mu  sync.Mutex
	pct map[string]*float64
}

func (e *entitlementStub) Can(ctx context.Context, p principal.Ref, featureCode string, quantity int64) (entitlementdomain.Result, error) {
	e.mu.Lock()
	pct, ok := e.pct[p.Key()+"|"+featureCode]
	e.mu.Unlock()
	if !ok {
		return entitlementdomain.Denied(featureCode, entitlementdomain.ReasonNotEntitled), nil
	}
	return entitlementdomain.Result{
		Allowed:         true,
		FeatureCode:     featureCode,
		UsagePercentage: pct,
	}, nil
}

func (e *entitlementStub) set(p principal.Ref, featureCode string, pct float64) {
	e.mu.Lock()
	e.pct[p.Key()+"|"+featureCode] = &pct
	e.mu.Unlock()
}

type directoryStub struct {
	workspaces []snowflake.ID
}

func (d *directoryStub) GetWorkspace(ctx context.Context, id snowflake.ID) (*tenantdomain.Workspace, error) {
	return nil, tenantdomain.ErrWorkspaceNotFound
}

func (d *directoryStub) GetNamespace(ctx context.Context, id snowflake.ID) (*tenantdomain.Namespace, error) {
	return nil, tenantdomain.ErrNamespaceNotFound
}

func (d *directoryStub) ListWorkspaceIDs(ctx context.Context) ([]snowflake.ID, error) {
	return d.workspaces, nil
}

func (d *directoryStub) TierIncludes(ctx context.Context, tier, featureCode string) (bool, error) {
	return false, nil
}

type emitterRecorder struct {
	mu     sync.Mutex
	events []webhookdomain.DispatchRequest
}

func (e *emitterRecorder) Emit(ctx context.Context, req webhookdomain.DispatchRequest) {
	e.mu.Lock()
	e.events = append(e.events, req)
	e.mu.Unlock()
}

func (e *emitterRecorder) Events() []webhookdomain.DispatchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]webhookdomain.DispatchRequest(nil), e.events...)
}

type fixture struct {
	svc     domain.Service
	fake    *clock.FakeClock
	checks  *entitlementStub
	emitter *emitterRecorder
}

func setupAlertService(t *testing.T, workspaces ...snowflake.ID) *fixture {
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

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2024, time.April, 2, 9, 0, 0, 0, time.UTC))
	checks := &entitlementStub{pct: make(map[string]*float64)}
	emitter := &emitterRecorder{}

	features := &featureStub{pools: []featuredomain.Feature{{
		ID:          node.Generate(),
		Code:        "api_calls",
		Name:        "API Calls",
		Type:        featuredomain.FeatureTypeLimited,
		ResetPolicy: featuredomain.ResetPolicyMonthly,
		Active:      true,
	}}}

	svc := New(Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fake,
		Repo:           repository.Provide(),
		FeatureSvc:     features,
		EntitlementSvc: checks,
		Directory:      &directoryStub{workspaces: workspaces},
		Emitter:        emitter,
		Policy:         config.NewStaticPolicyHolder(config.DefaultPolicy()),
	})
	return &fixture{svc: svc, fake: fake, checks: checks, emitter: emitter}
}

func unresolved(t *testing.T, svc domain.Service, p principal.Ref) []domain.Response {
	t.Helper()
	records, err := svc.List(context.Background(), domain.ListRequest{
		Principal:  p,
		Unresolved: true,
	})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	return records
}

func TestThresholdLadderFiresAndDeduplicates(t *testing.T) {
	f := setupAlertService(t)
	ctx := context.Background()
	ws := principal.Workspace(31)

	f.checks.set(ws, "api_calls", 85)
	fired, err := f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	open := unresolved(t, f.svc, ws)
	if len(open) != 1 || open[0].Threshold != 80 {
		t.Fatalf("open records = %+v, want one at threshold 80", open)
	}

	// Same rung again: no new record, no new event.
	f.checks.set(ws, "api_calls", 87)
	fired, err = f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
	if got := len(unresolved(t, f.svc, ws)); got != 1 {
		t.Fatalf("open records = %d, want 1", got)
	}

	events := f.emitter.Events()
	if len(events) != 1 || events[0].Event != webhookdomain.EventLimitWarning {
		t.Fatalf("events = %+v, want one limit_warning", events)
	}
}

func TestUsageDropResolvesOpenAlerts(t *testing.T) {
	f := setupAlertService(t)
	ctx := context.Background()
	ws := principal.Workspace(32)

	f.checks.set(ws, "api_calls", 85)
	if _, err := f.svc.EvaluatePrincipal(ctx, ws); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	f.fake.Advance(time.Hour)
	f.checks.set(ws, "api_calls", 60)
	fired, err := f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
	if got := len(unresolved(t, f.svc, ws)); got != 0 {
		t.Fatalf("open records = %d, want 0", got)
	}

	// Climbing back past a higher rung opens a fresh record.
	f.checks.set(ws, "api_calls", 95)
	fired, err = f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	open := unresolved(t, f.svc, ws)
	if len(open) != 1 || open[0].Threshold != 90 {
		t.Fatalf("open records = %+v, want one at threshold 90", open)
	}
}

func TestFullConsumptionEmitsLimitReached(t *testing.T) {
	f := setupAlertService(t)
	ctx := context.Background()
	ws := principal.Workspace(33)

	f.checks.set(ws, "api_calls", 100)
	fired, err := f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	events := f.emitter.Events()
	if len(events) != 1 || events[0].Event != webhookdomain.EventLimitReached {
		t.Fatalf("events = %+v, want one limit_reached", events)
	}
	if events[0].Data["threshold"] != 100 {
		t.Fatalf("threshold = %v, want 100", events[0].Data["threshold"])
	}
}

func TestEvaluateAllSweepsEveryWorkspace(t *testing.T) {
	f := setupAlertService(t, 41, 42)
	ctx := context.Background()

	f.checks.set(principal.Workspace(41), "api_calls", 92)
	f.checks.set(principal.Workspace(42), "api_calls", 50)

	fired, err := f.svc.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	open := unresolved(t, f.svc, principal.Workspace(41))
	if len(open) != 1 || open[0].Threshold != 90 {
		t.Fatalf("open records = %+v, want one at threshold 90", open)
	}
}

func TestResolveManually(t *testing.T) {
	f := setupAlertService(t)
	ctx := context.Background()
	ws := principal.Workspace(34)

	f.checks.set(ws, "api_calls", 85)
	if _, err := f.svc.EvaluatePrincipal(ctx, ws); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	open := unresolved(t, f.svc, ws)
	if len(open) != 1 {
		t.Fatalf("open records = %d, want 1", len(open))
	}

	resolved, err := f.svc.ResolveManually(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Fatalf("resolved_at not set")
	}
	if got := len(unresolved(t, f.svc, ws)); got != 0 {
		t.Fatalf("open records = %d, want 0", got)
	}

	if _, err := f.svc.ResolveManually(ctx, open[0].ID); err != domain.ErrAlreadyResolved {
		t.Fatalf("err = %v, want %v", err, domain.ErrAlreadyResolved)
	}
}

func TestUntrackedFeatureNeverAlerts(t *testing.T) {
	f := setupAlertService(t)
	ctx := context.Background()
	ws := principal.Workspace(35)

	fired, err := f.svc.EvaluatePrincipal(ctx, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
	if got := len(unresolved(t, f.svc, ws)); got != 0 {
		t.Fatalf("open records = %d, want 0", got)
	}
}
