package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/zap"
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

type grantStub struct {
	mu     sync.Mutex
	limits map[string]grantdomain.Limit
	calls  int
}

func (g *grantStub) TotalLimit(ctx context.Context, p principal.Ref, poolCode string) (grantdomain.Limit, error) {
	g.mu.Lock()
	g.calls++
	limit := g.limits[p.Key()+"|"+poolCode]
	g.mu.Unlock()
	return limit, nil
}

func (g *grantStub) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type usageStub struct {
	used map[string]int64
}

func (u *usageStub) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Response, error) {
	return nil, nil
}

func (u *usageStub) CurrentUsage(ctx context.Context, p principal.Ref, poolCode string, feature *featuredomain.Feature) (int64, error) {
	return u.used[p.Key()+"|"+poolCode], nil
}

func (u *usageStub) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type directoryStub struct {
	namespaces map[snowflake.ID]*tenantdomain.Namespace
	tiers      map[string]bool
}

func (d *directoryStub) GetWorkspace(ctx context.Context, id snowflake.ID) (*tenantdomain.Workspace, error) {
	return &tenantdomain.Workspace{ID: id}, nil
}

func (d *directoryStub) GetNamespace(ctx context.Context, id snowflake.ID) (*tenantdomain.Namespace, error) {
	ns := d.namespaces[id]
	if ns == nil {
		return nil, tenantdomain.ErrNamespaceNotFound
	}
	return ns, nil
}

func (d *directoryStub) ListWorkspaceIDs(ctx context.Context) ([]snowflake.ID, error) {
	return nil, nil
}

func (d *directoryStub) TierIncludes(ctx context.Context, tier, featureCode string) (bool, error) {
	return d.tiers[tier+"|"+featureCode], nil
}

func limitedMonthly(code string) *featuredomain.Feature {
	return &featuredomain.Feature{
		Code:        code,
		Name:        code,
		Type:        featuredomain.FeatureTypeLimited,
		ResetPolicy: featuredomain.ResetPolicyMonthly,
		Active:      true,
	}
}

type fixture struct {
	features  *featureStub
	grants    *grantStub
	usage     *usageStub
	directory *directoryStub
	cache     cache.EntitlementCache
}

func newFixture() *fixture {
	return &fixture{
		features: &featureStub{features: map[string]*featuredomain.Feature{
			"widgets": limitedMonthly("widgets"),
			"sso": {
				Code:   "sso",
				Name:   "SSO",
				Type:   featuredomain.FeatureTypeBoolean,
				Active: true,
			},
			"audit_log": {
				Code:   "audit_log",
				Name:   "Audit Log",
				Type:   featuredomain.FeatureTypeUnlimited,
				Active: true,
			},
		}},
		grants:    &grantStub{limits: map[string]grantdomain.Limit{}},
		usage:     &usageStub{used: map[string]int64{}},
		directory: &directoryStub{namespaces: map[snowflake.ID]*tenantdomain.Namespace{}, tiers: map[string]bool{}},
	}
}

func (f *fixture) service() domain.Service {
	return New(Params{
		Log:        zap.NewNop(),
		FeatureSvc: f.features,
		GrantSvc:   f.grants,
		UsageSvc:   f.usage,
		Directory:  f.directory,
		Cache:      f.cache,
	})
}

func TestCanWithinLimit(t *testing.T) {
	f := newFixture()
	ws := principal.Workspace(31)
	f.grants.limits[ws.Key()+"|widgets"] = grantdomain.ValueLimit(100)
	f.usage.used[ws.Key()+"|widgets"] = 30
	svc := f.service()

	denied, err := svc.Can(context.Background(), ws, "widgets", 80)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if denied.Allowed || denied.Reason != domain.ReasonLimitReached {
		t.Fatalf("expected limit_reached, got %+v", denied)
	}
	if *denied.Limit != 100 || *denied.Used != 30 {
		t.Fatalf("expected limit=100 used=30, got %+v", denied)
	}

	allowed, err := svc.Can(context.Background(), ws, "widgets", 50)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !allowed.Allowed {
		t.Fatalf("expected allow, got %+v", allowed)
	}
	if *allowed.Remaining != 70 {
		t.Fatalf("expected remaining 70, got %d", *allowed.Remaining)
	}
	if *allowed.UsagePercentage != 30 {
		t.Fatalf("expected 30%%, got %f", *allowed.UsagePercentage)
	}
}

func TestCanUnknownFeature(t *testing.T) {
	f := newFixture()
	svc := f.service()

	result, err := svc.Can(context.Background(), principal.Workspace(32), "ghost", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if result.Allowed || result.Reason != domain.ReasonFeatureNotFound {
		t.Fatalf("expected feature_not_found, got %+v", result)
	}
}

func TestCanNotEntitled(t *testing.T) {
	f := newFixture()
	svc := f.service()

	result, err := svc.Can(context.Background(), principal.Workspace(33), "widgets", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if result.Allowed || result.Reason != domain.ReasonNotEntitled {
		t.Fatalf("expected not_entitled, got %+v", result)
	}
}

func TestCanUnlimitedSkipsUsage(t *testing.T) {
	f := newFixture()
	ws := principal.Workspace(34)
	f.grants.limits[ws.Key()+"|widgets"] = grantdomain.UnlimitedLimit()
	f.usage.used[ws.Key()+"|widgets"] = 1 << 40
	svc := f.service()

	result, err := svc.Can(context.Background(), ws, "widgets", 1000)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !result.Allowed || !result.Unlimited {
		t.Fatalf("expected allowed+unlimited, got %+v", result)
	}
	if result.Limit != nil || result.Used != nil {
		t.Fatalf("expected no usage figures on unlimited, got %+v", result)
	}
}

func TestCanUnlimitedFeatureType(t *testing.T) {
	f := newFixture()
	ws := principal.Workspace(35)
	f.grants.limits[ws.Key()+"|audit_log"] = grantdomain.ValueLimit(0).Mark()
	svc := f.service()

	result, err := svc.Can(context.Background(), ws, "audit_log", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !result.Allowed || !result.Unlimited {
		t.Fatalf("expected allowed+unlimited for unlimited feature type, got %+v", result)
	}
}

func TestCanBooleanPresence(t *testing.T) {
	f := newFixture()
	ws := principal.Workspace(36)
	f.grants.limits[ws.Key()+"|sso"] = grantdomain.Absent().Mark()
	svc := f.service()

	result, err := svc.Can(context.Background(), ws, "sso", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !result.Allowed || result.Unlimited {
		t.Fatalf("expected plain allow for boolean feature, got %+v", result)
	}
}

func TestCanNamespaceCascadesToWorkspace(t *testing.T) {
	f := newFixture()
	wsID := snowflake.ID(400)
	nsID := snowflake.ID(401)
	f.directory.namespaces[nsID] = &tenantdomain.Namespace{ID: nsID, WorkspaceID: &wsID, Active: true}

	ws := principal.Workspace(wsID)
	f.grants.limits[ws.Key()+"|widgets"] = grantdomain.ValueLimit(200)
	f.usage.used[ws.Key()+"|widgets"] = 150
	svc := f.service()

	ns := principal.Namespace(nsID)
	allowed, err := svc.Can(context.Background(), ns, "widgets", 40)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !allowed.Allowed {
		t.Fatalf("expected cascade allow, got %+v", allowed)
	}

	denied, err := svc.Can(context.Background(), ns, "widgets", 60)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if denied.Allowed || denied.Reason != domain.ReasonLimitReached {
		t.Fatalf("expected cascade deny, got %+v", denied)
	}
}

func TestCanUserOwnedNamespaceTierFallback(t *testing.T) {
	f := newFixture()
	nsID := snowflake.ID(402)
	tier := "premium"
	f.directory.namespaces[nsID] = &tenantdomain.Namespace{ID: nsID, OwnerTier: &tier, Active: true}
	f.directory.tiers["premium|sso"] = true
	svc := f.service()

	ns := principal.Namespace(nsID)
	result, err := svc.Can(context.Background(), ns, "sso", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected tier fallback allow, got %+v", result)
	}

	// Tier fallback is boolean only; numeric features stay denied.
	f.directory.tiers["premium|widgets"] = true
	result, err = svc.Can(context.Background(), ns, "widgets", 1)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if result.Allowed || result.Reason != domain.ReasonNotEntitled {
		t.Fatalf("expected not_entitled for numeric tier grant, got %+v", result)
	}
}

func TestCanReadsLimitThroughCache(t *testing.T) {
	f := newFixture()
	f.cache = cache.NewEntitlementCache()
	ws := principal.Workspace(37)
	f.grants.limits[ws.Key()+"|widgets"] = grantdomain.ValueLimit(100)
	svc := f.service()

	if _, err := svc.Can(context.Background(), ws, "widgets", 1); err != nil {
		t.Fatalf("can: %v", err)
	}
	if calls := f.grants.Calls(); calls != 1 {
		t.Fatalf("expected 1 grant lookup, got %d", calls)
	}

	if _, err := svc.Can(context.Background(), ws, "widgets", 1); err != nil {
		t.Fatalf("can cached: %v", err)
	}
	if calls := f.grants.Calls(); calls != 1 {
		t.Fatalf("expected cache hit to avoid second lookup, got %d", calls)
	}
}
