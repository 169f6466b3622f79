package service

import (
	"context"
	"testing"

	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"go.uber.org/zap"
)

type featureStub struct {
	family  []string
	feature *featuredomain.Feature
}

func (f *featureStub) Get(ctx context.Context, code string) (*featuredomain.Feature, error) {
	return f.feature, nil
}

func (f *featureStub) PoolCode(ctx context.Context, code string) (string, error) {
	return code, nil
}

func (f *featureStub) PoolFamily(ctx context.Context, poolCode string) ([]string, error) {
	if len(f.family) > 0 {
		return f.family, nil
	}
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
	limit grantdomain.Limit
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
	return nil, nil
}

func (p *planStub) EntitledLimit(ctx context.Context, ref principal.Ref, featureCodes []string) (grantdomain.Limit, error) {
	return p.limit, nil
}

func (p *planStub) ExpireDue(ctx context.Context) (int, error) {
	return 0, nil
}

type boostStub struct {
	boosts []boostdomain.Boost
}

func (b *boostStub) Provision(ctx context.Context, req boostdomain.ProvisionRequest) (*boostdomain.Response, error) {
	return nil, nil
}

func (b *boostStub) Get(ctx context.Context, id string) (*boostdomain.Response, error) {
	return nil, nil
}

func (b *boostStub) List(ctx context.Context, req boostdomain.ListRequest) ([]boostdomain.Response, error) {
	return nil, nil
}

func (b *boostStub) Cancel(ctx context.Context, id string) (*boostdomain.Response, error) {
	return nil, nil
}

func (b *boostStub) Consume(ctx context.Context, id string, quantity int64) (bool, error) {
	return false, nil
}

func (b *boostStub) UsableByPool(ctx context.Context, p principal.Ref, featureCodes []string) ([]boostdomain.Boost, error) {
	return b.boosts, nil
}

func (b *boostStub) ExpireDue(ctx context.Context) (int, error) {
	return 0, nil
}

func newGrantService(plans *planStub, boosts *boostStub) grantdomain.Service {
	return New(Params{
		Log:        zap.NewNop(),
		FeatureSvc: &featureStub{},
		PlanSvc:    plans,
		BoostSvc:   boosts,
	})
}

func addLimitBoost(limitValue, consumed int64) boostdomain.Boost {
	return boostdomain.Boost{
		BoostType:        boostdomain.BoostTypeAddLimit,
		LimitValue:       limitValue,
		ConsumedQuantity: consumed,
		Status:           boostdomain.StatusActive,
	}
}

func TestTotalLimitSumsBoostRemaining(t *testing.T) {
	svc := newGrantService(
		&planStub{limit: grantdomain.Absent()},
		&boostStub{boosts: []boostdomain.Boost{
			addLimitBoost(10, 0),
			addLimitBoost(20, 5),
		}},
	)

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(1), "api_calls")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if !limit.Present || limit.Unlimited || limit.Value != 25 {
		t.Fatalf("expected limit 25, got %+v", limit)
	}
}

func TestTotalLimitUnlimitedBoostDominates(t *testing.T) {
	svc := newGrantService(
		&planStub{limit: grantdomain.ValueLimit(100)},
		&boostStub{boosts: []boostdomain.Boost{
			addLimitBoost(10, 0),
			{BoostType: boostdomain.BoostTypeUnlimited, Status: boostdomain.StatusActive},
		}},
	)

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(2), "api_calls")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if !limit.Unlimited {
		t.Fatalf("expected unlimited, got %+v", limit)
	}
}

func TestTotalLimitEnableBoostMarksPresence(t *testing.T) {
	svc := newGrantService(
		&planStub{limit: grantdomain.Absent()},
		&boostStub{boosts: []boostdomain.Boost{
			{BoostType: boostdomain.BoostTypeEnable, Status: boostdomain.StatusActive},
		}},
	)

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(3), "sso")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if !limit.Present || limit.Value != 0 {
		t.Fatalf("expected present zero-value limit, got %+v", limit)
	}
}

func TestTotalLimitAbsentWhenNoSource(t *testing.T) {
	svc := newGrantService(&planStub{limit: grantdomain.Absent()}, &boostStub{})

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(4), "ghost")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if limit.Present {
		t.Fatalf("expected absent, got %+v", limit)
	}
}

func TestTotalLimitPlanUnlimitedSkipsBoosts(t *testing.T) {
	svc := newGrantService(&planStub{limit: grantdomain.UnlimitedLimit()}, &boostStub{})

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(5), "api_calls")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if !limit.Unlimited {
		t.Fatalf("expected unlimited, got %+v", limit)
	}
}

func TestTotalLimitUnlimitedFeatureTypeWithPresence(t *testing.T) {
	svc := New(Params{
		Log: zap.NewNop(),
		FeatureSvc: &featureStub{feature: &featuredomain.Feature{
			Code: "priority_support",
			Type: featuredomain.FeatureTypeUnlimited,
		}},
		PlanSvc:  &planStub{limit: grantdomain.Absent().Mark()},
		BoostSvc: &boostStub{},
	})

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(6), "priority_support")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if !limit.Unlimited {
		t.Fatalf("expected unlimited from feature type, got %+v", limit)
	}
}

func TestTotalLimitUnlimitedFeatureTypeWithoutGrantStaysAbsent(t *testing.T) {
	svc := New(Params{
		Log: zap.NewNop(),
		FeatureSvc: &featureStub{feature: &featuredomain.Feature{
			Code: "priority_support",
			Type: featuredomain.FeatureTypeUnlimited,
		}},
		PlanSvc:  &planStub{limit: grantdomain.Absent()},
		BoostSvc: &boostStub{},
	})

	limit, err := svc.TotalLimit(context.Background(), principal.Workspace(7), "priority_support")
	if err != nil {
		t.Fatalf("total limit: %v", err)
	}
	if limit.Present || limit.Unlimited {
		t.Fatalf("expected absent, got %+v", limit)
	}
}
