package service

import (
	"context"
	"strings"

	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/grant/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	FeatureSvc featuredomain.Service
	PlanSvc    plandomain.Service
	BoostSvc   boostdomain.Service
}

type Service struct {
	log        *zap.Logger
	featuresvc featuredomain.Service
	plansvc    plandomain.Service
	boostsvc   boostdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("grant.service"),
		featuresvc: p.FeatureSvc,
		plansvc:    p.PlanSvc,
		boostsvc:   p.BoostSvc,
	}
}

// TotalLimit folds plan grants and usable boosts for the pool family of
// poolCode. Any unlimited source wins immediately; otherwise finite
// contributions sum and enable boosts record presence only. A feature of
// the unlimited type turns any presence into an unbounded grant.
func (s *Service) TotalLimit(ctx context.Context, p principal.Ref, poolCode string) (domain.Limit, error) {
	if !p.Valid() {
		return domain.Absent(), domain.ErrInvalidPrincipal
	}
	poolCode = strings.ToLower(strings.TrimSpace(poolCode))
	if poolCode == "" {
		return domain.Absent(), nil
	}

	feature, err := s.featuresvc.Get(ctx, poolCode)
	if err != nil {
		return domain.Absent(), err
	}

	family, err := s.featuresvc.PoolFamily(ctx, poolCode)
	if err != nil {
		return domain.Absent(), err
	}

	limit, err := s.plansvc.EntitledLimit(ctx, p, family)
	if err != nil {
		return domain.Absent(), err
	}
	if limit.Unlimited {
		return limit, nil
	}

	boosts, err := s.boostsvc.UsableByPool(ctx, p, family)
	if err != nil {
		return domain.Absent(), err
	}
	for i := range boosts {
		switch boosts[i].BoostType {
		case boostdomain.BoostTypeUnlimited:
			return domain.UnlimitedLimit(), nil
		case boostdomain.BoostTypeAddLimit:
			limit = limit.Add(boosts[i].Remaining())
		case boostdomain.BoostTypeEnable:
			limit = limit.Mark()
		}
	}
	// An unlimited-type feature has no meter; any grant at all entitles
	// without bound.
	if feature != nil && feature.Type == featuredomain.FeatureTypeUnlimited && limit.Present {
		return domain.UnlimitedLimit(), nil
	}
	return limit, nil
}
