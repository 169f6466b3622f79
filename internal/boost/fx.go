package boost

import (
	"github.com/smallbiznis/entitle/internal/boost/repository"
	"github.com/smallbiznis/entitle/internal/boost/service"
	"go.uber.org/fx"
)

var Module = fx.Module("boost.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
