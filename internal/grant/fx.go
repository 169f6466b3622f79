package grant

import (
	"github.com/smallbiznis/entitle/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.service",
	fx.Provide(service.New),
)
