package tenant

import (
	"github.com/smallbiznis/entitle/internal/tenant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.directory",
	fx.Provide(repository.Provide),
)
