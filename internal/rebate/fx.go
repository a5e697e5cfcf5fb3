package rebate

import (
	"github.com/smallbiznis/expertly/internal/rebate/repository"
	"github.com/smallbiznis/expertly/internal/rebate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rebate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
