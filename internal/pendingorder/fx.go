package pendingorder

import (
	"github.com/smallbiznis/expertly/internal/pendingorder/store"
	"go.uber.org/fx"
)

var Module = fx.Module("pendingorder.store",
	fx.Provide(store.NewRedisStore),
)
