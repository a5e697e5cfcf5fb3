package scheduler

import (
	"context"

	"github.com/smallbiznis/expertly/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ConfigFromApp),
	fx.Provide(New),
	fx.Invoke(RegisterLifecycle),
)

func ConfigFromApp(cfg config.Config) Config {
	return Config{
		JobTimeout:  cfg.SchedulerJobTimeout,
		EnabledJobs: cfg.SchedulerJobs,
	}
}

func RegisterLifecycle(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
