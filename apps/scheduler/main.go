package main

import (
	"context"
	"flag"
	_ "time/tzdata"

	"github.com/smallbiznis/expertly/internal/cache"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/contract"
	"github.com/smallbiznis/expertly/internal/idgen"
	"github.com/smallbiznis/expertly/internal/lock"
	"github.com/smallbiznis/expertly/internal/member"
	"github.com/smallbiznis/expertly/internal/migration"
	"github.com/smallbiznis/expertly/internal/observability"
	"github.com/smallbiznis/expertly/internal/payment"
	"github.com/smallbiznis/expertly/internal/pendingorder"
	"github.com/smallbiznis/expertly/internal/product"
	"github.com/smallbiznis/expertly/internal/providers"
	"github.com/smallbiznis/expertly/internal/rebate"
	"github.com/smallbiznis/expertly/internal/scheduler"
	"github.com/smallbiznis/expertly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run every enabled job once and exit")
	flag.Parse()

	options := []fx.Option{
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		migration.Module,
		cache.Module,
		lock.Module,
		clock.Module,

		// Settlement reads members and the payment ledger
		member.Module,
		contract.Module,
		product.Module,
		pendingorder.Module,
		payment.Module,
		providers.Module,
		rebate.Module,
	}

	if *once {
		options = append(options,
			fx.Provide(scheduler.ConfigFromApp),
			fx.Provide(scheduler.New),
			fx.Invoke(runOnce),
		)
	} else {
		// No server module
		options = append(options, scheduler.Module)
	}

	fx.New(options...).Run()
}

func runOnce(lc fx.Lifecycle, shutdowner fx.Shutdowner, sched *scheduler.Scheduler, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := sched.RunOnce(context.Background()); err != nil {
					log.Error("scheduler run failed", zap.Error(err))
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
