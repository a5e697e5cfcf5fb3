package main

import (
	_ "time/tzdata"

	"github.com/smallbiznis/expertly/internal/authorization"
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
	"github.com/smallbiznis/expertly/internal/server"
	"github.com/smallbiznis/expertly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		migration.Module,
		cache.Module,
		lock.Module,
		clock.Module,

		member.Module,
		contract.Module,
		product.Module,
		pendingorder.Module,
		payment.Module,

		// Admin rebate endpoints run settlement on demand
		providers.Module,
		rebate.Module,

		authorization.Module,
		server.Module,
	)
	app.Run()
}
