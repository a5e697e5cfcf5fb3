package payment

import (
	contractdomain "github.com/smallbiznis/expertly/internal/contract/domain"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/payment/gateway"
	"github.com/smallbiznis/expertly/internal/payment/registry"
	"github.com/smallbiznis/expertly/internal/payment/repository"
	paymentservice "github.com/smallbiznis/expertly/internal/payment/service"
	"github.com/smallbiznis/expertly/internal/payment/strategy"
	"github.com/smallbiznis/expertly/internal/payment/strategy/order"
	"github.com/smallbiznis/expertly/internal/payment/strategy/project"
	productdomain "github.com/smallbiznis/expertly/internal/product/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.New),
	fx.Provide(strategy.NewLedger),
	fx.Provide(
		func(r memberdomain.Repository) domain.MemberLookup { return r },
		func(r contractdomain.Repository) domain.ContractLookup { return r },
		func(r productdomain.Repository) domain.ProductLookup { return r },
		func(r productdomain.Repository) domain.StockAdjuster { return r },
		func(r productdomain.Repository) domain.OrderWriter { return r },
	),
	fx.Provide(project.New),
	fx.Provide(order.New),
	fx.Provide(func(p *project.Handler, o *order.Handler) *registry.Registry {
		return registry.New(p, o)
	}),
	fx.Provide(paymentservice.NewService),
)
