package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	contractdomain "github.com/smallbiznis/expertly/internal/contract/domain"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	productdomain "github.com/smallbiznis/expertly/internal/product/domain"
	"gorm.io/gorm"
)

// Narrow views of the collaborator repositories the payment core reads.

type MemberLookup interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*memberdomain.Member, error)
}

type ContractLookup interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to contractdomain.Status, at time.Time) (bool, error)
}

type ProductLookup interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*productdomain.Product, error)
}

type StockAdjuster interface {
	DecreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error
	IncreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, db *gorm.DB, order *productdomain.Order, items []productdomain.OrderItem) error
	FindOrderItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]productdomain.OrderItem, error)
	MarkOrderCanceled(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) error
}
