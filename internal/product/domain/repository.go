package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("product_not_found")
	ErrOrderNotFound     = errors.New("product_order_not_found")
	ErrInsufficientStock = errors.New("insufficient_stock")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	DecreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error
	IncreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error
	CreateOrder(ctx context.Context, db *gorm.DB, order *Order, items []OrderItem) error
	FindOrderItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderItem, error)
	MarkOrderCanceled(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) error
}
