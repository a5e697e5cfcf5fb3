package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	SellerID  snowflake.ID    `json:"seller_id" gorm:"not null;index"`
	Name      string          `json:"name" gorm:"type:varchar(200);not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(18,2);not null"`
	Stock     int64           `json:"stock" gorm:"not null;default:0"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

type OrderStatus string

const (
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Order is the purchase record created once a product payment is confirmed.
type Order struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	BuyerID     snowflake.ID    `json:"buyer_id" gorm:"not null;index"`
	SellerID    snowflake.ID    `json:"seller_id" gorm:"not null;index"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(18,2);not null"`
	Status      OrderStatus     `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrderID   snowflake.ID    `json:"order_id" gorm:"not null;index"`
	ProductID snowflake.ID    `json:"product_id" gorm:"not null;index"`
	Quantity  int64           `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }
