package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("pending_order_not_found")
	ErrInvalidOrder = errors.New("invalid_pending_order")
)

// PendingOrder links a gateway order id to the checkout it was issued for.
// It lives only until the gateway redirect is handled or the ttl lapses.
type PendingOrder struct {
	OrderID     string          `json:"orderId"`
	PaymentType string          `json:"paymentType"`
	ReferenceID snowflake.ID    `json:"referenceId"`
	Quantity    int64           `json:"quantity"`
	PayerID     snowflake.ID    `json:"payerId"`
	Amount      decimal.Decimal `json:"amount"`
	OrderName   string          `json:"orderName"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Store interface {
	Put(ctx context.Context, order PendingOrder, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (*PendingOrder, error)
	Delete(ctx context.Context, orderID string) error
}
