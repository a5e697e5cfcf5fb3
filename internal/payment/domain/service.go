package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*PaymentResponse, error)
	RecordFailure(ctx context.Context, req FailureRequest) error
	Cancel(ctx context.Context, req CancelRequest) (*PaymentResponse, error)
	CancelByOrderID(ctx context.Context, req CancelByOrderRequest) (*PaymentResponse, error)
	GetByReference(ctx context.Context, paymentType string, referenceID snowflake.ID) (*PaymentResponse, error)
}

type CreateOrderRequest struct {
	PaymentType string       `json:"paymentType"`
	ReferenceID snowflake.ID `json:"referenceId"`
	PayerID     snowflake.ID `json:"-"`
	Quantity    int64        `json:"quantity"`
}

type CreateOrderResponse struct {
	OrderID     string          `json:"orderId"`
	CustomerKey string          `json:"customerKey"`
	Amount      decimal.Decimal `json:"amount"`
	OrderName   string          `json:"orderName"`
	Info        map[string]any  `json:"info,omitempty"`
}

// ConfirmRequest is the gateway success redirect. IPAddress and UserAgent
// fall back to the request context when empty.
type ConfirmRequest struct {
	PaymentKey string
	OrderID    string
	Amount     decimal.Decimal
	IPAddress  string
	UserAgent  string
}

type FailureRequest struct {
	OrderID string
	Code    string
	Message string
}

type CancelRequest struct {
	PaymentType string
	ReferenceID snowflake.ID
	Reason      string
	Amount      *decimal.Decimal
}

// CancelByOrderRequest cancels on behalf of RequestedBy, who must be the
// payer unless AnyPayer is set.
type CancelByOrderRequest struct {
	OrderID     string           `json:"orderId"`
	Reason      string           `json:"cancelReason"`
	Amount      *decimal.Decimal `json:"cancelAmount,omitempty"`
	RequestedBy snowflake.ID     `json:"-"`
	AnyPayer    bool             `json:"-"`
}

type PaymentResponse struct {
	ID              string          `json:"id"`
	PaymentType     PaymentType     `json:"paymentType"`
	ReferenceID     string          `json:"referenceId"`
	OrderID         string          `json:"orderId"`
	OrderName       string          `json:"orderName"`
	Status          Status          `json:"status"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	CanceledAmount  decimal.Decimal `json:"canceledAmount"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	PaymentDate     time.Time       `json:"paymentDate"`
}
