package domain

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

type GatewayConfirmRequest struct {
	PaymentKey string
	OrderID    string
	Amount     decimal.Decimal
}

// GatewayCancelRequest omits Amount for a full cancellation.
type GatewayCancelRequest struct {
	Reason string
	Amount *decimal.Decimal
}

type GatewayResult struct {
	TransactionKey string
	Raw            json.RawMessage
}

type Gateway interface {
	Confirm(ctx context.Context, req GatewayConfirmRequest) (*GatewayResult, error)
	Cancel(ctx context.Context, paymentKey string, req GatewayCancelRequest) (*GatewayResult, error)
}
