package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound             = errors.New("order_not_found")
	ErrPaymentNotFound           = errors.New("payment_not_found")
	ErrContractNotFound          = errors.New("contract_not_found")
	ErrProductNotFound           = errors.New("product_not_found")
	ErrMemberNotFound            = errors.New("member_not_found")
	ErrAmountManipulation        = errors.New("amount_manipulation")
	ErrAlreadyCanceled           = errors.New("already_canceled")
	ErrAlreadyCompleted          = errors.New("already_completed")
	ErrInsufficientStock         = errors.New("insufficient_stock")
	ErrGatewayConfirmationFailed = errors.New("gateway_confirmation_failed")
	ErrGatewayCancellationFailed = errors.New("gateway_cancellation_failed")
	ErrUnsupportedPaymentType    = errors.New("unsupported_payment_type")
	ErrInvalidCancelAmount       = errors.New("invalid_cancel_amount")
	ErrProcessing                = errors.New("payment_processing_error")
	ErrCancellationInProgress    = errors.New("cancellation_in_progress")
	ErrConcurrentModification    = errors.New("concurrent_modification")
	ErrInvalidQuantity           = errors.New("invalid_quantity")
	ErrInvalidAmount             = errors.New("invalid_amount")
	ErrInvalidReference          = errors.New("invalid_reference")
	ErrInvalidPaymentKey         = errors.New("invalid_payment_key")
	ErrInvalidOrderID            = errors.New("invalid_order_id")
	ErrInvalidCancelReason       = errors.New("invalid_cancel_reason")
	ErrPaymentNotOwned           = errors.New("payment_not_owned")
)

// AmountManipulationError carries the evidence of a checkout whose submitted
// amount disagrees with the amount computed from the referenced object.
type AmountManipulationError struct {
	Expected  decimal.Decimal
	Requested decimal.Decimal
	IPAddress string
	UserAgent string
}

func (e *AmountManipulationError) Error() string {
	return fmt.Sprintf("amount_manipulation: expected %s, requested %s", e.Expected.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *AmountManipulationError) Unwrap() error { return ErrAmountManipulation }

// GatewayError is a non-2xx answer from the payment gateway.
type GatewayError struct {
	Op         error
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%v: status %d %s %s", e.Op, e.StatusCode, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Op }
