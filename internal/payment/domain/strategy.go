package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	pendingdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	"gorm.io/gorm"
)

type ValidationInput struct {
	OrderID     string
	ReferenceID snowflake.ID
	Quantity    int64
	Requested   decimal.Decimal
}

// AmountValidator recomputes the amount owed for a reference. A mismatch
// is reported as *AmountManipulationError carrying the expected amount.
type AmountValidator interface {
	Validate(ctx context.Context, db *gorm.DB, in ValidationInput) (decimal.Decimal, error)
}

// OrderInfo is the checkout context shown to the payer and reused when
// building ledger rows.
type OrderInfo struct {
	OrderName  string
	Amount     decimal.Decimal
	UnitPrice  decimal.Decimal
	Quantity   int64
	PayeeID    snowflake.ID
	Attributes map[string]any
}

type OrderInfoProvider interface {
	ProvideAdditionalInfo(ctx context.Context, db *gorm.DB, referenceID snowflake.ID, quantity int64) (*OrderInfo, error)
}

type SaveInput struct {
	Pending    pendingdomain.PendingOrder
	PaymentKey string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	PaidAt     time.Time
}

type FailureInput struct {
	Pending  pendingdomain.PendingOrder
	Code     string
	Message  string
	FailedAt time.Time
}

type ManipulationInput struct {
	Pending    pendingdomain.PendingOrder
	PaymentKey string
	Expected   decimal.Decimal
	Requested  decimal.Decimal
	IPAddress  string
	UserAgent  string
	DetectedAt time.Time
}

// PaymentSaver builds the type specific ledger aggregate. All methods run
// on the transaction handed in by the orchestrator.
type PaymentSaver interface {
	ApplySideEffects(ctx context.Context, tx *gorm.DB, pending pendingdomain.PendingOrder) error
	SavePayment(ctx context.Context, tx *gorm.DB, in SaveInput) (*Payment, error)
	SaveFailedPayment(ctx context.Context, tx *gorm.DB, in FailureInput) (*Payment, error)
	SaveManipulatedPayment(ctx context.Context, tx *gorm.DB, in ManipulationInput) (*Payment, error)
}

// TypeHandler bundles the capabilities registered for one payment type.
type TypeHandler interface {
	AmountValidator
	OrderInfoProvider
	PaymentSaver
	PaymentType() PaymentType
}

// CancellationHandler is implemented by handlers that undo side effects
// when a payment is canceled.
type CancellationHandler interface {
	OnCanceled(ctx context.Context, tx *gorm.DB, payment *Payment, plan CancellationPlan) error
}
