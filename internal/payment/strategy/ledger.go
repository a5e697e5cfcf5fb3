package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	pendingdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	"github.com/smallbiznis/expertly/pkg/db"
	"gorm.io/gorm"
)

// Ledger writes the rows shared by every payment type.
type Ledger struct {
	repo  domain.Repository
	genID *snowflake.Node
}

func NewLedger(repo domain.Repository, genID *snowflake.Node) *Ledger {
	return &Ledger{repo: repo, genID: genID}
}

func (l *Ledger) NextID() snowflake.ID {
	return l.genID.Generate()
}

// NewPayment fills the columns every payment row shares.
func (l *Ledger) NewPayment(pending pendingdomain.PendingOrder, info *domain.OrderInfo, total decimal.Decimal, status domain.Status) *domain.Payment {
	p := &domain.Payment{
		ID:          l.NextID(),
		PayerID:     pending.PayerID,
		OrderID:     pending.OrderID,
		PaymentType: domain.PaymentType(pending.PaymentType),
		ReferenceID: pending.ReferenceID,
		OrderName:   pending.OrderName,
		TotalPrice:  domain.Round2(total),
		TotalFee:    decimal.Zero,
		Status:      status,
	}
	if info != nil {
		p.ExpertID = info.PayeeID
		if info.OrderName != "" {
			p.OrderName = info.OrderName
		}
	}
	return p
}

// Record inserts the payment and its line items. A duplicate on the
// successful (type, reference) index means the reference was already paid.
func (l *Ledger) Record(ctx context.Context, tx *gorm.DB, payment *domain.Payment, details ...domain.PaymentDetail) error {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = payment.PaymentDate
	}
	payment.UpdatedAt = payment.CreatedAt
	if err := l.repo.InsertPayment(ctx, tx, payment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyCompleted
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	for i := range details {
		details[i].ID = l.NextID()
		details[i].PaymentID = payment.ID
		details[i].CreatedAt = payment.CreatedAt
	}
	if err := l.repo.InsertDetails(ctx, tx, details); err != nil {
		return fmt.Errorf("insert payment details: %w", err)
	}
	return nil
}

// RecordManipulation stores an AMOUNT_MANIPULATED payment with its evidence.
func (l *Ledger) RecordManipulation(ctx context.Context, tx *gorm.DB, in domain.ManipulationInput, info *domain.OrderInfo) (*domain.Payment, error) {
	payment := l.NewPayment(in.Pending, info, in.Requested, domain.StatusAmountManipulated)
	payment.PaymentDate = in.DetectedAt
	if in.PaymentKey != "" {
		key := in.PaymentKey
		payment.PaymentKey = &key
	}
	if err := l.Record(ctx, tx, payment); err != nil {
		return nil, err
	}

	detail := &domain.PaymentManipulationDetail{
		ID:              l.NextID(),
		PaymentID:       payment.ID,
		OrderID:         in.Pending.OrderID,
		ExpectedAmount:  domain.Round2(in.Expected),
		RequestedAmount: domain.Round2(in.Requested),
		IPAddress:       in.IPAddress,
		UserAgent:       in.UserAgent,
		DetectedAt:      in.DetectedAt,
	}
	if err := l.repo.InsertManipulationDetail(ctx, tx, detail); err != nil {
		return nil, fmt.Errorf("insert manipulation detail: %w", err)
	}
	return payment, nil
}

// RecordFailure stores a FAILED payment for an abandoned or rejected checkout.
func (l *Ledger) RecordFailure(ctx context.Context, tx *gorm.DB, in domain.FailureInput, info *domain.OrderInfo) (*domain.Payment, error) {
	total := in.Pending.Amount
	if info != nil && total.IsZero() {
		total = info.Amount
	}
	payment := l.NewPayment(in.Pending, info, total, domain.StatusFailed)
	payment.PaymentDate = in.FailedAt
	if err := l.Record(ctx, tx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// EnsureNotPaid rejects a reference that already has a successful payment.
func (l *Ledger) EnsureNotPaid(ctx context.Context, tx *gorm.DB, t domain.PaymentType, referenceID snowflake.ID) error {
	_, err := l.repo.FindSuccessfulByReference(ctx, tx, t, referenceID)
	switch {
	case err == nil:
		return domain.ErrAlreadyCompleted
	case errors.Is(err, domain.ErrPaymentNotFound):
		return nil
	default:
		return err
	}
}

// CheckAmount compares a requested amount with the expected one at cent
// precision.
func CheckAmount(expected, requested decimal.Decimal) error {
	if !domain.Round2(expected).Equal(domain.Round2(requested)) {
		return &domain.AmountManipulationError{
			Expected:  domain.Round2(expected),
			Requested: domain.Round2(requested),
		}
	}
	return nil
}
