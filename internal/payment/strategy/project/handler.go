package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/clock"
	contractdomain "github.com/smallbiznis/expertly/internal/contract/domain"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/payment/strategy"
	pendingdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Contracts domain.ContractLookup
	Members   domain.MemberLookup
	Ledger    *strategy.Ledger
	Clock     clock.Clock
}

// Handler settles a fixed price contract between a client and an expert.
type Handler struct {
	contracts domain.ContractLookup
	members   domain.MemberLookup
	ledger    *strategy.Ledger
	clock     clock.Clock
}

func New(p Params) *Handler {
	return &Handler{
		contracts: p.Contracts,
		members:   p.Members,
		ledger:    p.Ledger,
		clock:     p.Clock,
	}
}

func (h *Handler) PaymentType() domain.PaymentType { return domain.PaymentTypeProject }

func (h *Handler) contract(ctx context.Context, db *gorm.DB, id snowflake.ID) (*contractdomain.Contract, error) {
	c, err := h.contracts.FindByID(ctx, db, id)
	if errors.Is(err, contractdomain.ErrNotFound) {
		return nil, domain.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the submitted amount against the contract price.
func (h *Handler) Validate(ctx context.Context, db *gorm.DB, in domain.ValidationInput) (decimal.Decimal, error) {
	c, err := h.contract(ctx, db, in.ReferenceID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Price, strategy.CheckAmount(c.Price, in.Requested)
}

func (h *Handler) ProvideAdditionalInfo(ctx context.Context, db *gorm.DB, referenceID snowflake.ID, _ int64) (*domain.OrderInfo, error) {
	c, err := h.contract(ctx, db, referenceID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case contractdomain.StatusCanceled:
		return nil, domain.ErrInvalidReference
	case contractdomain.StatusInProgress, contractdomain.StatusCompleted:
		return nil, domain.ErrAlreadyCompleted
	}
	if err := h.ledger.EnsureNotPaid(ctx, db, domain.PaymentTypeProject, c.ID); err != nil {
		return nil, err
	}

	attrs := map[string]any{
		"contractId": c.ID.String(),
		"title":      c.Title,
		"startDate":  c.StartDate.Format("2006-01-02"),
		"endDate":    c.EndDate.Format("2006-01-02"),
	}
	if client, err := h.members.FindByID(ctx, db, c.ClientID); err == nil {
		attrs["clientName"] = client.Name
	} else if !errors.Is(err, memberdomain.ErrNotFound) {
		return nil, err
	}
	if expert, err := h.members.FindByID(ctx, db, c.ExpertID); err == nil {
		attrs["expertName"] = expert.Name
	} else if !errors.Is(err, memberdomain.ErrNotFound) {
		return nil, err
	}

	return &domain.OrderInfo{
		OrderName:  c.Title,
		Amount:     c.Price,
		UnitPrice:  c.Price,
		Quantity:   1,
		PayeeID:    c.ExpertID,
		Attributes: attrs,
	}, nil
}

// ApplySideEffects claims the contract before the gateway is charged. The
// conditional update holds the row until commit, so a second checkout of
// the same contract finds it already started.
func (h *Handler) ApplySideEffects(ctx context.Context, tx *gorm.DB, pending pendingdomain.PendingOrder) error {
	moved, err := h.contracts.UpdateStatus(ctx, tx, pending.ReferenceID, contractdomain.StatusPendingPayment, contractdomain.StatusInProgress, h.clock.Now())
	if err != nil {
		return fmt.Errorf("start contract %s: %w", pending.ReferenceID, err)
	}
	if moved {
		return nil
	}

	c, err := h.contract(ctx, tx, pending.ReferenceID)
	if err != nil {
		return err
	}
	if c.Status == contractdomain.StatusCanceled {
		return domain.ErrInvalidReference
	}
	return domain.ErrAlreadyCompleted
}

func (h *Handler) SavePayment(ctx context.Context, tx *gorm.DB, in domain.SaveInput) (*domain.Payment, error) {
	c, err := h.contract(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}

	info := &domain.OrderInfo{OrderName: c.Title, PayeeID: c.ExpertID}
	payment := h.ledger.NewPayment(in.Pending, info, in.Amount, domain.StatusPaid)
	key := in.PaymentKey
	payment.PaymentKey = &key
	payment.ReferenceID = c.ID
	payment.TotalFee = domain.Round2(in.Fee)
	payment.PaymentDate = in.PaidAt

	detail := domain.PaymentDetail{
		Name:      c.Title,
		Quantity:  1,
		UnitPrice: c.Price,
		Amount:    payment.TotalPrice,
	}
	if err := h.ledger.Record(ctx, tx, payment, detail); err != nil {
		return nil, err
	}
	return payment, nil
}

func (h *Handler) SaveFailedPayment(ctx context.Context, tx *gorm.DB, in domain.FailureInput) (*domain.Payment, error) {
	c, err := h.contract(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}
	info := &domain.OrderInfo{OrderName: c.Title, Amount: c.Price, PayeeID: c.ExpertID}
	return h.ledger.RecordFailure(ctx, tx, in, info)
}

func (h *Handler) SaveManipulatedPayment(ctx context.Context, tx *gorm.DB, in domain.ManipulationInput) (*domain.Payment, error) {
	c, err := h.contract(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}
	info := &domain.OrderInfo{OrderName: c.Title, PayeeID: c.ExpertID}
	return h.ledger.RecordManipulation(ctx, tx, in, info)
}

// OnCanceled moves the contract back to canceled once nothing is left paid.
func (h *Handler) OnCanceled(ctx context.Context, tx *gorm.DB, payment *domain.Payment, plan domain.CancellationPlan) error {
	if !plan.Full {
		return nil
	}
	for _, from := range []contractdomain.Status{contractdomain.StatusInProgress, contractdomain.StatusPendingPayment} {
		ok, err := h.contracts.UpdateStatus(ctx, tx, payment.ReferenceID, from, contractdomain.StatusCanceled, payment.UpdatedAt)
		if err != nil {
			return fmt.Errorf("cancel contract %s: %w", payment.ReferenceID, err)
		}
		if ok {
			return nil
		}
	}
	return nil
}

var (
	_ domain.TypeHandler         = (*Handler)(nil)
	_ domain.CancellationHandler = (*Handler)(nil)
)
