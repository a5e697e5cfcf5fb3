package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round2 rounds money to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (p *Payment) canceledTotal() decimal.Decimal {
	if p.CanceledAmount.Valid {
		return p.CanceledAmount.Decimal
	}
	return decimal.Zero
}

// RemainingAmount is the total price minus everything canceled so far.
func (p *Payment) RemainingAmount() decimal.Decimal {
	return p.TotalPrice.Sub(p.canceledTotal())
}

func (p *Payment) IsSuccessful() bool {
	switch p.Status {
	case StatusPaid, StatusPartiallyCanceled, StatusFullyCanceled:
		return true
	default:
		return false
	}
}

// CancellationPlan is a validated cancel request against one payment.
type CancellationPlan struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Full      bool
}

// PlanCancellation checks a cancel request. A nil amount cancels what is
// left. An amount equal to the remaining amount is a full cancellation.
func (p *Payment) PlanCancellation(amount *decimal.Decimal) (CancellationPlan, error) {
	if !p.IsSuccessful() {
		return CancellationPlan{}, ErrPaymentNotFound
	}
	if p.Status == StatusFullyCanceled {
		return CancellationPlan{}, ErrAlreadyCanceled
	}

	remaining := p.RemainingAmount()
	if !remaining.IsPositive() {
		return CancellationPlan{}, ErrAlreadyCanceled
	}

	target := remaining
	if amount != nil {
		target = Round2(*amount)
	}
	if !target.IsPositive() || target.GreaterThan(remaining) {
		return CancellationPlan{}, ErrInvalidCancelAmount
	}

	return CancellationPlan{
		Amount:    target,
		Remaining: remaining.Sub(target),
		Full:      target.Equal(remaining),
	}, nil
}

// ApplyCancellation accumulates the plan into the payment and moves its
// status. The caller persists the result with the previous version.
func (p *Payment) ApplyCancellation(plan CancellationPlan, at time.Time) {
	canceled := p.canceledTotal().Add(plan.Amount)
	p.CanceledAmount = decimal.NewNullDecimal(canceled)
	if plan.Full || !p.RemainingAmount().IsPositive() {
		p.Status = StatusFullyCanceled
	} else {
		p.Status = StatusPartiallyCanceled
	}
	p.Version++
	p.UpdatedAt = at
}
