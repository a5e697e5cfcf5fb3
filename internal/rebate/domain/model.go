package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusHeld      Status = "HELD"
)

// Rebate is the payout owed to an expert for one payment, net of the
// platform fee, batched by settlement period.
type Rebate struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentID      snowflake.ID    `json:"payment_id" gorm:"not null;uniqueIndex:ux_rebates_payment_id"`
	ExpertID       snowflake.ID    `json:"expert_id" gorm:"not null;index"`
	PeriodLabel    string          `json:"period_label" gorm:"type:varchar(7);not null;index"`
	OriginalAmount decimal.Decimal `json:"original_amount" gorm:"type:numeric(18,2);not null"`
	CanceledAmount decimal.Decimal `json:"canceled_amount" gorm:"type:numeric(18,2);not null"`
	FeeRate        decimal.Decimal `json:"fee_rate" gorm:"type:numeric(6,4);not null"`
	FeeAmount      decimal.Decimal `json:"fee_amount" gorm:"type:numeric(18,2);not null"`
	RebateAmount   decimal.Decimal `json:"rebate_amount" gorm:"type:numeric(18,2);not null"`
	Status         Status          `json:"status" gorm:"type:varchar(20);not null;index"`
	FailureReason  *string         `json:"failure_reason,omitempty" gorm:"type:varchar(500)"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (Rebate) TableName() string { return "rebates" }

// RemainingAmount is the payment amount the rebate was computed from.
func (r *Rebate) RemainingAmount() decimal.Decimal {
	return r.OriginalAmount.Sub(r.CanceledAmount)
}

// Split divides a remaining payment amount into the platform fee and the
// expert's rebate. The two always sum to remaining.
func Split(remaining, feeRate decimal.Decimal) (fee, rebate decimal.Decimal) {
	fee = remaining.Mul(feeRate).Round(2)
	return fee, remaining.Sub(fee)
}
