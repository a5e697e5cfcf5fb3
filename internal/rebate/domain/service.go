package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateRebateDataForPeriod(ctx context.Context, start, end time.Time, periodLabel string) (*CreateResult, error)
	CreateForYearMonth(ctx context.Context, yearMonth string) (*CreateResult, error)
	// CreateForPreviousDay covers yesterday and labels the rows with the
	// current month.
	CreateForPreviousDay(ctx context.Context) (*CreateResult, error)

	ProcessRebates(ctx context.Context, rebates []Rebate) (*ProcessResult, error)
	ProcessForYearMonth(ctx context.Context, yearMonth string) (*ProcessResult, error)
	ProcessPreviousMonth(ctx context.Context) (*ProcessResult, error)

	Verify(ctx context.Context, yearMonth string) (*VerificationReport, error)
	Statement(ctx context.Context, expertID snowflake.ID, yearMonth string) (*Statement, error)
}

type CreateResult struct {
	PeriodLabel string    `json:"periodLabel"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Eligible    int       `json:"eligible"`
	Created     int64     `json:"created"`
}

type ProcessResult struct {
	PeriodLabel string `json:"periodLabel,omitempty"`
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Held        int    `json:"held"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
}

type DiscrepancyType string

const (
	DiscrepancyAmountDrift    DiscrepancyType = "AMOUNT_DRIFT"
	DiscrepancyFeeMismatch    DiscrepancyType = "FEE_MISMATCH"
	DiscrepancyRebateMismatch DiscrepancyType = "REBATE_MISMATCH"
	DiscrepancyMissingRebate  DiscrepancyType = "MISSING_REBATE"
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Discrepancy struct {
	Type      DiscrepancyType `json:"type"`
	Severity  Severity        `json:"severity"`
	PaymentID string          `json:"paymentId"`
	RebateID  string          `json:"rebateId,omitempty"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
	Message   string          `json:"message"`
}

// VerificationReport compares stored rebates with what the ledger says they
// should be.
type VerificationReport struct {
	PeriodLabel     string          `json:"periodLabel"`
	CheckedRebates  int             `json:"checkedRebates"`
	CheckedPayments int             `json:"checkedPayments"`
	TotalRebate     decimal.Decimal `json:"totalRebate"`
	ExpectedRebate  decimal.Decimal `json:"expectedRebate"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	ExpectedFee     decimal.Decimal `json:"expectedFee"`
	Discrepancies   []Discrepancy   `json:"discrepancies"`
	CriticalCount   int             `json:"criticalCount"`
	WarningCount    int             `json:"warningCount"`
	VerifiedAt      time.Time       `json:"verifiedAt"`
}

// Add records a discrepancy and bumps the severity counters.
func (r *VerificationReport) Add(d Discrepancy) {
	r.Discrepancies = append(r.Discrepancies, d)
	if d.Severity == SeverityCritical {
		r.CriticalCount++
		return
	}
	r.WarningCount++
}

// Clean reports whether no discrepancy was found.
func (r *VerificationReport) Clean() bool {
	return len(r.Discrepancies) == 0
}

type Statement struct {
	FileName string
	Content  []byte
}
