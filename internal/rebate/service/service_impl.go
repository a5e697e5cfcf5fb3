package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/providers/pdf"
	"github.com/smallbiznis/expertly/internal/rebate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonPaymentNotFound = "payment_not_found"
	reasonPaymentChanged  = "payment_changed_since_snapshot"
	reasonFullyCanceled   = "payment_fully_canceled"

	maxFailureReason = 500
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeHeld
	outcomeFailed
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Payments   paymentdomain.Repository
	Members    memberdomain.Repository
	Settlement *config.SettlementConfigHolder
	PDF        pdf.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	payments   paymentdomain.Repository
	members    memberdomain.Repository
	settlement *config.SettlementConfigHolder
	pdf        pdf.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("rebate.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		payments:   p.Payments,
		members:    p.Members,
		settlement: p.Settlement,
		pdf:        p.PDF,
		obsMetrics: p.ObsMetrics,
	}
}

// CreateRebateDataForPeriod snapshots every eligible payment in [start, end)
// into a PENDING rebate. Payments that already have a rebate are skipped, so
// reruns over the same window write nothing.
func (s *Service) CreateRebateDataForPeriod(ctx context.Context, start, end time.Time, periodLabel string) (*domain.CreateResult, error) {
	if _, _, err := domain.ParsePeriod(periodLabel, time.UTC); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: empty window", domain.ErrInvalidPeriod)
	}

	payments, err := s.repo.ListEligiblePayments(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}

	result := &domain.CreateResult{
		PeriodLabel: periodLabel,
		Start:       start,
		End:         end,
		Eligible:    len(payments),
	}
	if len(payments) == 0 {
		return result, nil
	}

	cfg := s.settlement.Get()
	rate := cfg.Rate()
	now := s.clock.Now()

	rebates := make([]domain.Rebate, 0, len(payments))
	for i := range payments {
		payment := &payments[i]
		remaining := payment.RemainingAmount()
		fee, rebate := domain.Split(remaining, rate)
		rebates = append(rebates, domain.Rebate{
			ID:             s.genID.Generate(),
			PaymentID:      payment.ID,
			ExpertID:       payment.ExpertID,
			PeriodLabel:    periodLabel,
			OriginalAmount: payment.TotalPrice,
			CanceledAmount: payment.TotalPrice.Sub(remaining),
			FeeRate:        rate,
			FeeAmount:      fee,
			RebateAmount:   rebate,
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(rebates); i += cfg.BatchSize {
			j := min(i+cfg.BatchSize, len(rebates))
			created, err := s.repo.InsertIgnoreExisting(ctx, tx, rebates[i:j])
			if err != nil {
				return err
			}
			result.Created += created
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRebateTransition(ctx, string(domain.StatusPending), int(result.Created))
	s.log.Info("rebate data created",
		zap.String("period_label", periodLabel),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("eligible", result.Eligible),
		zap.Int64("created", result.Created),
	)
	return result, nil
}

func (s *Service) CreateForYearMonth(ctx context.Context, yearMonth string) (*domain.CreateResult, error) {
	start, end, err := domain.ParsePeriod(yearMonth, s.settlement.Get().Location())
	if err != nil {
		return nil, err
	}
	return s.CreateRebateDataForPeriod(ctx, start, end, yearMonth)
}

func (s *Service) CreateForPreviousDay(ctx context.Context) (*domain.CreateResult, error) {
	now := s.clock.Now().In(s.settlement.Get().Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.CreateRebateDataForPeriod(ctx, today.AddDate(0, 0, -1), today, domain.PeriodLabel(now))
}

// ProcessRebates advances each PENDING rebate in its own transaction. A row
// that errors is marked FAILED and the batch moves on.
func (s *Service) ProcessRebates(ctx context.Context, rebates []domain.Rebate) (*domain.ProcessResult, error) {
	result := &domain.ProcessResult{Total: len(rebates)}
	var errs []error

	for _, rebate := range rebates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		log := s.log.With(
			zap.String("rebate_id", rebate.ID.String()),
			zap.String("payment_id", rebate.PaymentID.String()),
		)

		got, err := s.processOne(ctx, rebate.ID)
		if err != nil {
			log.Error("rebate processing failed", zap.Error(err))
			got, err = s.markFailed(ctx, rebate.ID, err.Error())
			if err != nil {
				log.Error("failed to mark rebate as failed", zap.Error(err))
				errs = append(errs, fmt.Errorf("rebate %s: %w", rebate.ID, err))
				continue
			}
		}

		switch got {
		case outcomeCompleted:
			result.Completed++
		case outcomeHeld:
			result.Held++
		case outcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	s.obsMetrics.RecordRebateTransition(ctx, string(domain.StatusCompleted), result.Completed)
	s.obsMetrics.RecordRebateTransition(ctx, string(domain.StatusHeld), result.Held)
	s.obsMetrics.RecordRebateTransition(ctx, string(domain.StatusFailed), result.Failed)

	return result, errors.Join(errs...)
}

func (s *Service) processOne(ctx context.Context, id snowflake.ID) (outcome, error) {
	var got outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rebate, err := s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if rebate.Status != domain.StatusPending {
			got = outcomeSkipped
			return nil
		}

		to, reason, err := s.decide(ctx, tx, rebate)
		if err != nil {
			return err
		}

		moved, err := s.repo.Transition(ctx, tx, rebate.ID, domain.StatusPending, to, reason, s.clock.Now())
		if err != nil {
			return err
		}
		if !moved {
			got = outcomeSkipped
			return nil
		}
		switch to {
		case domain.StatusCompleted:
			got = outcomeCompleted
		case domain.StatusHeld:
			got = outcomeHeld
		default:
			got = outcomeFailed
		}
		return nil
	})
	return got, err
}

// decide picks the terminal status for a pending rebate from the current
// state of its payment and expert.
func (s *Service) decide(ctx context.Context, tx *gorm.DB, rebate *domain.Rebate) (domain.Status, *string, error) {
	payment, err := s.payments.FindByID(ctx, tx, rebate.PaymentID, false)
	if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		return domain.StatusFailed, reasonPtr(reasonPaymentNotFound), nil
	}
	if err != nil {
		return "", nil, err
	}

	if payment.Status == paymentdomain.StatusFullyCanceled {
		return domain.StatusHeld, reasonPtr(reasonFullyCanceled), nil
	}
	if !payment.RemainingAmount().Equal(rebate.RemainingAmount()) {
		return domain.StatusHeld, reasonPtr(reasonPaymentChanged), nil
	}

	if _, err := s.members.FindByID(ctx, tx, rebate.ExpertID); err != nil {
		if errors.Is(err, memberdomain.ErrNotFound) {
			return domain.StatusFailed, reasonPtr(domain.ErrExpertNotFound.Error()), nil
		}
		return "", nil, err
	}
	return domain.StatusCompleted, nil, nil
}

// markFailed runs outside the row transaction, which has already rolled back.
func (s *Service) markFailed(ctx context.Context, id snowflake.ID, reason string) (outcome, error) {
	reason = truncateRunes(reason, maxFailureReason)
	moved, err := s.repo.Transition(context.WithoutCancel(ctx), s.db, id, domain.StatusPending, domain.StatusFailed, &reason, s.clock.Now())
	if err != nil {
		return outcomeSkipped, err
	}
	if !moved {
		return outcomeSkipped, nil
	}
	return outcomeFailed, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (s *Service) ProcessForYearMonth(ctx context.Context, yearMonth string) (*domain.ProcessResult, error) {
	if _, _, err := domain.ParsePeriod(yearMonth, time.UTC); err != nil {
		return nil, err
	}

	batchSize := s.settlement.Get().BatchSize
	total := &domain.ProcessResult{PeriodLabel: yearMonth}
	var errs []error
	var afterID snowflake.ID

	for {
		batch, err := s.repo.ListByPeriodAndStatus(ctx, s.db, yearMonth, domain.StatusPending, afterID, batchSize)
		if err != nil {
			return total, errors.Join(append(errs, err)...)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		result, err := s.ProcessRebates(ctx, batch)
		if err != nil {
			errs = append(errs, err)
		}
		total.Total += result.Total
		total.Completed += result.Completed
		total.Held += result.Held
		total.Failed += result.Failed
		total.Skipped += result.Skipped

		if ctx.Err() != nil {
			break
		}
	}

	s.log.Info("rebates processed",
		zap.String("period_label", yearMonth),
		zap.Int("total", total.Total),
		zap.Int("completed", total.Completed),
		zap.Int("held", total.Held),
		zap.Int("failed", total.Failed),
		zap.Int("skipped", total.Skipped),
	)
	return total, errors.Join(errs...)
}

func (s *Service) ProcessPreviousMonth(ctx context.Context) (*domain.ProcessResult, error) {
	now := s.clock.Now().In(s.settlement.Get().Location())
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return s.ProcessForYearMonth(ctx, domain.PeriodLabel(firstOfMonth.AddDate(0, -1, 0)))
}

// Verify recomputes every rebate of the period from its payment and lists
// eligible payments that never got one. It only reads.
func (s *Service) Verify(ctx context.Context, yearMonth string) (*domain.VerificationReport, error) {
	cfg := s.settlement.Get()
	start, end, err := domain.ParsePeriod(yearMonth, cfg.Location())
	if err != nil {
		return nil, err
	}

	report := &domain.VerificationReport{
		PeriodLabel:    yearMonth,
		TotalRebate:    decimal.Zero,
		ExpectedRebate: decimal.Zero,
		TotalFee:       decimal.Zero,
		ExpectedFee:    decimal.Zero,
		Discrepancies:  []domain.Discrepancy{},
		VerifiedAt:     s.clock.Now(),
	}

	rebates, err := s.repo.ListByPeriod(ctx, s.db, yearMonth)
	if err != nil {
		return nil, err
	}
	for i := range rebates {
		if err := s.verifyRebate(ctx, report, &rebates[i]); err != nil {
			return nil, err
		}
	}
	report.CheckedRebates = len(rebates)

	missing, err := s.repo.ListEligiblePayments(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}
	for i := range missing {
		payment := &missing[i]
		fee, rebate := domain.Split(payment.RemainingAmount(), cfg.Rate())
		report.ExpectedFee = report.ExpectedFee.Add(fee)
		report.ExpectedRebate = report.ExpectedRebate.Add(rebate)
		report.Add(domain.Discrepancy{
			Type:      domain.DiscrepancyMissingRebate,
			Severity:  domain.SeverityWarning,
			PaymentID: payment.ID.String(),
			Expected:  rebate,
			Actual:    decimal.Zero,
			Message:   "eligible payment has no rebate",
		})
	}
	report.CheckedPayments = len(rebates) + len(missing)

	s.log.Info("rebate verification finished",
		zap.String("period_label", yearMonth),
		zap.Int("checked_rebates", report.CheckedRebates),
		zap.Int("critical", report.CriticalCount),
		zap.Int("warning", report.WarningCount),
	)
	return report, nil
}

func (s *Service) verifyRebate(ctx context.Context, report *domain.VerificationReport, rebate *domain.Rebate) error {
	report.TotalFee = report.TotalFee.Add(rebate.FeeAmount)
	report.TotalRebate = report.TotalRebate.Add(rebate.RebateAmount)

	payment, err := s.payments.FindByID(ctx, s.db, rebate.PaymentID, false)
	if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		report.Add(domain.Discrepancy{
			Type:      domain.DiscrepancyAmountDrift,
			Severity:  domain.SeverityCritical,
			PaymentID: rebate.PaymentID.String(),
			RebateID:  rebate.ID.String(),
			Expected:  decimal.Zero,
			Actual:    rebate.RemainingAmount(),
			Message:   "linked payment not found",
		})
		return nil
	}
	if err != nil {
		return err
	}

	remaining := payment.RemainingAmount()
	fee, expected := domain.Split(remaining, rebate.FeeRate)
	report.ExpectedFee = report.ExpectedFee.Add(fee)
	report.ExpectedRebate = report.ExpectedRebate.Add(expected)

	if !rebate.OriginalAmount.Equal(payment.TotalPrice) || !rebate.RemainingAmount().Equal(remaining) {
		severity := domain.SeverityWarning
		if rebate.Status == domain.StatusCompleted {
			severity = domain.SeverityCritical
		}
		report.Add(domain.Discrepancy{
			Type:      domain.DiscrepancyAmountDrift,
			Severity:  severity,
			PaymentID: payment.ID.String(),
			RebateID:  rebate.ID.String(),
			Expected:  remaining,
			Actual:    rebate.RemainingAmount(),
			Message:   fmt.Sprintf("payment is %s with %s remaining", payment.Status, remaining.StringFixed(2)),
		})
		return nil
	}

	if !rebate.FeeAmount.Equal(fee) {
		report.Add(domain.Discrepancy{
			Type:      domain.DiscrepancyFeeMismatch,
			Severity:  domain.SeverityCritical,
			PaymentID: payment.ID.String(),
			RebateID:  rebate.ID.String(),
			Expected:  fee,
			Actual:    rebate.FeeAmount,
			Message:   "fee does not match remaining amount at the stored rate",
		})
	}
	if !rebate.RebateAmount.Equal(expected) {
		report.Add(domain.Discrepancy{
			Type:      domain.DiscrepancyRebateMismatch,
			Severity:  domain.SeverityCritical,
			PaymentID: payment.ID.String(),
			RebateID:  rebate.ID.String(),
			Expected:  expected,
			Actual:    rebate.RebateAmount,
			Message:   "rebate does not equal remaining amount minus fee",
		})
	}
	return nil
}

// Statement renders the expert's payout statement for a period as a PDF.
func (s *Service) Statement(ctx context.Context, expertID snowflake.ID, yearMonth string) (*domain.Statement, error) {
	if _, _, err := domain.ParsePeriod(yearMonth, time.UTC); err != nil {
		return nil, err
	}
	expert, err := s.members.FindByID(ctx, s.db, expertID)
	if errors.Is(err, memberdomain.ErrNotFound) {
		return nil, domain.ErrExpertNotFound
	}
	if err != nil {
		return nil, err
	}

	rebates, err := s.repo.ListByExpertAndPeriod(ctx, s.db, expertID, yearMonth)
	if err != nil {
		return nil, err
	}

	data := pdf.StatementData{
		PlatformName: "Expertly",
		ExpertName:   expert.Name,
		ExpertEmail:  expert.Email,
		PeriodLabel:  yearMonth,
		IssuedAt:     s.clock.Now().Format("2006-01-02"),
		Lines:        make([]pdf.StatementLine, 0, len(rebates)),
	}
	var original, canceled, fee, payout decimal.Decimal
	for _, rebate := range rebates {
		data.Lines = append(data.Lines, pdf.StatementLine{
			PaymentID: rebate.PaymentID.String(),
			Status:    string(rebate.Status),
			Original:  rebate.OriginalAmount.StringFixed(2),
			Canceled:  rebate.CanceledAmount.StringFixed(2),
			Fee:       rebate.FeeAmount.StringFixed(2),
			Rebate:    rebate.RebateAmount.StringFixed(2),
		})
		original = original.Add(rebate.OriginalAmount)
		canceled = canceled.Add(rebate.CanceledAmount)
		fee = fee.Add(rebate.FeeAmount)
		if rebate.Status == domain.StatusCompleted || rebate.Status == domain.StatusPending {
			payout = payout.Add(rebate.RebateAmount)
		}
	}
	data.TotalOriginal = original.StringFixed(2)
	data.TotalCanceled = canceled.StringFixed(2)
	data.TotalFee = fee.StringFixed(2)
	data.TotalRebate = payout.StringFixed(2)

	content, err := s.pdf.GenerateRebateStatement(ctx, data)
	if err != nil {
		return nil, err
	}
	return &domain.Statement{
		FileName: slug.Make(fmt.Sprintf("rebate statement %s %s", expert.Name, yearMonth)) + ".pdf",
		Content:  content,
	}, nil
}

func reasonPtr(reason string) *string {
	return &reason
}
