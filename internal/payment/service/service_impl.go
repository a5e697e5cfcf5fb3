package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/lock"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/payment/registry"
	pendingdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const cancelLockTTL = time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Registry   *registry.Registry
	Pending    pendingdomain.Store
	Gateway    paymentdomain.Gateway
	Members    paymentdomain.MemberLookup
	Locker     *lock.Locker
	Settlement *config.SettlementConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	registry   *registry.Registry
	pending    pendingdomain.Store
	gateway    paymentdomain.Gateway
	members    paymentdomain.MemberLookup
	locker     *lock.Locker
	settlement *config.SettlementConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		registry:   p.Registry,
		pending:    p.Pending,
		gateway:    p.Gateway,
		members:    p.Members,
		locker:     p.Locker,
		settlement: p.Settlement,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.CreateOrderResponse, error) {
	paymentType, err := s.registry.Resolve(strings.ToUpper(strings.TrimSpace(req.PaymentType)))
	if err != nil {
		return nil, err
	}
	if req.ReferenceID == 0 {
		return nil, paymentdomain.ErrInvalidReference
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return nil, paymentdomain.ErrInvalidQuantity
	}

	payer, err := s.members.FindByID(ctx, s.db, req.PayerID)
	if errors.Is(err, memberdomain.ErrNotFound) {
		return nil, paymentdomain.ErrMemberNotFound
	}
	if err != nil {
		return nil, processing(err)
	}

	provider, err := s.registry.InfoProvider(paymentType)
	if err != nil {
		return nil, err
	}
	info, err := provider.ProvideAdditionalInfo(ctx, s.db, req.ReferenceID, quantity)
	if err != nil {
		return nil, processing(err)
	}
	if info.Quantity > 0 {
		quantity = info.Quantity
	}

	order := pendingdomain.PendingOrder{
		OrderID:     ulid.Make().String(),
		PaymentType: string(paymentType),
		ReferenceID: req.ReferenceID,
		Quantity:    quantity,
		PayerID:     payer.ID,
		Amount:      info.Amount,
		OrderName:   info.OrderName,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.pending.Put(ctx, order, s.settlement.Get().PendingOrderTTL); err != nil {
		return nil, processing(err)
	}

	s.log.Info("pending order created",
		zap.String("order_id", order.OrderID),
		zap.String("payment_type", order.PaymentType),
		zap.String("reference_id", order.ReferenceID.String()),
		zap.Int64("quantity", quantity),
	)

	return &paymentdomain.CreateOrderResponse{
		OrderID:     order.OrderID,
		CustomerKey: payer.CustomerKey,
		Amount:      info.Amount,
		OrderName:   info.OrderName,
		Info:        info.Attributes,
	}, nil
}

// Confirm settles a checkout the gateway redirected back as successful.
// The pending order is consumed only after the ledger commit, so a replayed
// redirect finds nothing and fails with ErrOrderNotFound.
func (s *Service) Confirm(ctx context.Context, req paymentdomain.ConfirmRequest) (*paymentdomain.PaymentResponse, error) {
	paymentKey := strings.TrimSpace(req.PaymentKey)
	if paymentKey == "" {
		return nil, paymentdomain.ErrInvalidPaymentKey
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}

	pending, err := s.loadPending(ctx, orderID)
	if err != nil {
		return nil, err
	}
	paymentType, err := s.registry.Resolve(pending.PaymentType)
	if err != nil {
		return nil, err
	}
	validator, err := s.registry.Validator(paymentType)
	if err != nil {
		return nil, err
	}
	saver, err := s.registry.Saver(paymentType)
	if err != nil {
		return nil, err
	}

	log := s.log.With(
		zap.String("order_id", orderID),
		zap.String("payment_type", pending.PaymentType),
		zap.String("reference_id", pending.ReferenceID.String()),
	)

	expected, err := validator.Validate(ctx, s.db, paymentdomain.ValidationInput{
		OrderID:     orderID,
		ReferenceID: pending.ReferenceID,
		Quantity:    pending.Quantity,
		Requested:   req.Amount,
	})
	if err != nil {
		var manipulation *paymentdomain.AmountManipulationError
		if errors.As(err, &manipulation) {
			s.fillClientInfo(ctx, req, manipulation)
			s.recordManipulation(ctx, log, saver, *pending, paymentKey, manipulation)
			return nil, manipulation
		}
		return nil, processing(err)
	}

	now := s.clock.Now()
	fee := paymentdomain.Round2(expected.Mul(s.settlement.Get().Rate()))

	var payment *paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saver.ApplySideEffects(ctx, tx, *pending); err != nil {
			return err
		}

		result, err := s.gateway.Confirm(ctx, paymentdomain.GatewayConfirmRequest{
			PaymentKey: paymentKey,
			OrderID:    orderID,
			Amount:     expected,
		})
		if err != nil {
			return err
		}

		payment, err = saver.SavePayment(ctx, tx, paymentdomain.SaveInput{
			Pending:    *pending,
			PaymentKey: paymentKey,
			Amount:     expected,
			Fee:        fee,
			PaidAt:     now,
		})
		if err != nil {
			log.Error("gateway confirmed but ledger write failed",
				zap.String("payment_key", paymentKey),
				zap.Error(err),
			)
			return err
		}
		return s.writeMetadata(ctx, tx, payment.ID, paymentdomain.MetadataTypePayment, result.Raw, now)
	})
	if err != nil {
		s.obsMetrics.RecordPaymentOutcome(ctx, pending.PaymentType, "error")
		return nil, processing(err)
	}

	if err := s.pending.Delete(ctx, orderID); err != nil {
		log.Warn("pending order cleanup failed", zap.Error(err))
	}

	s.obsMetrics.RecordPaymentOutcome(ctx, pending.PaymentType, string(payment.Status))
	log.Info("payment confirmed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("amount", payment.TotalPrice.StringFixed(2)),
	)
	return toResponse(payment), nil
}

func (s *Service) fillClientInfo(ctx context.Context, req paymentdomain.ConfirmRequest, e *paymentdomain.AmountManipulationError) {
	client := obscontext.ClientInfoFromContext(ctx)
	e.IPAddress = strings.TrimSpace(req.IPAddress)
	if e.IPAddress == "" {
		e.IPAddress = client.IPAddress
	}
	e.UserAgent = strings.TrimSpace(req.UserAgent)
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}
}

// recordManipulation commits the evidence in its own transaction on the root
// handle. It outlives cancellation of the request context.
func (s *Service) recordManipulation(
	ctx context.Context,
	log *zap.Logger,
	saver paymentdomain.PaymentSaver,
	pending pendingdomain.PendingOrder,
	paymentKey string,
	e *paymentdomain.AmountManipulationError,
) {
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := saver.SaveManipulatedPayment(ctx, tx, paymentdomain.ManipulationInput{
			Pending:    pending,
			PaymentKey: paymentKey,
			Expected:   e.Expected,
			Requested:  e.Requested,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			DetectedAt: now,
		})
		if err != nil {
			return err
		}
		return s.writeMetadata(ctx, tx, payment.ID, paymentdomain.MetadataTypeViolated, map[string]any{
			"orderId":   pending.OrderID,
			"expected":  e.Expected.StringFixed(2),
			"requested": e.Requested.StringFixed(2),
			"ipAddress": e.IPAddress,
			"userAgent": e.UserAgent,
		}, now)
	})

	s.obsMetrics.RecordManipulation(ctx, pending.PaymentType)
	if err != nil {
		log.Error("failed to persist amount manipulation evidence", zap.Error(err))
		return
	}
	log.Warn("amount manipulation detected",
		zap.String("expected", e.Expected.StringFixed(2)),
		zap.String("requested", e.Requested.StringFixed(2)),
		zap.String("ip_address", e.IPAddress),
	)
}

// RecordFailure stores a FAILED payment for a gateway failure redirect. The
// pending order is removed whatever happens to the write.
func (s *Service) RecordFailure(ctx context.Context, req paymentdomain.FailureRequest) error {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return paymentdomain.ErrInvalidOrderID
	}
	pending, err := s.loadPending(ctx, orderID)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.pending.Delete(context.WithoutCancel(ctx), orderID); err != nil {
			s.log.Warn("pending order cleanup failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	paymentType, err := s.registry.Resolve(pending.PaymentType)
	if err != nil {
		return err
	}
	saver, err := s.registry.Saver(paymentType)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := saver.SaveFailedPayment(ctx, tx, paymentdomain.FailureInput{
			Pending:  *pending,
			Code:     strings.TrimSpace(req.Code),
			Message:  strings.TrimSpace(req.Message),
			FailedAt: now,
		})
		if err != nil {
			return err
		}
		return s.writeMetadata(ctx, tx, payment.ID, paymentdomain.MetadataTypeFailed, map[string]any{
			"code":    strings.TrimSpace(req.Code),
			"message": strings.TrimSpace(req.Message),
		}, now)
	})
	if err != nil {
		return processing(err)
	}

	s.obsMetrics.RecordPaymentOutcome(ctx, pending.PaymentType, string(paymentdomain.StatusFailed))
	s.log.Info("payment failure recorded",
		zap.String("order_id", orderID),
		zap.String("payment_type", pending.PaymentType),
		zap.String("code", req.Code),
	)
	return nil
}

func (s *Service) Cancel(ctx context.Context, req paymentdomain.CancelRequest) (*paymentdomain.PaymentResponse, error) {
	paymentType, ok := paymentdomain.ParsePaymentType(strings.ToUpper(strings.TrimSpace(req.PaymentType)))
	if !ok {
		return nil, paymentdomain.ErrUnsupportedPaymentType
	}
	if req.ReferenceID == 0 {
		return nil, paymentdomain.ErrInvalidReference
	}
	payment, err := s.repo.FindSuccessfulByReference(ctx, s.db, paymentType, req.ReferenceID)
	if err != nil {
		return nil, processing(err)
	}
	return s.cancel(ctx, payment, req.Reason, req.Amount)
}

func (s *Service) CancelByOrderID(ctx context.Context, req paymentdomain.CancelByOrderRequest) (*paymentdomain.PaymentResponse, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	payment, err := s.repo.FindSuccessfulByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, processing(err)
	}
	if !req.AnyPayer && payment.PayerID != req.RequestedBy {
		return nil, paymentdomain.ErrPaymentNotOwned
	}
	return s.cancel(ctx, payment, req.Reason, req.Amount)
}

// cancel serializes on a per payment lock, calls the gateway, then applies
// the cancellation under a row lock guarded by the version column.
func (s *Service) cancel(ctx context.Context, payment *paymentdomain.Payment, reason string, amount *decimal.Decimal) (*paymentdomain.PaymentResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, paymentdomain.ErrInvalidCancelReason
	}

	log := s.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_type", string(payment.PaymentType)),
	)

	var updated *paymentdomain.Payment
	err := s.locker.WithLock(ctx, cancelLockKey(payment.ID), cancelLockTTL, func(ctx context.Context) error {
		current, err := s.repo.FindByID(ctx, s.db, payment.ID, false)
		if err != nil {
			return err
		}
		plan, err := current.PlanCancellation(amount)
		if err != nil {
			return err
		}
		if current.PaymentKey == nil || *current.PaymentKey == "" {
			return fmt.Errorf("payment %s has no gateway key", current.ID)
		}

		gatewayReq := paymentdomain.GatewayCancelRequest{Reason: reason}
		if !plan.Full {
			partial := plan.Amount
			gatewayReq.Amount = &partial
		}
		result, err := s.gateway.Cancel(ctx, *current.PaymentKey, gatewayReq)
		if err != nil {
			if errors.Is(err, paymentdomain.ErrGatewayCancellationFailed) {
				return err
			}
			return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayCancellationFailed, err)
		}

		now := s.clock.Now()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.repo.FindByID(ctx, tx, current.ID, true)
			if err != nil {
				return err
			}
			if locked.Version != current.Version {
				return paymentdomain.ErrConcurrentModification
			}

			expectedVersion := locked.Version
			locked.ApplyCancellation(plan, now)
			ok, err := s.repo.UpdateCancellation(ctx, tx, locked, expectedVersion)
			if err != nil {
				return err
			}
			if !ok {
				return paymentdomain.ErrConcurrentModification
			}

			if err := s.repo.InsertCancellationDetail(ctx, tx, &paymentdomain.PaymentCancellationDetail{
				ID:             s.genID.Generate(),
				PaymentID:      locked.ID,
				Amount:         plan.Amount,
				RemainingAfter: locked.RemainingAmount(),
				Reason:         reason,
				IsFull:         locked.Status == paymentdomain.StatusFullyCanceled,
				TransactionKey: result.TransactionKey,
				CanceledAt:     now,
			}); err != nil {
				return err
			}
			if err := s.writeMetadata(ctx, tx, locked.ID, paymentdomain.MetadataTypeCancellation, result.Raw, now); err != nil {
				return err
			}
			if hook := s.registry.CancellationHook(locked.PaymentType); hook != nil {
				if err := hook.OnCanceled(ctx, tx, locked, plan); err != nil {
					return err
				}
			}
			updated = locked
			return nil
		})
		if err != nil {
			log.Error("gateway canceled but ledger write failed",
				zap.String("payment_key", *current.PaymentKey),
				zap.String("transaction_key", result.TransactionKey),
				zap.String("cancel_amount", plan.Amount.StringFixed(2)),
				zap.Bool("full", plan.Full),
				zap.Error(err),
			)
		}
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, paymentdomain.ErrCancellationInProgress
	}
	if err != nil {
		if errors.Is(err, paymentdomain.ErrGatewayCancellationFailed) {
			log.Warn("gateway cancellation failed", zap.Error(err))
		}
		return nil, processing(err)
	}

	full := updated.Status == paymentdomain.StatusFullyCanceled
	s.obsMetrics.RecordCancellation(ctx, string(updated.PaymentType), full)
	log.Info("payment canceled",
		zap.String("status", string(updated.Status)),
		zap.String("remaining", updated.RemainingAmount().StringFixed(2)),
	)
	return toResponse(updated), nil
}

func (s *Service) GetByReference(ctx context.Context, paymentType string, referenceID snowflake.ID) (*paymentdomain.PaymentResponse, error) {
	t, ok := paymentdomain.ParsePaymentType(strings.ToUpper(strings.TrimSpace(paymentType)))
	if !ok {
		return nil, paymentdomain.ErrUnsupportedPaymentType
	}
	if referenceID == 0 {
		return nil, paymentdomain.ErrInvalidReference
	}
	payment, err := s.repo.FindSuccessfulByReference(ctx, s.db, t, referenceID)
	if err != nil {
		return nil, processing(err)
	}
	return toResponse(payment), nil
}

func (s *Service) loadPending(ctx context.Context, orderID string) (*pendingdomain.PendingOrder, error) {
	pending, err := s.pending.Get(ctx, orderID)
	if errors.Is(err, pendingdomain.ErrNotFound) {
		return nil, paymentdomain.ErrOrderNotFound
	}
	if err != nil {
		return nil, processing(err)
	}
	return pending, nil
}

func (s *Service) writeMetadata(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, metadataType paymentdomain.MetadataType, payload any, at time.Time) error {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = encoded
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return s.repo.InsertMetadata(ctx, tx, &paymentdomain.PaymentMetadata{
		ID:        s.genID.Generate(),
		PaymentID: paymentID,
		Type:      metadataType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: at,
	})
}

func cancelLockKey(paymentID snowflake.ID) string {
	return "payment:cancel:" + paymentID.String()
}

var passthrough = []error{
	paymentdomain.ErrOrderNotFound,
	paymentdomain.ErrPaymentNotFound,
	paymentdomain.ErrContractNotFound,
	paymentdomain.ErrProductNotFound,
	paymentdomain.ErrMemberNotFound,
	paymentdomain.ErrAmountManipulation,
	paymentdomain.ErrAlreadyCanceled,
	paymentdomain.ErrAlreadyCompleted,
	paymentdomain.ErrInsufficientStock,
	paymentdomain.ErrGatewayConfirmationFailed,
	paymentdomain.ErrGatewayCancellationFailed,
	paymentdomain.ErrUnsupportedPaymentType,
	paymentdomain.ErrInvalidCancelAmount,
	paymentdomain.ErrInvalidCancelReason,
	paymentdomain.ErrCancellationInProgress,
	paymentdomain.ErrConcurrentModification,
	paymentdomain.ErrPaymentNotOwned,
	paymentdomain.ErrInvalidQuantity,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidReference,
	paymentdomain.ErrProcessing,
}

// processing returns domain errors as they are and folds anything else
// into ErrProcessing.
func processing(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrProcessing, err)
}

func toResponse(p *paymentdomain.Payment) *paymentdomain.PaymentResponse {
	canceled := decimal.Zero
	if p.CanceledAmount.Valid {
		canceled = p.CanceledAmount.Decimal
	}
	return &paymentdomain.PaymentResponse{
		ID:              p.ID.String(),
		PaymentType:     p.PaymentType,
		ReferenceID:     p.ReferenceID.String(),
		OrderID:         p.OrderID,
		OrderName:       p.OrderName,
		Status:          p.Status,
		TotalPrice:      p.TotalPrice,
		TotalFee:        p.TotalFee,
		CanceledAmount:  canceled,
		RemainingAmount: p.RemainingAmount(),
		PaymentDate:     p.PaymentDate,
	}
}
