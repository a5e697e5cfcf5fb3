package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/payment/strategy"
	pendingdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	productdomain "github.com/smallbiznis/expertly/internal/product/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Products domain.ProductLookup
	Stock    domain.StockAdjuster
	Orders   domain.OrderWriter
	Ledger   *strategy.Ledger
}

// Handler sells storefront products. The payment reference of a paid
// checkout is the order it created; failed and manipulated rows keep the
// product id.
type Handler struct {
	products domain.ProductLookup
	stock    domain.StockAdjuster
	orders   domain.OrderWriter
	ledger   *strategy.Ledger
}

func New(p Params) *Handler {
	return &Handler{
		products: p.Products,
		stock:    p.Stock,
		orders:   p.Orders,
		ledger:   p.Ledger,
	}
}

func (h *Handler) PaymentType() domain.PaymentType { return domain.PaymentTypeOrder }

func (h *Handler) product(ctx context.Context, db *gorm.DB, id snowflake.ID) (*productdomain.Product, error) {
	p, err := h.products.FindByID(ctx, db, id)
	if errors.Is(err, productdomain.ErrNotFound) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func total(p *productdomain.Product, quantity int64) decimal.Decimal {
	return domain.Round2(p.Price.Mul(decimal.NewFromInt(quantity)))
}

func orderName(p *productdomain.Product, quantity int64) string {
	if quantity <= 1 {
		return p.Name
	}
	return fmt.Sprintf("%s x%d", p.Name, quantity)
}

// Validate checks the submitted amount against price times the quantity
// recorded on the pending order.
func (h *Handler) Validate(ctx context.Context, db *gorm.DB, in domain.ValidationInput) (decimal.Decimal, error) {
	if in.Quantity < 1 {
		return decimal.Zero, domain.ErrInvalidQuantity
	}
	p, err := h.product(ctx, db, in.ReferenceID)
	if err != nil {
		return decimal.Zero, err
	}
	expected := total(p, in.Quantity)
	return expected, strategy.CheckAmount(expected, in.Requested)
}

func (h *Handler) ProvideAdditionalInfo(ctx context.Context, db *gorm.DB, referenceID snowflake.ID, quantity int64) (*domain.OrderInfo, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	p, err := h.product(ctx, db, referenceID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, domain.ErrInvalidReference
	}
	if p.Stock < quantity {
		return nil, domain.ErrInsufficientStock
	}

	return &domain.OrderInfo{
		OrderName: orderName(p, quantity),
		Amount:    total(p, quantity),
		UnitPrice: p.Price,
		Quantity:  quantity,
		PayeeID:   p.SellerID,
		Attributes: map[string]any{
			"productId":   p.ID.String(),
			"productName": p.Name,
			"unitPrice":   p.Price.StringFixed(2),
			"quantity":    quantity,
			"stock":       p.Stock,
		},
	}, nil
}

// ApplySideEffects reserves stock with a conditional update, so concurrent
// confirms on other instances cannot oversell.
func (h *Handler) ApplySideEffects(ctx context.Context, tx *gorm.DB, pending pendingdomain.PendingOrder) error {
	if pending.Quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	err := h.stock.DecreaseStock(ctx, tx, pending.ReferenceID, pending.Quantity, time.Now().UTC())
	if errors.Is(err, productdomain.ErrInsufficientStock) {
		return domain.ErrInsufficientStock
	}
	return err
}

func (h *Handler) SavePayment(ctx context.Context, tx *gorm.DB, in domain.SaveInput) (*domain.Payment, error) {
	p, err := h.product(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}
	quantity := in.Pending.Quantity
	amount := domain.Round2(in.Amount)

	purchase := &productdomain.Order{
		ID:          h.ledger.NextID(),
		BuyerID:     in.Pending.PayerID,
		SellerID:    p.SellerID,
		TotalAmount: amount,
		Status:      productdomain.OrderStatusPaid,
		CreatedAt:   in.PaidAt,
		UpdatedAt:   in.PaidAt,
	}
	item := productdomain.OrderItem{
		ID:        h.ledger.NextID(),
		OrderID:   purchase.ID,
		ProductID: p.ID,
		Quantity:  quantity,
		UnitPrice: p.Price,
		CreatedAt: in.PaidAt,
	}
	if err := h.orders.CreateOrder(ctx, tx, purchase, []productdomain.OrderItem{item}); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	info := &domain.OrderInfo{OrderName: orderName(p, quantity), PayeeID: p.SellerID}
	payment := h.ledger.NewPayment(in.Pending, info, amount, domain.StatusPaid)
	key := in.PaymentKey
	payment.PaymentKey = &key
	payment.ReferenceID = purchase.ID
	payment.TotalFee = domain.Round2(in.Fee)
	payment.PaymentDate = in.PaidAt

	detail := domain.PaymentDetail{
		Name:      p.Name,
		Quantity:  quantity,
		UnitPrice: p.Price,
		Amount:    amount,
	}
	if err := h.ledger.Record(ctx, tx, payment, detail); err != nil {
		return nil, err
	}
	return payment, nil
}

func (h *Handler) SaveFailedPayment(ctx context.Context, tx *gorm.DB, in domain.FailureInput) (*domain.Payment, error) {
	p, err := h.product(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}
	info := &domain.OrderInfo{
		OrderName: orderName(p, in.Pending.Quantity),
		Amount:    total(p, in.Pending.Quantity),
		PayeeID:   p.SellerID,
	}
	return h.ledger.RecordFailure(ctx, tx, in, info)
}

func (h *Handler) SaveManipulatedPayment(ctx context.Context, tx *gorm.DB, in domain.ManipulationInput) (*domain.Payment, error) {
	p, err := h.product(ctx, tx, in.Pending.ReferenceID)
	if err != nil {
		return nil, err
	}
	info := &domain.OrderInfo{OrderName: orderName(p, in.Pending.Quantity), PayeeID: p.SellerID}
	return h.ledger.RecordManipulation(ctx, tx, in, info)
}

// OnCanceled restocks the order items and closes the order after a full
// cancellation. Partial cancellations are price adjustments only.
func (h *Handler) OnCanceled(ctx context.Context, tx *gorm.DB, payment *domain.Payment, plan domain.CancellationPlan) error {
	if !plan.Full {
		return nil
	}
	items, err := h.orders.FindOrderItems(ctx, tx, payment.ReferenceID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := h.stock.IncreaseStock(ctx, tx, item.ProductID, item.Quantity, payment.UpdatedAt); err != nil {
			return fmt.Errorf("restock product %s: %w", item.ProductID, err)
		}
	}
	return h.orders.MarkOrderCanceled(ctx, tx, payment.ReferenceID, payment.UpdatedAt)
}

var (
	_ domain.TypeHandler         = (*Handler)(nil)
	_ domain.CancellationHandler = (*Handler)(nil)
)
