package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	contractdomain "github.com/smallbiznis/expertly/internal/contract/domain"
	contractrepo "github.com/smallbiznis/expertly/internal/contract/repository"
	"github.com/smallbiznis/expertly/internal/lock"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	memberrepo "github.com/smallbiznis/expertly/internal/member/repository"
	"github.com/smallbiznis/expertly/internal/migration"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/payment/registry"
	paymentrepo "github.com/smallbiznis/expertly/internal/payment/repository"
	paymentservice "github.com/smallbiznis/expertly/internal/payment/service"
	"github.com/smallbiznis/expertly/internal/payment/strategy"
	"github.com/smallbiznis/expertly/internal/payment/strategy/order"
	"github.com/smallbiznis/expertly/internal/payment/strategy/project"
	pendingstore "github.com/smallbiznis/expertly/internal/pendingorder/store"
	productdomain "github.com/smallbiznis/expertly/internal/product/domain"
	productrepo "github.com/smallbiznis/expertly/internal/product/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	clientID   = snowflake.ID(1)
	expertID   = snowflake.ID(2)
	buyerID    = snowflake.ID(3)
	contractID = snowflake.ID(42)
	productID  = snowflake.ID(7)
)

type fakeGateway struct {
	// beforeConfirm runs outside the mutex so a test can hold a call open.
	beforeConfirm func()
	afterCancel   func()

	mu         sync.Mutex
	confirms   []paymentdomain.GatewayConfirmRequest
	cancels    []paymentdomain.GatewayCancelRequest
	confirmErr error
	cancelErr  error
}

func (g *fakeGateway) Confirm(ctx context.Context, req paymentdomain.GatewayConfirmRequest) (*paymentdomain.GatewayResult, error) {
	if g.beforeConfirm != nil {
		g.beforeConfirm()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirms = append(g.confirms, req)
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	raw := fmt.Sprintf(`{"paymentKey":%q,"orderId":%q,"status":"DONE"}`, req.PaymentKey, req.OrderID)
	return &paymentdomain.GatewayResult{Raw: []byte(raw)}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, paymentKey string, req paymentdomain.GatewayCancelRequest) (*paymentdomain.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, req)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	if g.afterCancel != nil {
		g.afterCancel()
	}
	key := fmt.Sprintf("tx_%d", len(g.cancels))
	return &paymentdomain.GatewayResult{TransactionKey: key, Raw: []byte(`{"status":"CANCELED"}`)}, nil
}

type fixture struct {
	svc      paymentdomain.Service
	db       *gorm.DB
	mr       *miniredis.Miniredis
	gateway  *fakeGateway
	clock    *clock.FakeClock
	logs     *observer.ObservedLogs
	repo     paymentdomain.Repository
	products productdomain.Repository
	contract contractdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	members := memberrepo.Provide()
	contracts := contractrepo.Provide()
	products := productrepo.Provide()
	repo := paymentrepo.Provide()
	ledger := strategy.NewLedger(repo, node)
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC))

	reg := registry.New(
		project.New(project.Params{Contracts: contracts, Members: members, Ledger: ledger, Clock: fakeClock}),
		order.New(order.Params{Products: products, Stock: products, Orders: products, Ledger: ledger}),
	)

	gw := &fakeGateway{}
	core, logs := observer.New(zap.WarnLevel)

	svc := paymentservice.NewService(paymentservice.Params{
		DB:         db,
		Log:        zap.New(core),
		GenID:      node,
		Clock:      fakeClock,
		Repo:       repo,
		Registry:   reg,
		Pending:    pendingstore.NewRedisStore(client),
		Gateway:    gw,
		Members:    members,
		Locker:     lock.NewLocker(client),
		Settlement: config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
	})

	f := &fixture{
		svc:      svc,
		db:       db,
		mr:       mr,
		gateway:  gw,
		clock:    fakeClock,
		logs:     logs,
		repo:     repo,
		products: products,
		contract: contracts,
	}
	f.seed(t, members)
	return f
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func (f *fixture) seed(t *testing.T, members memberdomain.Repository) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	for _, m := range []memberdomain.Member{
		{ID: clientID, Name: "Dana Client", Email: "dana@example.com", Role: memberdomain.RoleClient},
		{ID: expertID, Name: "Eli Expert", Email: "eli@example.com", Role: memberdomain.RoleExpert},
		{ID: buyerID, Name: "Bo Buyer", Email: "bo@example.com", Role: memberdomain.RoleClient},
	} {
		m.CreatedAt, m.UpdatedAt = now, now
		if err := members.Insert(ctx, f.db, &m); err != nil {
			t.Fatalf("insert member: %v", err)
		}
	}

	if err := f.contract.Insert(ctx, f.db, &contractdomain.Contract{
		ID:        contractID,
		ClientID:  clientID,
		ExpertID:  expertID,
		Title:     "Brand identity",
		Price:     decimal.NewFromInt(100000),
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
		Status:    contractdomain.StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert contract: %v", err)
	}

	if err := f.products.Insert(ctx, f.db, &productdomain.Product{
		ID:        productID,
		SellerID:  expertID,
		Name:      "Icon pack",
		Price:     decimal.NewFromInt(500),
		Stock:     10,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}
}

func (f *fixture) stock(t *testing.T) int64 {
	t.Helper()
	p, err := f.products.FindByID(context.Background(), f.db, productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) countPayments(t *testing.T, status paymentdomain.Status) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Where("status = ?", status).Count(&n).Error)
	return n
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %d, got %s", want, got.String())
}

func TestProjectPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		PaymentType: "PROJECT",
		ReferenceID: contractID,
		PayerID:     clientID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.OrderID)
	assert.NotEmpty(t, created.CustomerKey)
	assertAmount(t, 100000, created.Amount)
	assert.Equal(t, "Brand identity", created.OrderName)
	assert.Equal(t, "Eli Expert", created.Info["expertName"])

	paid, err := f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{
		PaymentKey: "pk_project",
		OrderID:    created.OrderID,
		Amount:     dec(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, paid.Status)
	assertAmount(t, 100000, paid.TotalPrice)
	assertAmount(t, 10000, paid.TotalFee)
	assert.Equal(t, contractID.String(), paid.ReferenceID)
	assert.False(t, f.mr.Exists("payment:pending:"+created.OrderID))

	c, err := f.contract.FindByID(ctx, f.db, contractID)
	require.NoError(t, err)
	assert.Equal(t, contractdomain.StatusInProgress, c.Status)

	partial, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{
		PaymentType: "PROJECT",
		ReferenceID: contractID,
		Reason:      "scope reduced",
		Amount:      decPtr(40000),
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPartiallyCanceled, partial.Status)
	assertAmount(t, 40000, partial.CanceledAmount)
	assertAmount(t, 60000, partial.RemainingAmount)

	full, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{
		PaymentType: "PROJECT",
		ReferenceID: contractID,
		Reason:      "project dropped",
		Amount:      decPtr(60000),
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFullyCanceled, full.Status)
	assertAmount(t, 0, full.RemainingAmount)

	require.Len(t, f.gateway.cancels, 2)
	require.NotNil(t, f.gateway.cancels[0].Amount)
	assertAmount(t, 40000, *f.gateway.cancels[0].Amount)
	assert.Nil(t, f.gateway.cancels[1].Amount, "full cancellation omits the amount")

	_, err = f.svc.Cancel(ctx, paymentdomain.CancelRequest{
		PaymentType: "PROJECT",
		ReferenceID: contractID,
		Reason:      "again",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyCanceled)

	paymentID, err := snowflake.ParseString(full.ID)
	require.NoError(t, err)
	details, err := f.repo.ListCancellationDetails(ctx, f.db, paymentID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.False(t, details[0].IsFull)
	assert.True(t, details[1].IsFull)
	assert.Equal(t, "tx_2", details[1].TransactionKey)

	metadata, err := f.repo.ListMetadata(ctx, f.db, paymentID)
	require.NoError(t, err)
	types := make([]paymentdomain.MetadataType, 0, len(metadata))
	for _, m := range metadata {
		types = append(types, m.Type)
	}
	assert.ElementsMatch(t, []paymentdomain.MetadataType{
		paymentdomain.MetadataTypePayment,
		paymentdomain.MetadataTypeCancellation,
		paymentdomain.MetadataTypeCancellation,
	}, types)

	c, err = f.contract.FindByID(ctx, f.db, contractID)
	require.NoError(t, err)
	assert.Equal(t, contractdomain.StatusCanceled, c.Status)
}

func TestConfirmReplayIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	req := paymentdomain.ConfirmRequest{PaymentKey: "pk_1", OrderID: created.OrderID, Amount: dec(100000)}
	_, err = f.svc.Confirm(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, req)
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotFound)
	assert.Len(t, f.gateway.confirms, 1)
	assert.Equal(t, int64(1), f.countPayments(t, paymentdomain.StatusPaid))
}

func TestConfirmAfterExpiryIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	f.mr.FastForward(11 * time.Minute)
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_1", OrderID: created.OrderID, Amount: dec(100000)})
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotFound)
	assert.Empty(t, f.gateway.confirms)
}

func TestConfirmWithTamperedAmountKeepsEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := obscontext.WithClientInfo(context.Background(), "203.0.113.9", "curl/8.0")

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_bad", OrderID: created.OrderID, Amount: dec(999999)})
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrAmountManipulation)

	var manipulation *paymentdomain.AmountManipulationError
	require.True(t, errors.As(err, &manipulation))
	assertAmount(t, 100000, manipulation.Expected)
	assertAmount(t, 999999, manipulation.Requested)
	assert.Equal(t, "203.0.113.9", manipulation.IPAddress)
	assert.Empty(t, f.gateway.confirms)

	var stored paymentdomain.Payment
	require.NoError(t, f.db.Where("order_id = ?", created.OrderID).Take(&stored).Error)
	assert.Equal(t, paymentdomain.StatusAmountManipulated, stored.Status)
	assert.Equal(t, contractID, stored.ReferenceID)

	detail, err := f.repo.FindManipulationDetail(ctx, f.db, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assertAmount(t, 100000, detail.ExpectedAmount)
	assertAmount(t, 999999, detail.RequestedAmount)
	assert.Equal(t, "203.0.113.9", detail.IPAddress)
	assert.Equal(t, "curl/8.0", detail.UserAgent)

	metadata, err := f.repo.ListMetadata(ctx, f.db, stored.ID)
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, paymentdomain.MetadataTypeViolated, metadata[0].Type)
}

func TestOrderPaymentScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		PaymentType: "ORDER",
		ReferenceID: productID,
		PayerID:     buyerID,
		Quantity:    3,
	})
	require.NoError(t, err)
	assertAmount(t, 1500, created.Amount)
	assert.Equal(t, "Icon pack x3", created.OrderName)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_o", OrderID: created.OrderID, Amount: dec(1400)})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountManipulation)
	assert.Equal(t, int64(10), f.stock(t))

	paid, err := f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_o", OrderID: created.OrderID, Amount: dec(1500)})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, paid.Status)
	assertAmount(t, 1500, paid.TotalPrice)
	assert.Equal(t, int64(7), f.stock(t))

	orderID, err := snowflake.ParseString(paid.ReferenceID)
	require.NoError(t, err)
	var purchase productdomain.Order
	require.NoError(t, f.db.Where("id = ?", orderID).Take(&purchase).Error)
	assert.Equal(t, buyerID, purchase.BuyerID)
	assert.Equal(t, productdomain.OrderStatusPaid, purchase.Status)

	items, err := f.products.FindOrderItems(ctx, f.db, orderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].Quantity)
	assert.Equal(t, productID, items[0].ProductID)

	_, err = f.svc.CancelByOrderID(ctx, paymentdomain.CancelByOrderRequest{
		OrderID:     created.OrderID,
		Reason:      "not mine",
		RequestedBy: clientID,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotOwned)
	assert.Empty(t, f.gateway.cancels)
	assert.Equal(t, int64(7), f.stock(t))

	canceled, err := f.svc.CancelByOrderID(ctx, paymentdomain.CancelByOrderRequest{
		OrderID:     created.OrderID,
		Reason:      "damaged files",
		RequestedBy: buyerID,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFullyCanceled, canceled.Status)
	assert.Equal(t, int64(10), f.stock(t))

	require.NoError(t, f.db.Where("id = ?", orderID).Take(&purchase).Error)
	assert.Equal(t, productdomain.OrderStatusCanceled, purchase.Status)
}

func TestConfirmRejectsOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "ORDER", ReferenceID: productID, PayerID: buyerID, Quantity: 10})
	require.NoError(t, err)

	require.NoError(t, f.products.DecreaseStock(ctx, f.db, productID, 1, f.clock.Now()))

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(5000)})
	assert.ErrorIs(t, err, paymentdomain.ErrInsufficientStock)
	assert.Empty(t, f.gateway.confirms)
	assert.Equal(t, int64(9), f.stock(t))
	assert.Equal(t, int64(0), f.countPayments(t, paymentdomain.StatusPaid))
}

func TestGatewayConfirmFailureRollsBackSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.confirmErr = &paymentdomain.GatewayError{Op: paymentdomain.ErrGatewayConfirmationFailed, StatusCode: 400, Code: "REJECT_CARD_COMPANY"}

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "ORDER", ReferenceID: productID, PayerID: buyerID, Quantity: 2})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(1000)})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayConfirmationFailed)
	assert.Equal(t, int64(10), f.stock(t))
	assert.Equal(t, int64(0), f.countPayments(t, paymentdomain.StatusPaid))
	assert.True(t, f.mr.Exists("payment:pending:"+created.OrderID))
}

func TestRecordFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	err = f.svc.RecordFailure(ctx, paymentdomain.FailureRequest{
		OrderID: created.OrderID,
		Code:    "PAY_PROCESS_CANCELED",
		Message: "user closed the window",
	})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("payment:pending:"+created.OrderID))

	var stored paymentdomain.Payment
	require.NoError(t, f.db.Where("order_id = ?", created.OrderID).Take(&stored).Error)
	assert.Equal(t, paymentdomain.StatusFailed, stored.Status)
	assert.Nil(t, stored.PaymentKey)

	metadata, err := f.repo.ListMetadata(ctx, f.db, stored.ID)
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, paymentdomain.MetadataTypeFailed, metadata[0].Type)
	assert.JSONEq(t, `{"code":"PAY_PROCESS_CANCELED","message":"user closed the window"}`, string(metadata[0].Payload))

	err = f.svc.RecordFailure(ctx, paymentdomain.FailureRequest{OrderID: created.OrderID, Code: "X"})
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotFound)

	again, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err, "a failed attempt does not block a new checkout")
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_2", OrderID: again.OrderID, Amount: dec(100000)})
	require.NoError(t, err)
}

func TestRecordFailureClearsPendingWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)
	require.NoError(t, f.db.Exec("DELETE FROM contracts WHERE id = ?", contractID).Error)

	err = f.svc.RecordFailure(ctx, paymentdomain.FailureRequest{OrderID: created.OrderID, Code: "X"})
	assert.ErrorIs(t, err, paymentdomain.ErrContractNotFound)
	assert.False(t, f.mr.Exists("payment:pending:"+created.OrderID))
}

func TestCreateOrderRejectsUnsupportedTypes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, raw := range []string{"ETC", "SUBSCRIPTION", ""} {
		_, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: raw, ReferenceID: contractID, PayerID: clientID})
		assert.ErrorIs(t, err, paymentdomain.ErrUnsupportedPaymentType, raw)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "ORDER", ReferenceID: productID, PayerID: buyerID, Quantity: -1})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidQuantity)

	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "ORDER", ReferenceID: productID, PayerID: buyerID, Quantity: 11})
	assert.ErrorIs(t, err, paymentdomain.ErrInsufficientStock)

	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "ORDER", ReferenceID: 999, PayerID: buyerID})
	assert.ErrorIs(t, err, paymentdomain.ErrProductNotFound)

	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: 999, PayerID: clientID})
	assert.ErrorIs(t, err, paymentdomain.ErrContractNotFound)

	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: 999})
	assert.ErrorIs(t, err, paymentdomain.ErrMemberNotFound)
}

func TestPaidContractCannotBeCheckedOutAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_1", OrderID: first.OrderID, Amount: dec(100000)})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_2", OrderID: second.OrderID, Amount: dec(100000)})
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyCompleted)
	assert.Len(t, f.gateway.confirms, 1)

	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyCompleted)
}

func TestConcurrentConfirmsChargeContractOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	// Hold the first gateway call open while the second checkout runs.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.gateway.beforeConfirm = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	errs := make([]error, 2)
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, errs[0] = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_1", OrderID: first.OrderID, Amount: dec(100000)})
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, errs[1] = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk_2", OrderID: second.OrderID, Amount: dec(100000)})
	}()
	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
	}
	close(release)
	<-firstDone
	<-secondDone

	require.NoError(t, errs[0])
	require.Error(t, errs[1])
	assert.Len(t, f.gateway.confirms, 1)
	assert.Equal(t, "pk_1", f.gateway.confirms[0].PaymentKey)
	assert.Equal(t, int64(1), f.countPayments(t, paymentdomain.StatusPaid))

	c, err := f.contract.FindByID(ctx, f.db, contractID)
	require.NoError(t, err)
	assert.Equal(t, contractdomain.StatusInProgress, c.Status)
}

func TestGatewayConfirmFailureReleasesContract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.confirmErr = &paymentdomain.GatewayError{Op: paymentdomain.ErrGatewayConfirmationFailed, StatusCode: 400, Code: "REJECT_CARD_COMPANY"}

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(100000)})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayConfirmationFailed)

	c, err := f.contract.FindByID(ctx, f.db, contractID)
	require.NoError(t, err)
	assert.Equal(t, contractdomain.StatusPendingPayment, c.Status)

	f.gateway.confirmErr = nil
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(100000)})
	require.NoError(t, err)
}

func TestCancelByOrderIDForAnyPayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(100000)})
	require.NoError(t, err)

	res, err := f.svc.CancelByOrderID(ctx, paymentdomain.CancelByOrderRequest{
		OrderID:     created.OrderID,
		Reason:      "dispute resolved",
		Amount:      decPtr(25000),
		RequestedBy: expertID,
		AnyPayer:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPartiallyCanceled, res.Status)
	assertAmount(t, 75000, res.RemainingAmount)
}

func paidContract(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{PaymentType: "PROJECT", ReferenceID: contractID, PayerID: clientID})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{PaymentKey: "pk", OrderID: created.OrderID, Amount: dec(100000)})
	require.NoError(t, err)
}

func TestCancelRejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paidContract(t, f)

	for _, amount := range []int64{0, -5, 100001} {
		_, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: "r", Amount: decPtr(amount)})
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidCancelAmount, amount)
	}
	assert.Empty(t, f.gateway.cancels)

	_, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: " "})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidCancelReason)

	_, err = f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "ORDER", ReferenceID: contractID, Reason: "r"})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestCancelWithoutAmountIsFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paidContract(t, f)

	res, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: "r"})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFullyCanceled, res.Status)
	assertAmount(t, 100000, res.CanceledAmount)
	assert.Nil(t, f.gateway.cancels[0].Amount)
}

func TestCancelWhileLockedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paidContract(t, f)

	current, err := f.svc.GetByReference(ctx, "PROJECT", contractID)
	require.NoError(t, err)
	require.NoError(t, f.mr.Set("payment:cancel:"+current.ID, "other-instance"))

	_, err = f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: "r"})
	assert.ErrorIs(t, err, paymentdomain.ErrCancellationInProgress)
	assert.Empty(t, f.gateway.cancels)
}

func TestGatewayCancelFailureLeavesPaymentUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paidContract(t, f)
	f.gateway.cancelErr = errors.New("connection reset")

	_, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: "r", Amount: decPtr(100)})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayCancellationFailed)

	current, err := f.svc.GetByReference(ctx, "PROJECT", contractID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, current.Status)
	assertAmount(t, 0, current.CanceledAmount)
}

func TestLedgerFailureAfterGatewayCancelLogsTransactionKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	paidContract(t, f)
	f.gateway.afterCancel = func() {
		require.NoError(t, f.db.Exec("UPDATE payments SET version = version + 1 WHERE reference_id = ?", contractID).Error)
	}

	_, err := f.svc.Cancel(ctx, paymentdomain.CancelRequest{PaymentType: "PROJECT", ReferenceID: contractID, Reason: "r", Amount: decPtr(100)})
	require.Error(t, err)
	require.Len(t, f.gateway.cancels, 1)

	entries := f.logs.FilterMessage("gateway canceled but ledger write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "tx_1", fields["transaction_key"])
	assert.Equal(t, "100.00", fields["cancel_amount"])
	assert.NotEmpty(t, fields["payment_key"])

	current, err := f.svc.GetByReference(ctx, "PROJECT", contractID)
	require.NoError(t, err)
	assertAmount(t, 0, current.CanceledAmount)
}

func TestGetByReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.GetByReference(ctx, "PROJECT", contractID)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	paidContract(t, f)
	res, err := f.svc.GetByReference(ctx, "project", contractID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, res.Status)
	assertAmount(t, 100000, res.RemainingAmount)

	_, err = f.svc.GetByReference(ctx, "NOPE", contractID)
	assert.ErrorIs(t, err, paymentdomain.ErrUnsupportedPaymentType)
}
