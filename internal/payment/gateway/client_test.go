package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmSendsAuthAndBody(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/confirm", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paymentKey":"pk_1","status":"DONE","totalAmount":100000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test_sk", time.Second)
	res, err := c.Confirm(context.Background(), domain.GatewayConfirmRequest{
		PaymentKey: "pk_1",
		OrderID:    "order-1",
		Amount:     decimal.NewFromInt(100000),
	})
	require.NoError(t, err)

	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test_sk:")), gotAuth)
	assert.Equal(t, "pk_1", gotBody["paymentKey"])
	assert.Equal(t, "order-1", gotBody["orderId"])
	assert.EqualValues(t, 100000, gotBody["amount"])
	assert.JSONEq(t, `{"paymentKey":"pk_1","status":"DONE","totalAmount":100000}`, string(res.Raw))
}

func TestConfirmNon2xxIsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_CARD","message":"card rejected"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", time.Second).Confirm(context.Background(), domain.GatewayConfirmRequest{
		PaymentKey: "pk", OrderID: "o", Amount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayConfirmationFailed)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "INVALID_CARD", gwErr.Code)
	assert.Equal(t, "card rejected", gwErr.Message)
}

func TestCancelOmitsAmountForFullCancellation(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pk_9/cancel", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(`{"cancels":[{"transactionKey":"tx_1"},{"transactionKey":"tx_2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk", time.Second)
	partial := decimal.NewFromInt(40000)
	res, err := c.Cancel(context.Background(), "pk_9", domain.GatewayCancelRequest{Reason: "changed mind", Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, "tx_2", res.TransactionKey)

	_, err = c.Cancel(context.Background(), "pk_9", domain.GatewayCancelRequest{Reason: "changed mind"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.EqualValues(t, 40000, bodies[0]["cancelAmount"])
	_, hasAmount := bodies[1]["cancelAmount"]
	assert.False(t, hasAmount)
	assert.Equal(t, "changed mind", bodies[1]["cancelReason"])
}

func TestCancelFailureWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", time.Second).Cancel(context.Background(), "pk", domain.GatewayCancelRequest{Reason: "r"})
	assert.ErrorIs(t, err, domain.ErrGatewayCancellationFailed)
}

func TestTimeoutSurfacesAsGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", 20*time.Millisecond).Confirm(context.Background(), domain.GatewayConfirmRequest{
		PaymentKey: "pk", OrderID: "o", Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrGatewayConfirmationFailed)
}
