package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/expertly/internal/authorization"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
)

// referenceID accepts the id as a JSON number or string.
type referenceID string

func (r *referenceID) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		raw = json.Number(text)
	}
	*r = referenceID(strings.TrimSpace(raw.String()))
	return nil
}

type createOrderRequest struct {
	PaymentType string      `json:"paymentType"`
	ReferenceID referenceID `json:"referenceId"`
	Quantity    int64       `json:"quantity"`
}

type cancelPaymentRequest struct {
	OrderID      string           `json:"orderId"`
	CancelReason string           `json:"cancelReason"`
	CancelAmount *decimal.Decimal `json:"cancelAmount"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	payerID, ok := memberIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	refID, err := parseID(string(req.ReferenceID))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidReference)
		return
	}
	c.Set("payment_type", strings.ToUpper(strings.TrimSpace(req.PaymentType)))

	resp, err := s.paymentSvc.CreateOrder(c.Request.Context(), paymentdomain.CreateOrderRequest{
		PaymentType: req.PaymentType,
		ReferenceID: refID,
		PayerID:     payerID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmPayment handles the gateway success redirect.
func (s *Server) ConfirmPayment(c *gin.Context) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Query("amount")))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidAmount)
		return
	}

	resp, err := s.paymentSvc.Confirm(c.Request.Context(), paymentdomain.ConfirmRequest{
		PaymentKey: strings.TrimSpace(c.Query("paymentKey")),
		OrderID:    strings.TrimSpace(c.Query("orderId")),
		Amount:     amount,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("payment_type", string(resp.PaymentType))
	c.JSON(http.StatusOK, resp)
}

// FailPayment handles the gateway failure redirect.
func (s *Server) FailPayment(c *gin.Context) {
	req := paymentdomain.FailureRequest{
		OrderID: strings.TrimSpace(c.Query("orderId")),
		Code:    strings.TrimSpace(c.Query("code")),
		Message: strings.TrimSpace(c.Query("message")),
	}
	if err := s.paymentSvc.RecordFailure(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId": req.OrderID,
		"status":  paymentdomain.StatusFailed,
		"code":    req.Code,
		"message": req.Message,
	})
}

// CancelPayment cancels the caller's own payment. Admins holding the
// cancel_any grant may cancel any payment.
func (s *Server) CancelPayment(c *gin.Context) {
	memberID, ok := memberIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req cancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor := fmt.Sprintf("member:%s", memberID)
	anyPayer := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectPayment, authorization.ActionPaymentCancelAny) == nil

	resp, err := s.paymentSvc.CancelByOrderID(c.Request.Context(), paymentdomain.CancelByOrderRequest{
		OrderID:     strings.TrimSpace(req.OrderID),
		Reason:      strings.TrimSpace(req.CancelReason),
		Amount:      req.CancelAmount,
		RequestedBy: memberID,
		AnyPayer:    anyPayer,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("payment_type", string(resp.PaymentType))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPaymentByReference(c *gin.Context) {
	refID, err := parseID(c.Param("referenceId"))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidReference)
		return
	}

	resp, err := s.paymentSvc.GetByReference(c.Request.Context(), c.Param("paymentType"), refID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
