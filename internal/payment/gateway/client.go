package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/payment/domain"
)

const maxResponseBytes = 1 << 20

// Client talks to the card gateway's confirm and cancel endpoints. Calls
// are bounded by the configured timeout and never retried.
type Client struct {
	baseURL    string
	authHeader string
	client     *http.Client
}

func New(cfg config.Config) domain.Gateway {
	return NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(strings.TrimSpace(secretKey)+":")),
		client:     &http.Client{Timeout: timeout},
	}
}

type confirmBody struct {
	PaymentKey string      `json:"paymentKey"`
	OrderID    string      `json:"orderId"`
	Amount     json.Number `json:"amount"`
}

type cancelBody struct {
	CancelReason string      `json:"cancelReason"`
	CancelAmount json.Number `json:"cancelAmount,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cancelResponse struct {
	Cancels []struct {
		TransactionKey string `json:"transactionKey"`
	} `json:"cancels"`
}

func (c *Client) Confirm(ctx context.Context, req domain.GatewayConfirmRequest) (*domain.GatewayResult, error) {
	body := confirmBody{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     json.Number(domain.Round2(req.Amount).String()),
	}
	raw, err := c.post(ctx, "/v1/payments/confirm", body, domain.ErrGatewayConfirmationFailed)
	if err != nil {
		return nil, err
	}
	return &domain.GatewayResult{Raw: raw}, nil
}

// Cancel leaves cancelAmount out of the body for a full cancellation.
func (c *Client) Cancel(ctx context.Context, paymentKey string, req domain.GatewayCancelRequest) (*domain.GatewayResult, error) {
	body := cancelBody{CancelReason: req.Reason}
	if req.Amount != nil {
		body.CancelAmount = json.Number(domain.Round2(*req.Amount).String())
	}
	path := "/v1/payments/" + url.PathEscape(paymentKey) + "/cancel"
	raw, err := c.post(ctx, path, body, domain.ErrGatewayCancellationFailed)
	if err != nil {
		return nil, err
	}

	result := &domain.GatewayResult{Raw: raw}
	var parsed cancelResponse
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Cancels) > 0 {
		result.TransactionKey = parsed.Cancels[len(parsed.Cancels)-1].TransactionKey
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, op error) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		gwErr := &domain.GatewayError{Op: op, StatusCode: resp.StatusCode}
		var parsed errorBody
		if json.Unmarshal(raw, &parsed) == nil {
			gwErr.Code = parsed.Code
			gwErr.Message = parsed.Message
		}
		return nil, gwErr
	}

	if !json.Valid(raw) {
		raw, _ = json.Marshal(string(raw))
	}
	return json.RawMessage(raw), nil
}
